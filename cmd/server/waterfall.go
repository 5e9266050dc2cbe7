package main

import (
	"encoding/json"
	"io"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/coverage-engine/api"
	"github.com/warp/coverage-engine/coverage"
	"github.com/warp/coverage-engine/factory"
)

var (
	waterfallAmount string
	waterfallLayers string
	waterfallAt     string
)

var waterfallCmd = &cobra.Command{
	Use:   "waterfall",
	Short: "Compute a coverage waterfall from a layers file and print it as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWaterfall(cmd.OutOrStdout(), waterfallAmount, waterfallLayers, waterfallAt, cfg.Coverage.CurrencyScale, time.Now)
	},
}

func runWaterfall(out io.Writer, amount, layersPath, at string, scale int32, now func() time.Time) error {
	serviceAmount, err := decimal.NewFromString(amount)
	if err != nil {
		return eris.Wrapf(err, "parse --amount %q", amount)
	}

	evaluationTime := now()
	if at != "" {
		evaluationTime, err = time.Parse(time.RFC3339, at)
		if err != nil {
			return eris.Wrapf(err, "parse --at %q", at)
		}
	}

	set, err := factory.NewLayerFactory().Load(layersPath)
	if err != nil {
		return err
	}
	layers, global := set.Build()

	engine := coverage.NewEngine(
		coverage.WithLogger(zap.L()),
		coverage.WithClock(now),
		coverage.WithScale(scale),
	)
	result, err := engine.Compute(serviceAmount, layers, evaluationTime, global)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(api.NewWaterfallDTO(result))
}

func init() {
	waterfallCmd.Flags().StringVar(&waterfallAmount, "amount", "", "service amount, e.g. 1250.00")
	waterfallCmd.Flags().StringVar(&waterfallLayers, "layers", "", "layer definitions (.json, .yaml or .yml)")
	waterfallCmd.Flags().StringVar(&waterfallAt, "at", "", "evaluation time, RFC3339 (default now)")
	_ = waterfallCmd.MarkFlagRequired("amount")
	_ = waterfallCmd.MarkFlagRequired("layers")
	rootCmd.AddCommand(waterfallCmd)
}
