/*
Package factory converts declarative layer definitions into coverage types.

PURPOSE:
  Coverage layers and their adjustment settings arrive from outside the
  engine: API request bodies, YAML files handed to the CLI, demo scenarios.
  The factory turns those documents into coverage.CoverageLayer values and
  converts the free-form settings maps into the closed AdjustmentSettings
  set at the boundary.

DOCUMENT SCHEMA (JSON or YAML):
  layers:
    - insurance_id: primary
      priority: 1
      percentage: 80        # 0 = cover the full remaining amount
      min_amount: 100       # optional floor
      max_amount: 500000    # optional cap
      settings:             # optional, see ParseAdjustmentSettings
        multiplier: 1.5
        discountPercent: 10
        timeLimitHours: 72
  global_settings:          # optional, keyed by insurance_id
    primary:
      discountPercent: 5

  Amounts may be written as numbers or strings; strings are parsed exactly.

WHAT THE FACTORY DOES NOT DO:
  Range checks on layers (percentage, negative floors, empty ids) belong
  to the engine, which skips bad layers instead of rejecting the request.
  The factory only rejects documents it cannot read.

USAGE:
  f := factory.NewLayerFactory()
  set, err := f.Load("layers.yaml")
  layers, global := set.Build()
  result, err := engine.Compute(amount, layers, at, global)

SEE ALSO:
  - coverage/types.go: CoverageLayer
  - settings.go: Raw settings conversion
*/
package factory

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/warp/coverage-engine/coverage"
)

// =============================================================================
// DOCUMENT TYPES
// =============================================================================

// LayerSet is a document describing the layers for one computation.
type LayerSet struct {
	Layers         []LayerSpec               `json:"layers" yaml:"layers"`
	GlobalSettings map[string]map[string]any `json:"global_settings,omitempty" yaml:"global_settings,omitempty"`
}

// LayerSpec is the serialized form of a coverage.CoverageLayer.
type LayerSpec struct {
	InsuranceID string         `json:"insurance_id" yaml:"insurance_id"`
	Priority    int            `json:"priority" yaml:"priority"`
	Percentage  Amount         `json:"percentage" yaml:"percentage"`
	MinAmount   *Amount        `json:"min_amount,omitempty" yaml:"min_amount,omitempty"`
	MaxAmount   *Amount        `json:"max_amount,omitempty" yaml:"max_amount,omitempty"`
	Settings    map[string]any `json:"settings,omitempty" yaml:"settings,omitempty"`
}

// Amount is a decimal that decodes from either a JSON/YAML number or a
// string.
type Amount struct {
	decimal.Decimal
}

// NewAmount wraps d.
func NewAmount(d decimal.Decimal) Amount { return Amount{Decimal: d} }

func (a *Amount) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	return a.Decimal.UnmarshalJSON(data)
}

func (a *Amount) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return eris.Errorf("line %d: amount must be a scalar", node.Line)
	}
	d, err := decimal.NewFromString(strings.TrimSpace(node.Value))
	if err != nil {
		return eris.Wrapf(err, "line %d: invalid amount %q", node.Line, node.Value)
	}
	a.Decimal = d
	return nil
}

func (a Amount) MarshalYAML() (any, error) {
	return a.Decimal.String(), nil
}

// =============================================================================
// LAYER FACTORY
// =============================================================================

// LayerFactory reads layer documents.
type LayerFactory struct{}

// NewLayerFactory creates a new layer factory.
func NewLayerFactory() *LayerFactory {
	return &LayerFactory{}
}

// ParseJSON decodes a JSON layer document. Numbers inside settings maps
// are kept as json.Number so they convert exactly.
func (f *LayerFactory) ParseJSON(data []byte) (*LayerSet, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	dec.DisallowUnknownFields()

	var set LayerSet
	if err := dec.Decode(&set); err != nil {
		return nil, eris.Wrap(err, "failed to parse layers JSON")
	}
	return &set, nil
}

// ParseYAML decodes a YAML layer document.
func (f *LayerFactory) ParseYAML(data []byte) (*LayerSet, error) {
	var set LayerSet
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&set); err != nil {
		return nil, eris.Wrap(err, "failed to parse layers YAML")
	}
	return &set, nil
}

// Load reads a layer document from disk. The format follows the file
// extension: .json, or .yaml/.yml.
func (f *LayerFactory) Load(path string) (*LayerSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read layers file %s", path)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return f.ParseJSON(data)
	case ".yaml", ".yml":
		return f.ParseYAML(data)
	default:
		return nil, eris.Errorf("unsupported layers file extension %q (want .json, .yaml or .yml)", filepath.Ext(path))
	}
}

// =============================================================================
// CONVERSION
// =============================================================================

// Build converts the document into engine inputs. The global map is nil
// when the document has no global settings.
func (s *LayerSet) Build() ([]coverage.CoverageLayer, map[string]coverage.AdjustmentSettings) {
	layers := make([]coverage.CoverageLayer, 0, len(s.Layers))
	for _, ls := range s.Layers {
		layers = append(layers, ls.ToLayer())
	}

	var global map[string]coverage.AdjustmentSettings
	if len(s.GlobalSettings) > 0 {
		global = make(map[string]coverage.AdjustmentSettings, len(s.GlobalSettings))
		for id, raw := range s.GlobalSettings {
			global[id] = ParseAdjustmentSettings(raw)
		}
	}
	return layers, global
}

// ToLayer converts one spec. A layer without a settings map gets nil
// CustomSettings so global settings can apply to it.
func (ls LayerSpec) ToLayer() coverage.CoverageLayer {
	layer := coverage.CoverageLayer{
		InsuranceID: ls.InsuranceID,
		Priority:    ls.Priority,
		Percentage:  ls.Percentage.Decimal,
	}
	if ls.MinAmount != nil {
		d := ls.MinAmount.Decimal
		layer.MinAmount = &d
	}
	if ls.MaxAmount != nil {
		d := ls.MaxAmount.Decimal
		layer.MaxAmount = &d
	}
	if ls.Settings != nil {
		settings := ParseAdjustmentSettings(ls.Settings)
		layer.CustomSettings = &settings
	}
	return layer
}

// FromLayer is the inverse of ToLayer.
func FromLayer(layer coverage.CoverageLayer) LayerSpec {
	ls := LayerSpec{
		InsuranceID: layer.InsuranceID,
		Priority:    layer.Priority,
		Percentage:  NewAmount(layer.Percentage),
	}
	if layer.MinAmount != nil {
		a := NewAmount(*layer.MinAmount)
		ls.MinAmount = &a
	}
	if layer.MaxAmount != nil {
		a := NewAmount(*layer.MaxAmount)
		ls.MaxAmount = &a
	}
	if layer.CustomSettings != nil {
		ls.Settings = SettingsToMap(*layer.CustomSettings)
	}
	return ls
}
