package export

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/warp/coverage-engine/tariff"
	"github.com/warp/coverage-engine/tariff/store"
)

func seed(t *testing.T) *store.Memory {
	t.Helper()
	ctx := context.Background()
	m := store.NewMemory()
	maxPay := decimal.NewFromInt(30000)
	validTo := time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)

	_, err := m.CreatePlan(ctx, tariff.Plan{ID: "primary", Name: "Primary Care", Deductible: decimal.NewFromInt(50000), CoveragePercent: decimal.NewFromInt(80), IsActive: true})
	require.NoError(t, err)
	_, err = m.CreatePlan(ctx, tariff.Plan{ID: "supp", Name: "Top-up", CoveragePercent: decimal.NewFromInt(50), MaxPayment: &maxPay, IsActive: true})
	require.NoError(t, err)
	_, err = m.CreateService(ctx, tariff.Service{ID: "mri", Name: "MRI Scan", Price: decimal.NewFromInt(200000), IsActive: true})
	require.NoError(t, err)

	_, err = m.AddTariff(ctx, tariff.Tariff{
		ID: "t1", ServiceID: "mri", PlanID: "supp", PrimaryPlanID: "primary",
		TotalPrice: decimal.NewFromInt(200000), InsurerShare: decimal.NewFromInt(150000), PatientShare: decimal.NewFromInt(50000),
		CoverageType: tariff.CoverageSupplementary, Priority: tariff.PrioritySupplementary, IsActive: true,
		ValidFrom: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), ValidTo: &validTo,
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), CreatedBy: "alice",
	})
	require.NoError(t, err)
	return m
}

func readSheet(t *testing.T, data []byte, name string) [][]string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "schedule.xlsx")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	sheet, ok := f.Sheet[name]
	require.True(t, ok, "sheet %s missing", name)

	var rows [][]string
	for _, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for i, c := range row.Cells {
			cells[i] = c.String()
		}
		rows = append(rows, cells)
	}
	return rows
}

func TestExport_TariffSchedule(t *testing.T) {
	// GIVEN: One combination tariff for an MRI
	// WHEN: The schedule is exported
	// THEN: The Tariffs sheet resolves names and renders money at scale 2

	var buf bytes.Buffer
	err := NewExporter(seed(t), 2).Export(context.Background(), &buf, tariff.TariffFilter{})
	require.NoError(t, err)

	rows := readSheet(t, buf.Bytes(), SheetTariffs)
	require.Len(t, rows, 2)
	assert.Equal(t, TariffHeader, rows[0])
	assert.Equal(t, []string{
		"t1", "mri", "MRI Scan", "supp", "Top-up", "primary",
		"supplementary", "2", "200000.00", "150000.00", "50000.00",
		"yes", "2026-01-01", "2026-12-31", "2026-01-02T03:04:05Z", "alice",
	}, rows[1])
}

func TestExport_PlansSheetCountsTariffs(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewExporter(seed(t), 2).Export(context.Background(), &buf, tariff.TariffFilter{}))

	rows := readSheet(t, buf.Bytes(), SheetPlans)
	require.Len(t, rows, 3)
	assert.Equal(t, PlanHeader, rows[0])
	assert.Equal(t, []string{"primary", "Primary Care", "50000.00", "80", "", "yes", "0"}, rows[1])
	assert.Equal(t, []string{"supp", "Top-up", "0.00", "50", "30000.00", "yes", "1"}, rows[2])
}

func TestExport_FilterLeavesHeaderOnly(t *testing.T) {
	var buf bytes.Buffer
	err := NewExporter(seed(t), 2).Export(context.Background(), &buf, tariff.TariffFilter{PlanID: "primary"})
	require.NoError(t, err)

	rows := readSheet(t, buf.Bytes(), SheetTariffs)
	assert.Len(t, rows, 1)
}

type failingSource struct{ *store.Memory }

func (failingSource) ListTariffs(context.Context, tariff.TariffFilter) ([]tariff.Tariff, error) {
	return nil, errors.New("db down")
}

func TestExport_SourceError(t *testing.T) {
	var buf bytes.Buffer
	err := NewExporter(failingSource{store.NewMemory()}, 2).Export(context.Background(), &buf, tariff.TariffFilter{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "export: list tariffs")
	assert.Zero(t, buf.Len())
}
