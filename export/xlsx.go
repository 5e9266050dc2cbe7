/*
Package export renders tariff schedules as spreadsheets.

PURPOSE:
  Billing staff review tariff schedules in Excel. The exporter writes one
  workbook with a "Tariffs" sheet (one row per tariff, plan and service
  names resolved) and a "Plans" sheet summarising each plan's terms.

FORMATS:
  Money is written as text fixed to the currency scale so the sheet shows
  exactly what is stored. Dates are ISO-8601 (UTC).

SEE ALSO:
  - api/handlers.go: GET /api/tariffs/export.xlsx
*/
package export

import (
	"context"
	"io"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/tealeg/xlsx/v2"

	"github.com/warp/coverage-engine/tariff"
)

// Sheet names.
const (
	SheetTariffs = "Tariffs"
	SheetPlans   = "Plans"
)

// TariffHeader is the header row of the Tariffs sheet.
var TariffHeader = []string{
	"Tariff ID", "Service ID", "Service", "Plan ID", "Plan", "Primary Plan ID",
	"Coverage Type", "Priority", "Total Price", "Insurer Share", "Patient Share",
	"Active", "Valid From", "Valid To", "Created At", "Created By",
}

// PlanHeader is the header row of the Plans sheet.
var PlanHeader = []string{"Plan ID", "Plan", "Deductible", "Coverage %", "Max Payment", "Active", "Tariffs"}

// Source is what the exporter reads from.
type Source interface {
	ListPlans(ctx context.Context) ([]tariff.Plan, error)
	ListServices(ctx context.Context) ([]tariff.Service, error)
	ListTariffs(ctx context.Context, f tariff.TariffFilter) ([]tariff.Tariff, error)
}

// Exporter builds tariff schedule workbooks.
type Exporter struct {
	src   Source
	scale int32
}

// NewExporter creates an Exporter. scale is the number of decimal places
// money is rendered with.
func NewExporter(src Source, scale int32) *Exporter {
	return &Exporter{src: src, scale: scale}
}

// Export writes the workbook for tariffs matching f to w.
func (e *Exporter) Export(ctx context.Context, w io.Writer, f tariff.TariffFilter) error {
	file, err := e.Build(ctx, f)
	if err != nil {
		return err
	}
	if err := file.Write(w); err != nil {
		return eris.Wrap(err, "xlsx: write workbook")
	}
	return nil
}

// Build assembles the workbook in memory.
func (e *Exporter) Build(ctx context.Context, f tariff.TariffFilter) (*xlsx.File, error) {
	plans, err := e.src.ListPlans(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "export: list plans")
	}
	services, err := e.src.ListServices(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "export: list services")
	}
	tariffs, err := e.src.ListTariffs(ctx, f)
	if err != nil {
		return nil, eris.Wrap(err, "export: list tariffs")
	}

	planNames := make(map[string]string, len(plans))
	for _, p := range plans {
		planNames[p.ID] = p.Name
	}
	serviceNames := make(map[string]string, len(services))
	for _, s := range services {
		serviceNames[s.ID] = s.Name
	}

	file := xlsx.NewFile()

	sheet, err := file.AddSheet(SheetTariffs)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: add tariffs sheet")
	}
	addRow(sheet, TariffHeader...)
	perPlan := make(map[string]int, len(plans))
	for _, t := range tariffs {
		perPlan[t.PlanID]++
		addRow(sheet,
			t.ID,
			t.ServiceID,
			serviceNames[t.ServiceID],
			t.PlanID,
			planNames[t.PlanID],
			t.PrimaryPlanID,
			string(t.CoverageType),
			strconv.Itoa(t.Priority),
			e.money(t.TotalPrice),
			e.money(t.InsurerShare),
			e.money(t.PatientShare),
			yesNo(t.IsActive),
			formatDate(t.ValidFrom),
			formatOptionalDate(t.ValidTo),
			t.CreatedAt.UTC().Format(time.RFC3339),
			t.CreatedBy,
		)
	}

	sheet, err = file.AddSheet(SheetPlans)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: add plans sheet")
	}
	addRow(sheet, PlanHeader...)
	for _, p := range plans {
		maxPayment := ""
		if p.MaxPayment != nil {
			maxPayment = e.money(*p.MaxPayment)
		}
		addRow(sheet,
			p.ID,
			p.Name,
			e.money(p.Deductible),
			p.CoveragePercent.String(),
			maxPayment,
			yesNo(p.IsActive),
			strconv.Itoa(perPlan[p.ID]),
		)
	}

	return file, nil
}

func (e *Exporter) money(d decimal.Decimal) string {
	return d.StringFixed(e.scale)
}

func addRow(sheet *xlsx.Sheet, values ...string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02")
}

func formatOptionalDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatDate(*t)
}
