package interfaces

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"market-optimizer/internal/pricing/application"
)

// ExportMeta describes the range and threshold a cycle report was built for.
type ExportMeta struct {
	Start       time.Time
	End         time.Time
	Threshold   float64
	IsTestData  bool
	GeneratedAt time.Time
}

var cycleColumns = []string{
	"Cycle", "Date", "Charge", "Discharge",
	"Charge Price (EUR/kWh)", "Discharge Price (EUR/kWh)", "Difference",
	"Profit (EUR)", "Profit after losses (EUR)", "Profit Tier",
}

// BuildCyclesXLSX renders a summary sheet and a cycles sheet.
func BuildCyclesXLSX(view application.CycleView, meta ExportMeta) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	summarySheet := "summary"
	cyclesSheet := "cycles"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(cyclesSheet); err != nil {
		return nil, err
	}

	_ = f.SetCellValue(summarySheet, "A1", "Arbitrage Cycles")
	_ = f.SetCellValue(summarySheet, "A3", "Period")
	_ = f.SetCellValue(summarySheet, "B3", periodLabel(meta))
	_ = f.SetCellValue(summarySheet, "A4", "Threshold (EUR)")
	_ = f.SetCellValue(summarySheet, "B4", meta.Threshold)
	_ = f.SetCellValue(summarySheet, "A5", "Test data")
	_ = f.SetCellValue(summarySheet, "B5", meta.IsTestData)
	if view.Summary != nil {
		_ = f.SetCellValue(summarySheet, "A6", "Cycles")
		_ = f.SetCellValue(summarySheet, "B6", view.Summary.Count)
		_ = f.SetCellValue(summarySheet, "A7", "Total Profit (EUR)")
		_ = f.SetCellValue(summarySheet, "B7", view.Summary.TotalProfit)
		_ = f.SetCellValue(summarySheet, "A8", "Average Profit (EUR)")
		_ = f.SetCellValue(summarySheet, "B8", view.Summary.AvgProfit)
		_ = f.SetCellValue(summarySheet, "A9", "Best Cycle")
		_ = f.SetCellValue(summarySheet, "B9", view.Summary.MaxProfitCycle.Date.Display())
	} else {
		_ = f.SetCellValue(summarySheet, "A6", view.Message)
	}

	for i, name := range cycleColumns {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		_ = f.SetCellValue(cyclesSheet, cell, name)
	}
	for i, row := range view.Rows {
		r := i + 2
		values := []any{
			row.Number, row.Date, row.ChargeTime, row.DischargeTime,
			row.ChargePrice, row.DischargePrice, row.PriceDifference,
			row.Profit, row.ProfitAfterLosses, string(row.ProfitTier),
		}
		for c, v := range values {
			cell, err := excelize.CoordinatesToCellName(c+1, r)
			if err != nil {
				return nil, err
			}
			_ = f.SetCellValue(cyclesSheet, cell, v)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildCyclesPDF renders a one-table PDF report.
func BuildCyclesPDF(view application.CycleView, meta ExportMeta) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Arbitrage Cycles")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Period: %s", periodLabel(meta)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Threshold (EUR): %s", FormatCurrency(meta.Threshold)))
	pdf.Ln(5)
	if meta.IsTestData {
		pdf.Cell(0, 6, "Source: synthetic test data")
		pdf.Ln(5)
	}
	if !meta.GeneratedAt.IsZero() {
		pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", meta.GeneratedAt.Format(time.RFC3339)))
		pdf.Ln(5)
	}
	pdf.Ln(3)
	if view.Summary == nil {
		pdf.Cell(0, 6, tr(view.Message))
		return outputPDF(pdf)
	}
	pdf.Cell(0, 6, fmt.Sprintf("Cycles: %d   Total profit: %s EUR   Average: %s EUR",
		view.Summary.Count, FormatCurrency(view.Summary.TotalProfit), FormatCurrency(view.Summary.AvgProfit)))
	pdf.Ln(8)

	widths := []float64{14, 24, 18, 20, 36, 40, 22, 24, 40, 22}
	pdf.SetFont("Arial", "B", 9)
	for i, name := range cycleColumns {
		pdf.CellFormat(widths[i], 6, name, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for _, row := range view.Rows {
		cells := []string{
			fmt.Sprintf("%d", row.Number), row.Date, row.ChargeTime, row.DischargeTime,
			FormatNumber(row.ChargePrice), FormatNumber(row.DischargePrice), FormatNumber(row.PriceDifference),
			FormatCurrency(row.Profit), FormatCurrency(row.ProfitAfterLosses), string(row.ProfitTier),
		}
		for i, text := range cells {
			align := "R"
			if i < 4 || i == len(cells)-1 {
				align = "C"
			}
			pdf.CellFormat(widths[i], 6, tr(text), "1", 0, align, false, 0, "")
		}
		pdf.Ln(-1)
	}
	return outputPDF(pdf)
}

func outputPDF(pdf *gofpdf.Fpdf) ([]byte, error) {
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func periodLabel(meta ExportMeta) string {
	if meta.Start.IsZero() && meta.End.IsZero() {
		return "uploaded data"
	}
	return meta.Start.Format("02.01.2006") + " - " + meta.End.Format("02.01.2006")
}
