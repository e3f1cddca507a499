package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/feilong2k/codemaestro/internal/application/port"
)

// SheetName is the worksheet holding the outcome statistics
const SheetName = "Outcomes"

var headers = []string{"Workflow", "Total", "Successes", "Failures", "Success Rate", "Last Outcome", "Top Failures"}

// ExcelReport renders workflow outcome statistics as an xlsx workbook.
// Implements port.ReportWriter.
type ExcelReport struct {
	logger *zap.Logger
}

// NewExcelReport creates a new ExcelReport
func NewExcelReport(logger *zap.Logger) *ExcelReport {
	return &ExcelReport{logger: logger}
}

// WriteOutcomeReport writes one row per workflow to w
func (r *ExcelReport) WriteOutcomeReport(w io.Writer, stats []port.WorkflowStats) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	rateStyle, err := f.NewStyle(&excelize.Style{NumFmt: 10}) // 0.00%
	if err != nil {
		return fmt.Errorf("failed to create rate style: %w", err)
	}

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		r.setCell(f, cell, h)
	}
	lastHeader, _ := excelize.CoordinatesToCellName(len(headers), 1)
	if err := f.SetCellStyle(SheetName, "A1", lastHeader, headerStyle); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}

	for i, s := range stats {
		row := i + 2
		lastOutcome := ""
		if !s.LastOutcome.IsZero() {
			lastOutcome = s.LastOutcome.Format("2006-01-02 15:04:05")
		}
		values := []interface{}{
			s.WorkflowID,
			s.Total,
			s.Successes,
			s.Failures,
			s.SuccessRate,
			lastOutcome,
			strings.Join(s.TopFailures, ", "),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			r.setCell(f, cell, v)
		}

		rateCell, _ := excelize.CoordinatesToCellName(5, row)
		if err := f.SetCellStyle(SheetName, rateCell, rateCell, rateStyle); err != nil {
			return fmt.Errorf("failed to style success rate: %w", err)
		}
	}

	if err := f.SetColWidth(SheetName, "A", "A", 28); err != nil {
		return fmt.Errorf("failed to set column width: %w", err)
	}
	if err := f.SetColWidth(SheetName, "G", "G", 48); err != nil {
		return fmt.Errorf("failed to set column width: %w", err)
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}

	r.logger.Info("Outcome report written", zap.Int("workflows", len(stats)))
	return nil
}

// setCell sets a cell value, logging failures
func (r *ExcelReport) setCell(f *excelize.File, cell string, value interface{}) {
	if err := f.SetCellValue(SheetName, cell, value); err != nil {
		r.logger.Warn("Failed to set cell value",
			zap.String("cell", cell),
			zap.Error(err))
	}
}

// Verify interface compliance
var _ port.ReportWriter = (*ExcelReport)(nil)
