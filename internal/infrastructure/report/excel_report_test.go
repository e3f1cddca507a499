package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/feilong2k/codemaestro/internal/application/port"
)

func TestWriteOutcomeReport(t *testing.T) {
	stats := []port.WorkflowStats{
		{
			WorkflowID:  "tdd",
			Total:       3,
			Successes:   2,
			Failures:    1,
			SuccessRate: 0.6667,
			LastOutcome: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
			TopFailures: []string{"timeout", "lint"},
		},
		{WorkflowID: "deploy"},
	}

	var buf bytes.Buffer
	require.NoError(t, NewExcelReport(zap.NewNop()).WriteOutcomeReport(&buf, stats))

	f, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{SheetName}, f.GetSheetList())

	rows, err := f.GetRows(SheetName)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, headers, rows[0])
	assert.Equal(t, "tdd", rows[1][0])
	assert.Equal(t, "3", rows[1][1])
	assert.Equal(t, "2026-03-01 10:00:00", rows[1][5])
	assert.Equal(t, "timeout, lint", rows[1][6])
	assert.Equal(t, "deploy", rows[2][0])

	raw, err := f.GetCellValue(SheetName, "E2", excelize.Options{RawCellValue: true})
	require.NoError(t, err)
	assert.Equal(t, "0.6667", raw)
}

func TestWriteOutcomeReport_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewExcelReport(zap.NewNop()).WriteOutcomeReport(&buf, nil))
	assert.NotZero(t, buf.Len())
}
