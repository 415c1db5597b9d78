package api

import (
	"fmt"
	"time"

	"bookingsync/internal/models"

	"github.com/xuri/excelize/v2"
)

const (
	xlsxContentType  = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	deadLetterSheet  = "Dead letters"
	exportTimeLayout = "2006-01-02 15:04:05"
)

var deadLetterColumns = []string{
	"Job ID", "Integration", "Event", "Operation", "Attempts", "Max attempts", "Last error", "Failed at (UTC)",
}

// deadLetterWorkbook renders parked jobs as a single-sheet workbook for operators.
func deadLetterWorkbook(jobs []models.SyncJob) (*excelize.File, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(deadLetterSheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)
	_ = f.DeleteSheet("Sheet1")

	for i, title := range deadLetterColumns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(deadLetterSheet, cell, title)
	}
	header, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	last, _ := excelize.CoordinatesToCellName(len(deadLetterColumns), 1)
	_ = f.SetCellStyle(deadLetterSheet, "A1", last, header)

	for i := range jobs {
		job := &jobs[i]
		row := []interface{}{
			job.ID,
			job.IntegrationID,
			deref(job.EventID),
			job.Operation,
			job.RetryCount,
			job.MaxAttempts,
			deref(job.LastError),
			job.UpdatedAt.UTC().Format(exportTimeLayout),
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(deadLetterSheet, cell, &row); err != nil {
			f.Close()
			return nil, fmt.Errorf("error writing row %d: %w", i+2, err)
		}
	}

	_ = f.SetColWidth(deadLetterSheet, "A", "C", 38)
	_ = f.SetColWidth(deadLetterSheet, "G", "G", 60)
	_ = f.SetColWidth(deadLetterSheet, "H", "H", 20)
	return f, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// exportStamp is used in export file names.
func exportStamp(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
