package excel

import (
	"fmt"

	"mindleap-provisioning/internal/model"

	"github.com/xuri/excelize/v2"
)

const sheetName = "Sheet1"

// TemplateHeaders is the column order of the downloadable upload template.
var TemplateHeaders = []string{
	"State Code", "District Code", "School Code", "Student Name",
	"Class", "Gender", "Age", "Parent Name", "WhatsApp Number", "Email", "Address",
}

var reportHeaders = []string{
	"Row", "Student Name", "Student ID", "Email", "Password", "Status", "Error",
}

var errorHeaders = []string{"Row", "Student Name", "Field", "Message"}

// StudentTemplate builds the upload template with one example row.
func StudentTemplate() ([]byte, error) {
	return writeSheet(TemplateHeaders, [][]interface{}{
		{"ML", "03", "007", "Asha Sangma", "9", "Female", 14, "Rina Sangma", "9876543210", "", "Tura, West Garo Hills"},
	})
}

// OutcomeReport lists the result of every processed row, including the
// one-time passwords handed to the operator.
func OutcomeReport(result model.BatchResult) ([]byte, error) {
	rows := make([][]interface{}, 0, len(result.Outcomes)+2)
	for _, o := range result.Outcomes {
		rows = append(rows, []interface{}{o.Row, o.Name, o.StudentID, o.Email, o.Password, string(o.Status), o.Error})
	}
	rows = append(rows,
		[]interface{}{},
		[]interface{}{"", "Succeeded", result.SuccessCount, "", "", "Failed", result.FailureCount},
	)
	return writeSheet(reportHeaders, rows)
}

// ErrorReport lists validation errors so the operator can fix the file.
func ErrorReport(errs []model.RowError) ([]byte, error) {
	rows := make([][]interface{}, 0, len(errs))
	for _, e := range errs {
		rows = append(rows, []interface{}{e.Row, e.Name, e.Field, e.Message})
	}
	return writeSheet(errorHeaders, rows)
}

func writeSheet(headers []string, rows [][]interface{}) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	header := make([]interface{}, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}

	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		r := row
		if err := f.SetSheetRow(sheetName, cell, &r); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	lastCol, err := excelize.ColumnNumberToName(len(headers))
	if err != nil {
		return nil, err
	}
	if err := f.SetColWidth(sheetName, "A", lastCol, 18); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to encode workbook: %w", err)
	}
	return buf.Bytes(), nil
}
