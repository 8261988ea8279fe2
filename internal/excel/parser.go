package excel

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"mindleap-provisioning/pkg/errors"

	"github.com/xuri/excelize/v2"
)

// ParsingStrategy turns an uploaded file into rows of cells. Row 0 is the
// header row.
type ParsingStrategy interface {
	Parse(ctx context.Context, data []byte) ([][]string, error)
}

// StrategyFor picks a parser from the upload's file extension.
func StrategyFor(fileName string) (ParsingStrategy, error) {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".xlsx", ".xlsm":
		return &XLSXStrategy{}, nil
	case ".csv":
		return &CSVStrategy{}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported extension %q", errors.ErrInvalidFileFormat, filepath.Ext(fileName))
	}
}

type XLSXStrategy struct{}

func (s *XLSXStrategy) Parse(ctx context.Context, data []byte) ([][]string, error) {
	file, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open Excel file: %v", errors.ErrInvalidFileFormat, err)
	}
	defer file.Close()

	// Only the first worksheet is read
	sheets := file.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.ErrInvalidFileFormat
	}

	rows, err := file.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to get rows: %w", err)
	}
	return rows, nil
}

type CSVStrategy struct{}

func (s *CSVStrategy) Parse(ctx context.Context, data []byte) ([][]string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var rows [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errors.ErrInvalidFileFormat, err)
		}
		rows = append(rows, record)
	}
	return rows, nil
}
