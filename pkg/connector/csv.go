package connector

import (
	"encoding/csv"
	"errors"
	"io"
	"strings"

	"github.com/priceloom/feedgate/pkg/common/models"
)

// CSVConnector handles comma and pipe delimited feeds. A header row is
// required; quoting is relaxed because affiliate exports routinely mix
// quoted and unquoted cells on the same row.
type CSVConnector struct{}

func (c *CSVConnector) Format() string {
	return models.FormatCSV
}

func (c *CSVConnector) Parse(content string) ([]models.ParsedRecord, error) {
	reader := csv.NewReader(strings.NewReader(content))
	reader.Comma = detectDelimiter(content)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, ParseError{Format: models.FormatCSV, Err: errors.New("missing header row")}
	}

	var records []models.ParsedRecord
	rowIndex := 0
	for {
		fields, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, ParseError{Format: models.FormatCSV, Err: err}
		}

		r := newRow()
		for i, value := range fields {
			if i >= len(header) {
				break
			}
			r.set(header[i], value)
		}
		records = append(records, buildRecord(r, rowIndex))
		rowIndex++
	}

	return records, nil
}

func detectDelimiter(content string) rune {
	if strings.ContainsRune(content, '|') {
		return '|'
	}
	return ','
}
