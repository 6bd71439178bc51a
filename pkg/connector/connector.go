package connector

import (
	"errors"
	"strings"

	"github.com/priceloom/feedgate/pkg/common/models"
)

// Connector parses one feed format into the canonical flat record shape.
// One implementation exists per format; all of them resolve fields through
// the same ordered alias lists so a product expressed in CSV, XML and JSON
// normalizes identically.
type Connector interface {
	Format() string
	Parse(content string) ([]models.ParsedRecord, error)
}

type ParseError struct {
	Format string
	Err    error
}

func (e ParseError) Error() string {
	return "parsing " + e.Format + " feed: " + e.Err.Error()
}

func (e ParseError) Unwrap() error {
	return e.Err
}

func IsParseError(err error) bool {
	var pe ParseError
	return errors.As(err, &pe)
}

// Detect sniffs the payload format from the leading non-whitespace
// character: '<' is XML, '[' or '{' is JSON, anything else is CSV.
func Detect(content string) string {
	trimmed := strings.TrimLeftFunc(content, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\uFEFF'
	})
	if trimmed == "" {
		return models.FormatCSV
	}
	switch trimmed[0] {
	case '<':
		return models.FormatXML
	case '[', '{':
		return models.FormatJSON
	default:
		return models.FormatCSV
	}
}

// ForFormat returns the connector for an explicit format name.
func ForFormat(format string) (Connector, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case models.FormatCSV:
		return &CSVConnector{}, nil
	case models.FormatXML:
		return &XMLConnector{}, nil
	case models.FormatJSON:
		return &JSONConnector{}, nil
	default:
		return nil, errors.New("unsupported feed format: " + format)
	}
}

// ForContent sniffs the payload and returns a matching connector.
func ForContent(content string) Connector {
	c, _ := ForFormat(Detect(content))
	return c
}
