package connector

import (
	"encoding/xml"
	"errors"
	"io"
	"strings"

	"github.com/priceloom/feedgate/pkg/common/models"
)

// XMLConnector handles the two feed shapes seen in the wild:
// <products><product>...</product></products> and
// <datafeed><item>...</item></datafeed>. Each child element of a product
// node becomes a raw column, so alias resolution is shared with the other
// connectors.
type XMLConnector struct{}

var xmlRecordElements = map[string]struct{}{
	"product": {},
	"item":    {},
}

func (c *XMLConnector) Format() string {
	return models.FormatXML
}

func (c *XMLConnector) Parse(content string) ([]models.ParsedRecord, error) {
	decoder := xml.NewDecoder(strings.NewReader(content))
	decoder.Strict = false

	var records []models.ParsedRecord
	rowIndex := 0

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, ParseError{Format: models.FormatXML, Err: err}
		}

		start, ok := token.(xml.StartElement)
		if !ok {
			continue
		}
		name := strings.ToLower(start.Name.Local)
		if _, isRecord := xmlRecordElements[name]; !isRecord {
			continue
		}

		r, err := decodeXMLRecord(decoder, start)
		if err != nil {
			return nil, ParseError{Format: models.FormatXML, Err: err}
		}
		records = append(records, buildRecord(r, rowIndex))
		rowIndex++
	}

	if records == nil && !strings.Contains(strings.ToLower(content), "<product") && !strings.Contains(strings.ToLower(content), "<item") {
		return nil, ParseError{Format: models.FormatXML, Err: errors.New("no product or item elements found")}
	}

	return records, nil
}

// decodeXMLRecord consumes one product/item element, collecting each child
// element's character data under the child's name.
func decodeXMLRecord(decoder *xml.Decoder, start xml.StartElement) (row, error) {
	r := newRow()
	var currentField string
	var text strings.Builder

	for {
		token, err := decoder.Token()
		if err != nil {
			return nil, err
		}

		switch t := token.(type) {
		case xml.StartElement:
			currentField = t.Name.Local
			text.Reset()
		case xml.CharData:
			if currentField != "" {
				text.Write(t)
			}
		case xml.EndElement:
			if t.Name.Local == start.Name.Local {
				return r, nil
			}
			if currentField != "" && t.Name.Local == currentField {
				r.set(currentField, strings.TrimSpace(text.String()))
				currentField = ""
				text.Reset()
			}
		}
	}
}
