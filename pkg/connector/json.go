package connector

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/priceloom/feedgate/pkg/common/models"
)

// JSONConnector accepts a top-level array of objects, or an object carrying
// the array under a "products" or "items" key.
type JSONConnector struct{}

var jsonArrayKeys = []string{"products", "items"}

func (c *JSONConnector) Format() string {
	return models.FormatJSON
}

func (c *JSONConnector) Parse(content string) ([]models.ParsedRecord, error) {
	var payload interface{}
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return nil, ParseError{Format: models.FormatJSON, Err: err}
	}

	items, err := extractArray(payload)
	if err != nil {
		return nil, ParseError{Format: models.FormatJSON, Err: err}
	}

	var records []models.ParsedRecord
	for rowIndex, item := range items {
		obj, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		r := newRow()
		for key, value := range obj {
			r.set(key, stringifyJSONValue(value))
		}
		records = append(records, buildRecord(r, rowIndex))
	}

	return records, nil
}

func extractArray(payload interface{}) ([]interface{}, error) {
	if arr, ok := payload.([]interface{}); ok {
		return arr, nil
	}
	obj, ok := payload.(map[string]interface{})
	if !ok {
		return nil, errors.New("expected array or object payload")
	}
	for _, key := range jsonArrayKeys {
		if arr, ok := obj[key].([]interface{}); ok {
			return arr, nil
		}
	}
	return nil, errors.New("no products or items array found")
}

func stringifyJSONValue(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return ""
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return strings.TrimSpace(string(encoded))
	}
}
