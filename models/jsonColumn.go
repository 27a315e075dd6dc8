package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// NumberMap is a json column holding per-rule numeric settings
// (threshold, variancePercent, historicalCount, minimumAmount).
type NumberMap map[string]float64

func (m NumberMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *NumberMap) Scan(value interface{}) error {
	return scanJSONColumn(value, m)
}

// DetailsMap is a json column holding the human-readable trigger context of a
// flag (amounts, thresholds, percentages involved).
type DetailsMap map[string]interface{}

func (m DetailsMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *DetailsMap) Scan(value interface{}) error {
	return scanJSONColumn(value, m)
}

func scanJSONColumn(value interface{}, dest interface{}) error {
	if value == nil {
		return nil
	}
	switch v := value.(type) {
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dest)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("unsupported json column type %T", value)
	}
}
