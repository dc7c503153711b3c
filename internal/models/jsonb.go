package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// JSONB is a JSON object column (jsonb on PostgreSQL, text elsewhere)
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	raw, err := rawBytes(value)
	if err != nil || raw == nil {
		*j = nil
		return err
	}
	if len(raw) == 0 {
		*j = make(JSONB)
		return nil
	}

	result := make(JSONB)
	if err := json.Unmarshal(raw, &result); err != nil {
		return err
	}
	*j = result
	return nil
}

// StringArray is a list of strings stored as a JSON array
type StringArray []string

// Value implements the driver.Valuer interface
func (s StringArray) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(s))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface. Besides JSON arrays it accepts
// the PostgreSQL array literal {a,b,c} found in imported rows.
func (s *StringArray) Scan(value interface{}) error {
	raw, err := rawBytes(value)
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		*s = StringArray{}
		return nil
	}

	var result []string
	if err := json.Unmarshal(raw, &result); err != nil {
		str := string(raw)
		if len(str) < 2 || str[0] != '{' || str[len(str)-1] != '}' {
			return err
		}
		result = splitArrayLiteral(str[1 : len(str)-1])
	}
	*s = result
	return nil
}

func rawBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("unsupported JSON column type %T", value)
	}
}

func splitArrayLiteral(s string) []string {
	result := []string{}
	if s == "" {
		return result
	}

	var current strings.Builder
	inQuotes := false
	for _, c := range s {
		switch {
		case c == '"':
			inQuotes = !inQuotes
		case c == ',' && !inQuotes:
			result = append(result, current.String())
			current.Reset()
		default:
			current.WriteRune(c)
		}
	}
	return append(result, current.String())
}
