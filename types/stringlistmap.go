package types

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// JSONStringListMap defined JSON data type, need to implements driver.Valuer, sql.Scanner interface
type JSONStringListMap map[string][]string

// Value return json value, implement driver.Valuer interface
func (m JSONStringListMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	ba, err := m.MarshalJSON()
	return string(ba), err
}

// Scan scan value into the map, implements sql.Scanner interface
func (m *JSONStringListMap) Scan(val interface{}) error {
	var ba []byte
	switch v := val.(type) {
	case []byte:
		ba = v
	case string:
		ba = []byte(v)
	default:
		return errors.New(fmt.Sprint("Failed to unmarshal JSONB value:", val))
	}
	t := map[string][]string{}
	err := json.Unmarshal(ba, &t)
	*m = JSONStringListMap(t)
	return err
}

// MarshalJSON to output non base64 encoded []byte
func (m JSONStringListMap) MarshalJSON() ([]byte, error) {
	if m == nil {
		return []byte("null"), nil
	}
	t := (map[string][]string)(m)
	return json.Marshal(t)
}

// UnmarshalJSON to deserialize []byte
func (m *JSONStringListMap) UnmarshalJSON(b []byte) error {
	t := map[string][]string{}
	err := json.Unmarshal(b, &t)
	*m = JSONStringListMap(t)
	return err
}

// GormDataType gorm common data type
func (m JSONStringListMap) GormDataType() string {
	return "jsonstringlistmap"
}

// GormDBDataType gorm db data type
func (JSONStringListMap) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	switch db.Dialector.Name() {
	case "sqlite":
		return "JSON"
	case "mysql":
		return "JSON"
	case "postgres":
		return "JSONB"
	}
	return ""
}
