package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// ExecutionContext is a key-value store persisted with a step execution.
// Readers and writers keep their restart state here.
type ExecutionContext map[string]interface{}

// NewExecutionContext creates a new empty ExecutionContext.
func NewExecutionContext() ExecutionContext {
	return make(ExecutionContext)
}

// Value implements driver.Valuer, converting the ExecutionContext to a JSON string.
func (ec ExecutionContext) Value() (driver.Value, error) {
	if ec == nil {
		return "{}", nil
	}
	data, err := json.Marshal(ec)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner, converting a JSON string to an ExecutionContext.
func (ec *ExecutionContext) Scan(value interface{}) error {
	b, err := scanBytes(value, "ExecutionContext")
	if err != nil {
		return err
	}
	*ec = make(ExecutionContext)
	if len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, ec); err != nil {
		return fmt.Errorf("failed to unmarshal ExecutionContext JSON: %w", err)
	}
	return nil
}

// Put sets a value in the ExecutionContext with the specified key and value.
func (ec ExecutionContext) Put(key string, value interface{}) {
	ec[key] = value
}

// Get retrieves the value for the specified key.
func (ec ExecutionContext) Get(key string) (interface{}, bool) {
	val, ok := ec[key]
	return val, ok
}

// GetString retrieves the value for the specified key as a string.
func (ec ExecutionContext) GetString(key string) (string, bool) {
	val, ok := ec[key]
	if !ok {
		return "", false
	}
	str, ok := val.(string)
	return str, ok
}

// GetInt64 retrieves the value for the specified key as an int64.
// Numbers read back from JSON arrive as float64 and are converted.
func (ec ExecutionContext) GetInt64(key string) (int64, bool) {
	switch v := ec[key].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case json.Number:
		i, err := v.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}

// Copy creates a shallow copy of the ExecutionContext.
func (ec ExecutionContext) Copy() ExecutionContext {
	newEC := make(ExecutionContext, len(ec))
	for k, v := range ec {
		newEC[k] = v
	}
	return newEC
}

// FailureList holds a list of error messages.
type FailureList []string

// Value implements driver.Valuer, converting FailureList to a JSON string.
func (fl FailureList) Value() (driver.Value, error) {
	if fl == nil {
		return "[]", nil
	}
	data, err := json.Marshal(fl)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner, converting a JSON string to FailureList.
func (fl *FailureList) Scan(value interface{}) error {
	b, err := scanBytes(value, "FailureList")
	if err != nil {
		return err
	}
	*fl = make(FailureList, 0)
	if len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, fl); err != nil {
		return fmt.Errorf("failed to unmarshal FailureList JSON: %w", err)
	}
	return nil
}

func scanBytes(value interface{}, typeName string) ([]byte, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("unsupported Scan type for %s: %T", typeName, value)
	}
}
