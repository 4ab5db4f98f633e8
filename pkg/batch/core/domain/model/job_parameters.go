package model

import (
	"crypto/sha256"
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
)

// ParameterType is the declared type of a job parameter value.
type ParameterType string

const (
	ParameterTypeString ParameterType = "STRING"
	ParameterTypeLong   ParameterType = "LONG"
	ParameterTypeDouble ParameterType = "DOUBLE"
	ParameterTypeBool   ParameterType = "BOOLEAN"
	ParameterTypeDate   ParameterType = "DATE"
)

// JobParameter is one typed launch parameter.
type JobParameter struct {
	Type  ParameterType `json:"type"`
	Value interface{}   `json:"value"`
}

// UnmarshalJSON restores the Go type of Value from the declared Type.
func (p *JobParameter) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type  ParameterType   `json:"type"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.Type = raw.Type
	switch raw.Type {
	case ParameterTypeString:
		var s string
		if err := json.Unmarshal(raw.Value, &s); err != nil {
			return err
		}
		p.Value = s
	case ParameterTypeLong:
		var i int64
		if err := json.Unmarshal(raw.Value, &i); err != nil {
			return err
		}
		p.Value = i
	case ParameterTypeDouble:
		var f float64
		if err := json.Unmarshal(raw.Value, &f); err != nil {
			return err
		}
		p.Value = f
	case ParameterTypeBool:
		var b bool
		if err := json.Unmarshal(raw.Value, &b); err != nil {
			return err
		}
		p.Value = b
	case ParameterTypeDate:
		var t time.Time
		if err := json.Unmarshal(raw.Value, &t); err != nil {
			return err
		}
		p.Value = t.UTC()
	default:
		return fmt.Errorf("unknown job parameter type '%s'", raw.Type)
	}
	return nil
}

// JobParameters is the immutable, typed parameter set of a job launch.
// Together with the job name it identifies a job instance.
// Use JobParametersBuilder to create one.
type JobParameters struct {
	params map[string]JobParameter
}

// NewJobParameters returns an empty parameter set.
func NewJobParameters() JobParameters {
	return JobParameters{params: map[string]JobParameter{}}
}

// JobParametersBuilder accumulates typed parameters.
type JobParametersBuilder struct {
	params map[string]JobParameter
}

// NewJobParametersBuilder creates an empty builder.
func NewJobParametersBuilder() *JobParametersBuilder {
	return &JobParametersBuilder{params: map[string]JobParameter{}}
}

// NewJobParametersBuilderFrom creates a builder holding a copy of params.
func NewJobParametersBuilderFrom(params JobParameters) *JobParametersBuilder {
	b := NewJobParametersBuilder()
	for k, v := range params.params {
		b.params[k] = v
	}
	return b
}

// AddString adds a STRING parameter.
func (b *JobParametersBuilder) AddString(key, value string) *JobParametersBuilder {
	b.params[key] = JobParameter{Type: ParameterTypeString, Value: value}
	return b
}

// AddLong adds a LONG parameter.
func (b *JobParametersBuilder) AddLong(key string, value int64) *JobParametersBuilder {
	b.params[key] = JobParameter{Type: ParameterTypeLong, Value: value}
	return b
}

// AddDouble adds a DOUBLE parameter.
func (b *JobParametersBuilder) AddDouble(key string, value float64) *JobParametersBuilder {
	b.params[key] = JobParameter{Type: ParameterTypeDouble, Value: value}
	return b
}

// AddBool adds a BOOLEAN parameter.
func (b *JobParametersBuilder) AddBool(key string, value bool) *JobParametersBuilder {
	b.params[key] = JobParameter{Type: ParameterTypeBool, Value: value}
	return b
}

// AddDate adds a DATE parameter. The value is normalised to UTC.
func (b *JobParametersBuilder) AddDate(key string, value time.Time) *JobParametersBuilder {
	b.params[key] = JobParameter{Type: ParameterTypeDate, Value: value.UTC()}
	return b
}

// AddFromString parses "name(type)=value" (type defaults to string) and adds the result.
// Supported types are string, long, double, boolean and date (RFC3339).
func (b *JobParametersBuilder) AddFromString(s string) error {
	name, value, ok := strings.Cut(s, "=")
	if !ok || name == "" {
		return fmt.Errorf("invalid job parameter '%s': expected name(type)=value", s)
	}
	typ := "string"
	if open := strings.Index(name, "("); open > 0 && strings.HasSuffix(name, ")") {
		typ = strings.ToLower(name[open+1 : len(name)-1])
		name = name[:open]
	}
	switch typ {
	case "string":
		b.AddString(name, value)
	case "long", "int":
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("job parameter '%s': %w", name, err)
		}
		b.AddLong(name, i)
	case "double", "float":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("job parameter '%s': %w", name, err)
		}
		b.AddDouble(name, f)
	case "boolean", "bool":
		v, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("job parameter '%s': %w", name, err)
		}
		b.AddBool(name, v)
	case "date":
		t, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return fmt.Errorf("job parameter '%s': %w", name, err)
		}
		b.AddDate(name, t)
	default:
		return fmt.Errorf("job parameter '%s': unknown type '%s'", name, typ)
	}
	return nil
}

// ToJobParameters returns an immutable copy of the accumulated parameters.
func (b *JobParametersBuilder) ToJobParameters() JobParameters {
	out := make(map[string]JobParameter, len(b.params))
	for k, v := range b.params {
		out[k] = v
	}
	return JobParameters{params: out}
}

// Len returns the number of parameters.
func (jp JobParameters) Len() int {
	return len(jp.params)
}

// Names returns the parameter names in sorted order.
func (jp JobParameters) Names() []string {
	names := make([]string, 0, len(jp.params))
	for k := range jp.params {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Get returns the typed parameter for key.
func (jp JobParameters) Get(key string) (JobParameter, bool) {
	p, ok := jp.params[key]
	return p, ok
}

// GetString retrieves a STRING parameter.
func (jp JobParameters) GetString(key string) (string, bool) {
	s, ok := jp.params[key].Value.(string)
	return s, ok
}

// GetLong retrieves a LONG parameter.
func (jp JobParameters) GetLong(key string) (int64, bool) {
	i, ok := jp.params[key].Value.(int64)
	return i, ok
}

// GetDouble retrieves a DOUBLE parameter. LONG parameters are widened.
func (jp JobParameters) GetDouble(key string) (float64, bool) {
	switch v := jp.params[key].Value.(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// GetBool retrieves a BOOLEAN parameter.
func (jp JobParameters) GetBool(key string) (bool, bool) {
	b, ok := jp.params[key].Value.(bool)
	return b, ok
}

// GetDate retrieves a DATE parameter.
func (jp JobParameters) GetDate(key string) (time.Time, bool) {
	t, ok := jp.params[key].Value.(time.Time)
	return t, ok
}

// MarshalJSON encodes the parameters. encoding/json sorts map keys, so the output is canonical.
func (jp JobParameters) MarshalJSON() ([]byte, error) {
	if jp.params == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(jp.params)
}

// UnmarshalJSON decodes parameters previously encoded by MarshalJSON.
func (jp *JobParameters) UnmarshalJSON(data []byte) error {
	params := map[string]JobParameter{}
	if err := json.Unmarshal(data, &params); err != nil {
		return err
	}
	jp.params = params
	return nil
}

// Value implements driver.Valuer, converting JobParameters to a JSON string.
func (jp JobParameters) Value() (driver.Value, error) {
	data, err := jp.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner, converting a JSON string to JobParameters.
func (jp *JobParameters) Scan(value interface{}) error {
	b, err := scanBytes(value, "JobParameters")
	if err != nil {
		return err
	}
	if len(b) == 0 {
		jp.params = map[string]JobParameter{}
		return nil
	}
	if err := jp.UnmarshalJSON(b); err != nil {
		return fmt.Errorf("failed to unmarshal JobParameters JSON: %w", err)
	}
	return nil
}

// Hash returns the parameter fingerprint: the sha256 of the canonical JSON encoding.
func (jp JobParameters) Hash() (string, error) {
	data, err := jp.MarshalJSON()
	if err != nil {
		return "", exception.NewBatchError("job_parameters", "failed to marshal JobParameters for hash calculation", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Equal reports whether both sets hold the same names, types and values.
func (jp JobParameters) Equal(other JobParameters) bool {
	a, errA := jp.MarshalJSON()
	b, errB := other.MarshalJSON()
	return errA == nil && errB == nil && string(a) == string(b)
}

// String returns a JSON rendering of the parameters with sensitive values masked.
func (jp JobParameters) String() string {
	masked := make(map[string]interface{}, len(jp.params))
	for k, v := range jp.params {
		masked[k] = v.Value
	}
	for _, key := range config.GetMaskedParameterKeys() {
		if _, ok := masked[key]; ok {
			masked[key] = "********"
		}
	}
	data, err := json.Marshal(masked)
	if err != nil {
		return fmt.Sprintf("{[ERROR: failed to marshal masked parameters: %v]}", err)
	}
	return string(data)
}
