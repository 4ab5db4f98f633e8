package config

import (
	"os"
)

// EnvironmentExpander expands environment variable placeholders (${VAR} or $VAR)
// in raw configuration bytes before they are parsed.
type EnvironmentExpander interface {
	Expand(input []byte) ([]byte, error)
}

// OsEnvironmentExpander implements EnvironmentExpander with os.ExpandEnv.
// Unset variables expand to the empty string.
type OsEnvironmentExpander struct{}

// NewOsEnvironmentExpander creates and returns a new instance of OsEnvironmentExpander.
func NewOsEnvironmentExpander() *OsEnvironmentExpander {
	return &OsEnvironmentExpander{}
}

// Expand uses os.ExpandEnv on the input. The returned error is always nil.
func (e *OsEnvironmentExpander) Expand(input []byte) ([]byte, error) {
	return []byte(os.ExpandEnv(string(input))), nil
}
