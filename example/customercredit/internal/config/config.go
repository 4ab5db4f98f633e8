// Package config holds the application settings that sit beside the framework configuration.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	coreConfig "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
)

// DefaultIncreaseAmount is the credit added to every processed customer when none is configured.
const DefaultIncreaseAmount = 10.0

// CreditConfig configures the credit transformers. It is read from the top-level "credit" key
// of application.yaml.
type CreditConfig struct {
	// IncreaseAmount is added to the credit of every processed customer. It must not be negative:
	// a record selected by "credit > X" has to stay selected after the update.
	IncreaseAmount float64 `yaml:"increase_amount"`
	// MinimumCredit drops customers whose credit is not above it. Zero disables the check.
	MinimumCredit float64 `yaml:"minimum_credit"`
}

type document struct {
	Credit CreditConfig `yaml:"credit"`
}

// LoadCreditConfig reads the credit section of the embedded YAML after placeholder expansion.
// CREDIT_INCREASE_AMOUNT and CREDIT_MINIMUM_CREDIT override the file.
func LoadCreditConfig(embedded coreConfig.EmbeddedConfig, expander coreConfig.EnvironmentExpander) (CreditConfig, error) {
	doc := document{Credit: CreditConfig{IncreaseAmount: DefaultIncreaseAmount}}
	if expander == nil {
		expander = coreConfig.NewOsEnvironmentExpander()
	}
	expanded, err := expander.Expand(embedded)
	if err != nil {
		return CreditConfig{}, fmt.Errorf("failed to expand credit configuration: %w", err)
	}
	if err := yaml.Unmarshal(expanded, &doc); err != nil {
		return CreditConfig{}, fmt.Errorf("failed to unmarshal credit configuration: %w", err)
	}

	overrides := map[string]*float64{
		"CREDIT_INCREASE_AMOUNT": &doc.Credit.IncreaseAmount,
		"CREDIT_MINIMUM_CREDIT":  &doc.Credit.MinimumCredit,
	}
	for env, target := range overrides {
		raw, ok := os.LookupEnv(env)
		if !ok {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return CreditConfig{}, fmt.Errorf("invalid value for %s: %w", env, err)
		}
		*target = v
	}

	if doc.Credit.IncreaseAmount < 0 {
		return CreditConfig{}, fmt.Errorf("credit.increase_amount must not be negative, got %v", doc.Credit.IncreaseAmount)
	}
	return doc.Credit, nil
}
