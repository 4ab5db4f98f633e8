// Package processor provides the record transformers of the customer credit job.
package processor

import (
	"context"

	item "github.com/tigerroll/chunkbatch/pkg/batch/component/item"
	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"

	appConfig "github.com/tigerroll/chunkbatch/example/customercredit/internal/config"
	"github.com/tigerroll/chunkbatch/example/customercredit/internal/domain/entity"
)

// CreditIncreaseTransformer adds a fixed amount to the credit of every customer.
type CreditIncreaseTransformer struct {
	amount float64
}

// NewCreditIncreaseTransformer creates a CreditIncreaseTransformer adding amount.
func NewCreditIncreaseTransformer(amount float64) *CreditIncreaseTransformer {
	return &CreditIncreaseTransformer{amount: amount}
}

// Transform implements port.RecordTransformer. The input is left untouched.
func (t *CreditIncreaseTransformer) Transform(ctx context.Context, in entity.CustomerCredit) (*entity.CustomerCredit, error) {
	out := in
	out.Credit += t.amount
	return &out, nil
}

// MinimumCreditTransformer filters out customers whose credit is not above a minimum.
type MinimumCreditTransformer struct {
	minimum float64
}

// NewMinimumCreditTransformer creates a MinimumCreditTransformer.
func NewMinimumCreditTransformer(minimum float64) *MinimumCreditTransformer {
	return &MinimumCreditTransformer{minimum: minimum}
}

// Transform implements port.RecordTransformer. A nil result filters the record.
func (t *MinimumCreditTransformer) Transform(ctx context.Context, in entity.CustomerCredit) (*entity.CustomerCredit, error) {
	if in.Credit <= t.minimum {
		return nil, nil
	}
	out := in
	return &out, nil
}

// NewCustomerCreditTransformer builds the transformer configured by cfg: the minimum credit check,
// when enabled, runs before the increase.
func NewCustomerCreditTransformer(cfg appConfig.CreditConfig) port.RecordTransformer[entity.CustomerCredit, entity.CustomerCredit] {
	increase := NewCreditIncreaseTransformer(cfg.IncreaseAmount)
	if cfg.MinimumCredit <= 0 {
		return increase
	}
	return item.NewCompositeTransformer[entity.CustomerCredit](NewMinimumCreditTransformer(cfg.MinimumCredit), increase)
}

var (
	_ port.RecordTransformer[entity.CustomerCredit, entity.CustomerCredit] = (*CreditIncreaseTransformer)(nil)
	_ port.RecordTransformer[entity.CustomerCredit, entity.CustomerCredit] = (*MinimumCreditTransformer)(nil)
)
