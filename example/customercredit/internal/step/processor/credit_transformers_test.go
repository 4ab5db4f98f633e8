package processor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appConfig "github.com/tigerroll/chunkbatch/example/customercredit/internal/config"
	"github.com/tigerroll/chunkbatch/example/customercredit/internal/domain/entity"
)

func TestCreditIncreaseTransformer_DoesNotMutateInput(t *testing.T) {
	in := entity.CustomerCredit{ID: 2, Name: "customer2", Credit: 150}
	out, err := NewCreditIncreaseTransformer(10).Transform(context.Background(), in)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, 160.0, out.Credit)
	assert.Equal(t, int64(2), out.ID)
	assert.Equal(t, 150.0, in.Credit)
}

func TestMinimumCreditTransformer_FiltersAtOrBelowMinimum(t *testing.T) {
	tr := NewMinimumCreditTransformer(100)
	ctx := context.Background()

	out, err := tr.Transform(ctx, entity.CustomerCredit{ID: 1, Credit: 100})
	require.NoError(t, err)
	assert.Nil(t, out)

	out, err = tr.Transform(ctx, entity.CustomerCredit{ID: 2, Credit: 100.5})
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, 100.5, out.Credit)
}

func TestNewCustomerCreditTransformer(t *testing.T) {
	ctx := context.Background()

	plain := NewCustomerCreditTransformer(appConfig.CreditConfig{IncreaseAmount: 10})
	out, err := plain.Transform(ctx, entity.CustomerCredit{ID: 1, Credit: 50})
	require.NoError(t, err)
	assert.Equal(t, 60.0, out.Credit)

	composed := NewCustomerCreditTransformer(appConfig.CreditConfig{IncreaseAmount: 10, MinimumCredit: 100})
	out, err = composed.Transform(ctx, entity.CustomerCredit{ID: 1, Credit: 50})
	require.NoError(t, err)
	assert.Nil(t, out)

	out, err = composed.Transform(ctx, entity.CustomerCredit{ID: 2, Credit: 150})
	require.NoError(t, err)
	assert.Equal(t, 160.0, out.Credit)
}
