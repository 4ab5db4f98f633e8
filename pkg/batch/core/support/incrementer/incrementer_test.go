package incrementer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
)

func TestRunIDIncrementer(t *testing.T) {
	inc := NewRunIDIncrementer("")
	params := model.NewJobParametersBuilder().AddDouble("credit", 100).ToJobParameters()

	first := inc.GetNext(params)
	id, ok := first.GetLong(DefaultRunIDName)
	require.True(t, ok)
	assert.Equal(t, int64(1), id)
	credit, ok := first.GetDouble("credit")
	require.True(t, ok)
	assert.Equal(t, 100.0, credit)

	second := inc.GetNext(first)
	id, _ = second.GetLong(DefaultRunIDName)
	assert.Equal(t, int64(2), id)
	assert.False(t, first.Equal(second))

	_, ok = params.Get(DefaultRunIDName)
	assert.False(t, ok, "the input parameters are not modified")
}

func TestTimestampIncrementer(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	inc := NewTimestampIncrementer("")
	inc.now = func() time.Time { return fixed }

	next := inc.GetNext(model.NewJobParameters())
	ts, ok := next.GetDate(DefaultTimestampName)
	require.True(t, ok)
	assert.True(t, fixed.Equal(ts))
}

func TestByName(t *testing.T) {
	inc, err := ByName("run.id")
	require.NoError(t, err)
	assert.IsType(t, &RunIDIncrementer{}, inc)

	inc, err = ByName("timestamp")
	require.NoError(t, err)
	assert.IsType(t, &TimestampIncrementer{}, inc)

	_, err = ByName("uuid")
	assert.Error(t, err)
}
