package incrementer

import (
	"fmt"
	"time"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// DefaultTimestampName is the parameter set by TimestampIncrementer unless another name is given.
const DefaultTimestampName = "run.timestamp"

// TimestampIncrementer is an implementation of JobParametersIncrementer that sets a DATE parameter
// to the current time.
type TimestampIncrementer struct {
	name string
	now  func() time.Time
}

// NewTimestampIncrementer creates a new instance of TimestampIncrementer.
func NewTimestampIncrementer(name string) *TimestampIncrementer {
	if name == "" {
		name = DefaultTimestampName
	}
	return &TimestampIncrementer{
		name: name,
		now:  time.Now,
	}
}

// GetNext adds or updates the timestamp in the given JobParameters and returns the new parameters.
func (i *TimestampIncrementer) GetNext(params model.JobParameters) model.JobParameters {
	timestamp := i.now()
	next := model.NewJobParametersBuilderFrom(params).AddDate(i.name, timestamp)
	logger.Debugf("JobParametersIncrementer '%s': Setting '%s' to %s.", i, i.name, timestamp.UTC().Format(time.RFC3339Nano))
	return next.ToJobParameters()
}

// String returns the string representation of TimestampIncrementer.
func (i *TimestampIncrementer) String() string {
	return fmt.Sprintf("TimestampIncrementer[name=%s]", i.name)
}

// Ensure TimestampIncrementer implements port.JobParametersIncrementer
var _ port.JobParametersIncrementer = (*TimestampIncrementer)(nil)
