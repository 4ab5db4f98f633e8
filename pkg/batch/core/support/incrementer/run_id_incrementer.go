// Package incrementer provides JobParametersIncrementer implementations, used to launch a new
// instance of a job whose previous instance already completed.
package incrementer

import (
	"fmt"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// DefaultRunIDName is the parameter maintained by RunIDIncrementer unless another name is given.
const DefaultRunIDName = "run.id"

// RunIDIncrementer is an implementation of JobParametersIncrementer that adds or increments a LONG run id.
// It sets the run id to 1 if it does not exist, or increments its value if it does.
type RunIDIncrementer struct {
	name string
}

// NewRunIDIncrementer creates a new instance of RunIDIncrementer.
func NewRunIDIncrementer(name string) *RunIDIncrementer {
	if name == "" {
		name = DefaultRunIDName
	}
	return &RunIDIncrementer{
		name: name,
	}
}

// GetNext adds or increments the run id in the given JobParameters and returns the new parameters.
func (i *RunIDIncrementer) GetNext(params model.JobParameters) model.JobParameters {
	next := model.NewJobParametersBuilderFrom(params)

	currentRunID, ok := params.GetLong(i.name)
	if !ok {
		next.AddLong(i.name, 1)
		logger.Debugf("JobParametersIncrementer '%s': '%s' not found, setting to 1.", i, i.name)
	} else {
		next.AddLong(i.name, currentRunID+1)
		logger.Debugf("JobParametersIncrementer '%s': Incrementing '%s' from %d to %d.", i, i.name, currentRunID, currentRunID+1)
	}
	return next.ToJobParameters()
}

// String returns the string representation of RunIDIncrementer.
func (i *RunIDIncrementer) String() string {
	return fmt.Sprintf("RunIDIncrementer[name=%s]", i.name)
}

// ByName returns the incrementer selected on the command line: "run.id" or "timestamp".
func ByName(name string) (port.JobParametersIncrementer, error) {
	switch name {
	case "run.id", "runId":
		return NewRunIDIncrementer(DefaultRunIDName), nil
	case "timestamp":
		return NewTimestampIncrementer(DefaultTimestampName), nil
	default:
		return nil, fmt.Errorf("unknown job parameters incrementer '%s'", name)
	}
}

// Ensure RunIDIncrementer implements port.JobParametersIncrementer
var _ port.JobParametersIncrementer = (*RunIDIncrementer)(nil)
