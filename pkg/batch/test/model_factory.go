package test

import (
	"time"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
)

// NewTestJobParameters creates JobParameters for testing from string values.
func NewTestJobParameters(params map[string]string) model.JobParameters {
	b := model.NewJobParametersBuilder()
	for k, v := range params {
		b.AddString(k, v)
	}
	return b.ToJobParameters()
}

// NewTestJobExecution creates a JobInstance and a JobExecution holding one StepExecution.
func NewTestJobExecution(jobName, stepName string, params model.JobParameters) (*model.JobInstance, *model.JobExecution, *model.StepExecution) {
	ji := model.NewJobInstance(jobName, params)
	je := model.NewJobExecution(ji.ID, jobName, params)
	se := model.NewStepExecution(model.NewID(), je, stepName)
	je.AddStepExecution(se)
	return ji, je, se
}

// NewTestExecutionContext creates an ExecutionContext for testing.
func NewTestExecutionContext(data map[string]interface{}) model.ExecutionContext {
	ec := model.NewExecutionContext()
	for k, v := range data {
		ec.Put(k, v)
	}
	return ec
}

// NewTimePtr returns a pointer to time.Time.
func NewTimePtr(t time.Time) *time.Time {
	return &t
}
