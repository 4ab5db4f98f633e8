package model_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
)

func TestJobParameters_HashIsOrderIndependent(t *testing.T) {
	a := model.NewJobParametersBuilder().
		AddDouble("credit", 100).
		AddString("region", "eu").
		ToJobParameters()
	b := model.NewJobParametersBuilder().
		AddString("region", "eu").
		AddDouble("credit", 100).
		ToJobParameters()

	ha, err := a.Hash()
	require.NoError(t, err)
	hb, err := b.Hash()
	require.NoError(t, err)

	assert.Equal(t, ha, hb)
	assert.True(t, a.Equal(b))
	assert.Len(t, ha, 64)
}

func TestJobParameters_TypeIsPartOfIdentity(t *testing.T) {
	asDouble := model.NewJobParametersBuilder().AddDouble("credit", 100).ToJobParameters()
	asLong := model.NewJobParametersBuilder().AddLong("credit", 100).ToJobParameters()

	assert.False(t, asDouble.Equal(asLong))
}

func TestJobParameters_BuilderCopiesOnBuild(t *testing.T) {
	b := model.NewJobParametersBuilder().AddLong("run", 1)
	first := b.ToJobParameters()
	b.AddLong("run", 2)

	v, ok := first.GetLong("run")
	require.True(t, ok)
	assert.Equal(t, int64(1), v)
}

func TestJobParameters_ScanRestoresTypes(t *testing.T) {
	date := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	params := model.NewJobParametersBuilder().
		AddDouble("credit", 100.5).
		AddLong("limit", 7).
		AddBool("dry", true).
		AddDate("asOf", date).
		ToJobParameters()

	v, err := params.Value()
	require.NoError(t, err)

	var restored model.JobParameters
	require.NoError(t, restored.Scan(v))

	credit, ok := restored.GetDouble("credit")
	assert.True(t, ok)
	assert.Equal(t, 100.5, credit)
	limit, ok := restored.GetLong("limit")
	assert.True(t, ok)
	assert.Equal(t, int64(7), limit)
	dry, ok := restored.GetBool("dry")
	assert.True(t, ok)
	assert.True(t, dry)
	asOf, ok := restored.GetDate("asOf")
	assert.True(t, ok)
	assert.True(t, date.Equal(asOf))
	assert.True(t, params.Equal(restored))
}

func TestJobParameters_GetDoubleWidensLong(t *testing.T) {
	params := model.NewJobParametersBuilder().AddLong("credit", 100).ToJobParameters()
	v, ok := params.GetDouble("credit")
	assert.True(t, ok)
	assert.Equal(t, 100.0, v)

	_, ok = params.GetDouble("missing")
	assert.False(t, ok)
}

func TestJobParametersBuilder_AddFromString(t *testing.T) {
	b := model.NewJobParametersBuilder()
	require.NoError(t, b.AddFromString("credit(double)=100"))
	require.NoError(t, b.AddFromString("owner=ops"))
	require.NoError(t, b.AddFromString("limit(long)=5"))
	require.NoError(t, b.AddFromString("asOf(date)=2024-01-02T00:00:00Z"))

	assert.Error(t, b.AddFromString("broken"))
	assert.Error(t, b.AddFromString("credit(double)=abc"))
	assert.Error(t, b.AddFromString("x(uuid)=1"))

	params := b.ToJobParameters()
	assert.Equal(t, []string{"asOf", "credit", "limit", "owner"}, params.Names())
	credit, _ := params.GetDouble("credit")
	assert.Equal(t, 100.0, credit)
	owner, _ := params.GetString("owner")
	assert.Equal(t, "ops", owner)
}

func TestJobParameters_StringMasksSensitiveKeys(t *testing.T) {
	params := model.NewJobParametersBuilder().
		AddString("password", "hunter2").
		AddDouble("credit", 100).
		ToJobParameters()

	s := params.String()
	assert.NotContains(t, s, "hunter2")
	assert.Contains(t, s, "********")

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(s), &decoded))
	assert.Equal(t, 100.0, decoded["credit"])
}

func TestStepExecution_Transitions(t *testing.T) {
	je := model.NewJobExecution("instance", "ioSampleJob", model.NewJobParameters())
	se := model.NewStepExecution(model.NewID(), je, "step1")
	je.AddStepExecution(se)

	assert.Equal(t, model.BatchStatusStarting, se.Status)
	se.MarkAsStarted()
	assert.Equal(t, model.BatchStatusStarted, se.Status)

	se.MarkAsFailed(errors.New("write failed"))
	assert.Equal(t, model.BatchStatusFailed, se.Status)
	assert.Equal(t, model.ExitStatusFailed, se.ExitStatus)
	assert.NotNil(t, se.EndTime)
	assert.Equal(t, model.FailureList{"write failed"}, se.Failures)

	assert.Error(t, se.TransitionTo(model.BatchStatusStarted), "terminal steps reject transitions")
	se.MarkAsCompleted()
	assert.Equal(t, model.BatchStatusFailed, se.Status)
}

func TestStepExecution_CompletedWithoutReadsIsNoOp(t *testing.T) {
	se := model.NewStepExecution(model.NewID(), nil, "step1")
	se.MarkAsStarted()
	se.MarkAsCompleted()
	assert.Equal(t, model.BatchStatusCompleted, se.Status)
	assert.Equal(t, model.ExitStatusNoOp, se.ExitStatus)
}

func TestStepExecution_ResumeFromCarriesProgress(t *testing.T) {
	prev := model.NewStepExecution(model.NewID(), nil, "step1")
	prev.LastCommittedOffset = 4
	prev.ReadCount = 4
	prev.WriteCount = 3
	prev.CommitCount = 2
	prev.RollbackCount = 1
	prev.FilterCount = 1
	prev.ExecutionContext.Put("customer.last_id", int64(4))

	next := model.NewStepExecution(model.NewID(), nil, "step1")
	next.ResumeFrom(prev)

	assert.Equal(t, int64(4), next.LastCommittedOffset)
	assert.Equal(t, 4, next.ReadCount)
	assert.Equal(t, 3, next.WriteCount)
	assert.Equal(t, 2, next.CommitCount)
	assert.Equal(t, 1, next.RollbackCount)
	assert.Equal(t, 1, next.FilterCount)
	assert.Equal(t, model.BatchStatusStarting, next.Status)

	next.ExecutionContext.Put("customer.last_id", int64(6))
	v, _ := prev.ExecutionContext.GetInt64("customer.last_id")
	assert.Equal(t, int64(4), v, "execution context is copied, not shared")
}

func TestStepExecution_SnapshotIsIndependent(t *testing.T) {
	se := model.NewStepExecution(model.NewID(), nil, "step1")
	se.ExecutionContext.Put("k", "v")

	snap := se.Snapshot()
	snap.ReadCount = 10
	snap.ExecutionContext.Put("k", "changed")

	assert.Equal(t, 0, se.ReadCount)
	s, _ := se.ExecutionContext.GetString("k")
	assert.Equal(t, "v", s)
}

func TestJobExecution_CompletedOnlyIfAllStepsCompleted(t *testing.T) {
	je := model.NewJobExecution("instance", "ioSampleJob", model.NewJobParameters())
	se := model.NewStepExecution(model.NewID(), je, "step1")
	je.AddStepExecution(se)
	je.MarkAsStarted()
	se.MarkAsStarted()
	se.MarkAsStopped()

	je.MarkAsCompleted()
	assert.Equal(t, model.BatchStatusFailed, je.Status)

	je2 := model.NewJobExecution("instance", "ioSampleJob", model.NewJobParameters())
	se2 := model.NewStepExecution(model.NewID(), je2, "step1")
	je2.AddStepExecution(se2)
	je2.MarkAsStarted()
	se2.MarkAsStarted()
	se2.MarkAsCompleted()

	je2.MarkAsCompleted()
	assert.Equal(t, model.BatchStatusCompleted, je2.Status)
	assert.Equal(t, model.ExitStatusCompleted, je2.ExitStatus)
	assert.Same(t, se2, je2.StepExecution("step1"))
}

func TestJobExecution_StopAndAbandon(t *testing.T) {
	je := model.NewJobExecution("instance", "ioSampleJob", model.NewJobParameters())
	je.MarkAsStarted()
	require.NoError(t, je.MarkAsStopping())
	je.MarkAsStopped()
	assert.Equal(t, model.BatchStatusStopped, je.Status)
	assert.True(t, je.Status.IsRestartable())

	je.MarkAsAbandoned()
	assert.Equal(t, model.BatchStatusAbandoned, je.Status)
	assert.False(t, je.Status.IsRunning())
}

func TestJobExecution_AbandonOrphaned(t *testing.T) {
	started := model.NewJobExecution("instance", "ioSampleJob", model.NewJobParameters())
	started.MarkAsStarted()
	require.NoError(t, started.TransitionTo(model.BatchStatusAbandoned))

	stopping := model.NewJobExecution("instance", "ioSampleJob", model.NewJobParameters())
	stopping.MarkAsStarted()
	require.NoError(t, stopping.MarkAsStopping())
	stopping.MarkAsAbandoned()
	assert.Equal(t, model.BatchStatusAbandoned, stopping.Status)
	assert.Equal(t, model.BatchStatusAbandoned.ToExitStatus(), stopping.ExitStatus)
	assert.NotNil(t, stopping.EndTime)

	assert.Error(t, stopping.TransitionTo(model.BatchStatusStarted), "abandoned executions are terminal")
}

func TestChunk(t *testing.T) {
	c := model.NewChunk[int](2)
	assert.False(t, c.IsFull(2))
	c.Add(1)
	c.Add(2)
	assert.True(t, c.IsFull(2))
	assert.Equal(t, 2, c.Len())
}
