package job_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/chunkbatch/pkg/batch/adapter/database"
	gormadapter "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/gorm"
	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/application/usecase"
	coreConfig "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/chunkbatch/pkg/batch/core/metrics"
	tx "github.com/tigerroll/chunkbatch/pkg/batch/core/tx"
	"github.com/tigerroll/chunkbatch/pkg/batch/infrastructure/repository/inmemory"
	sqlrepo "github.com/tigerroll/chunkbatch/pkg/batch/infrastructure/repository/sql"
	"github.com/tigerroll/chunkbatch/pkg/batch/test"

	appConfig "github.com/tigerroll/chunkbatch/example/customercredit/internal/config"
	"github.com/tigerroll/chunkbatch/example/customercredit/internal/domain/entity"
	"github.com/tigerroll/chunkbatch/example/customercredit/internal/job"
	appmigration "github.com/tigerroll/chunkbatch/example/customercredit/internal/migration"
)

func newConfig() *coreConfig.Config {
	cfg := coreConfig.NewConfig()
	cfg.ChunkBatch.Batch.Filter = coreConfig.FilterConfig{Field: "credit", Operator: ">", Parameter: "credit"}
	return cfg
}

func creditParams(min float64) model.JobParameters {
	return model.NewJobParametersBuilder().AddDouble("credit", min).ToJobParameters()
}

func newLauncher(t *testing.T, cfg *coreConfig.Config, components job.Components, repo repository.JobRepository, tm tx.TransactionManager) *usecase.SimpleJobLauncher {
	t.Helper()
	store := repository.NewExecutionStateStore(repo, tm, cfg.ChunkBatch.Batch.StepName)
	j := job.NewIOSampleJob(job.IOSampleJobParams{
		Cfg:        cfg,
		Credit:     appConfig.CreditConfig{IncreaseAmount: appConfig.DefaultIncreaseAmount},
		Components: components,
		TxManager:  tm,
		Store:      store,
		Recorder:   metrics.NewNoOpMetricRecorder(),
		Tracer:     metrics.NewNoOpTracer(),
	})
	registry, err := usecase.NewJobRegistry(usecase.JobRegistryParams{Jobs: []port.Job{j}})
	require.NoError(t, err)
	return usecase.NewSimpleJobLauncher(store, repo, registry, nil, nil, 0)
}

func TestSourceFilter(t *testing.T) {
	fc := coreConfig.FilterConfig{Field: "credit", Operator: ">", Parameter: "credit"}

	f, err := job.SourceFilter(fc, creditParams(100))
	require.NoError(t, err)
	assert.Equal(t, port.Filter{Field: "credit", Op: port.OpGreaterThan, Value: 100.0}, f)

	f, err = job.SourceFilter(fc, model.NewJobParameters())
	require.NoError(t, err)
	assert.True(t, f.IsZero())

	f, err = job.SourceFilter(coreConfig.FilterConfig{}, creditParams(100))
	require.NoError(t, err)
	assert.True(t, f.IsZero())

	text := model.NewJobParametersBuilder().AddString("credit", "lots").ToJobParameters()
	_, err = job.SourceFilter(fc, text)
	assert.Error(t, err)

	_, err = job.SourceFilter(coreConfig.FilterConfig{Field: "credit", Operator: "~", Parameter: "credit"}, creditParams(1))
	assert.Error(t, err)
}

func TestIOSampleJob_InMemory(t *testing.T) {
	cfg := newConfig()
	sink := job.NewMemorySink()
	launcher := newLauncher(t, cfg, job.NewMemoryComponents(sink), inmemory.NewInMemoryJobRepository(), inmemory.NewMemoryTransactionManager())

	je, err := launcher.Launch(context.Background(), "ioSampleJob", creditParams(100))
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, je.Status)

	se := je.StepExecution("step1")
	require.NotNil(t, se)
	assert.Equal(t, 3, se.ReadCount)
	assert.Equal(t, 3, se.WriteCount)
	assert.Equal(t, 2, se.CommitCount)

	var credits []float64
	for _, c := range sink.Items() {
		credits = append(credits, c.Credit)
	}
	assert.Equal(t, []float64{160, 210, 310}, credits)
}

func TestIOSampleJob_InMemoryRejectsInvalidParameter(t *testing.T) {
	cfg := newConfig()
	launcher := newLauncher(t, cfg, job.NewMemoryComponents(job.NewMemorySink()), inmemory.NewInMemoryJobRepository(), inmemory.NewMemoryTransactionManager())

	params := model.NewJobParametersBuilder().AddString("credit", "lots").ToJobParameters()
	je, err := launcher.Launch(context.Background(), "ioSampleJob", params)
	assert.Error(t, err)
	assert.Nil(t, je)
}

func TestMemoryComponents_OnlyFiltersCredit(t *testing.T) {
	c := job.NewMemoryComponents(job.NewMemorySink())
	_, err := c.Source(port.Filter{Field: "name", Op: port.OpEqual, Value: 1.0})
	assert.Error(t, err)

	source, err := c.Source(port.Filter{Field: "credit", Op: port.OpLessOrEqual, Value: 80.0})
	require.NoError(t, err)
	page, err := source.NextPage(context.Background(), 0, 10)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(1), page[0].ID)
	assert.Equal(t, int64(4), page[1].ID)
}

func readCustomers(t *testing.T, conn database.DBConnection) map[int64]float64 {
	t.Helper()
	var rows []entity.CustomerCredit
	require.NoError(t, conn.ExecuteQueryAdvanced(context.Background(), &rows, nil, "id", 0))
	out := make(map[int64]float64, len(rows))
	for _, r := range rows {
		out[r.ID] = r.Credit
	}
	return out
}

func TestIOSampleJob_SQLite(t *testing.T) {
	ctx := context.Background()
	conn := test.NewMigratedSQLiteConnection(t, appmigration.Source())
	resolver := test.NewTestSingleConnectionResolver(conn)

	seed := entity.DemoCustomers()
	_, err := conn.ExecuteUpsert(ctx, &seed, "customer_credit", []string{"id"}, []string{"name", "credit"})
	require.NoError(t, err)

	cfg := newConfig()
	launcher := newLauncher(t, cfg,
		job.NewSQLComponents(resolver, cfg),
		sqlrepo.NewSQLJobRepository(resolver, test.TestDBName),
		gormadapter.NewGormTransactionManager(resolver, test.TestDBName),
	)

	je, err := launcher.Launch(ctx, "ioSampleJob", creditParams(100))
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, je.Status)
	se := je.StepExecution("step1")
	require.NotNil(t, se)
	assert.Equal(t, 2, se.CommitCount)
	assert.Equal(t, int64(3), se.LastCommittedOffset)

	assert.Equal(t, map[int64]float64{1: 50, 2: 160, 3: 210, 4: 80, 5: 310}, readCustomers(t, conn))
}
