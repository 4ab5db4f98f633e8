package usecase

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/fx"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
)

// JobGroup is the fx value group jobs are registered in.
const JobGroup = "jobs"

// JobRegistry resolves jobs by name.
type JobRegistry struct {
	mu   sync.RWMutex
	jobs map[string]port.Job
}

// JobRegistryParams defines dependencies for NewJobRegistry.
type JobRegistryParams struct {
	fx.In
	Jobs []port.Job `group:"jobs"`
}

// NewJobRegistry creates a JobRegistry holding every job of the fx group.
// Two jobs with the same name are an error.
func NewJobRegistry(p JobRegistryParams) (*JobRegistry, error) {
	r := &JobRegistry{jobs: make(map[string]port.Job)}
	for _, job := range p.Jobs {
		if err := r.Register(job); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds job to the registry.
func (r *JobRegistry) Register(job port.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[job.JobName()]; exists {
		return fmt.Errorf("job '%s' is already registered", job.JobName())
	}
	r.jobs[job.JobName()] = job
	return nil
}

// Get returns the job registered under name.
func (r *JobRegistry) Get(name string) (port.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[name]
	if !ok {
		return nil, fmt.Errorf("job '%s' is not registered", name)
	}
	return job, nil
}

// JobNames returns the registered job names in sorted order.
func (r *JobRegistry) JobNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.jobs))
	for name := range r.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AsJob annotates a job constructor so its result joins JobGroup.
func AsJob(constructor interface{}) interface{} {
	return fx.Annotate(
		constructor,
		fx.As(new(port.Job)),
		fx.ResultTags(`group:"jobs"`),
	)
}
