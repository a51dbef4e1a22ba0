package cron

import "context"

// JobName identifies a scheduled sweep. Metric labels and log fields use
// the same value, so names stay stable across releases.
type JobName string

const (
	JobPaymentReconcile JobName = "payment-reconcile"
	JobStockConflict    JobName = "stock-conflict"
)

// Job represents a scheduled task that runs inside the cron worker.
type Job interface {
	Name() JobName
	Run(ctx context.Context) error
}

// Registry tracks registered cron jobs. Each sweep is a singleton: a name
// already present is not registered twice.
type Registry struct {
	jobs []Job
}

// NewRegistry builds a registry preloaded with the provided jobs.
func NewRegistry(jobs ...Job) *Registry {
	registry := &Registry{}
	for _, job := range jobs {
		registry.Register(job)
	}
	return registry
}

// Register adds a job unless one with the same name is already present.
func (r *Registry) Register(job Job) {
	if job == nil {
		return
	}
	for _, existing := range r.jobs {
		if existing.Name() == job.Name() {
			return
		}
	}
	r.jobs = append(r.jobs, job)
}

// Jobs returns the registered jobs in the order they were added.
func (r *Registry) Jobs() []Job {
	jobs := make([]Job, len(r.jobs))
	copy(jobs, r.jobs)
	return jobs
}
