// Package jobs runs geography imports in the background for the admin API
// and tracks their progress in memory.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/EmpoweredVote/EV-Geography/internal/pipeline"
	"github.com/EmpoweredVote/EV-Geography/internal/progress"
)

const (
	KindImport = "import"
	KindRenest = "renest"

	StatusRunning             = "running"
	StatusCompleted           = "completed"
	StatusCompletedWithErrors = "completed_with_errors"
	StatusFailed              = "failed"
	StatusCancelled           = "cancelled"
)

// Job tracks one background run.
type Job struct {
	ID          string            `json:"id"`
	Kind        string            `json:"kind"`
	Status      string            `json:"status"`
	Config      string            `json:"config"`
	Geolevels   []string          `json:"geolevels"`
	Stage       string            `json:"stage,omitempty"`
	Progress    int               `json:"progress"`
	Summary     *pipeline.Summary `json:"summary,omitempty"`
	Error       string            `json:"error,omitempty"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// ErrConfigPath is returned for a config that is not a file inside the jobs
// directory.
var ErrConfigPath = errors.New("jobs: config must name a file inside the jobs directory")

// Request is the body of POST /jobs/import and POST /jobs/renest. Config is
// relative to the registry's jobs directory.
type Request struct {
	Config    string   `json:"config"`
	Geolevels []string `json:"geolevels"`
	Views     bool     `json:"views"`
}

// Runner executes a job file with a selection.
type Runner interface {
	Run(ctx context.Context, configPath string, sel pipeline.Selection, report func(stage string) progress.Func) (pipeline.Summary, error)
}

// Registry starts jobs and keeps their state until the process exits.
type Registry struct {
	runner Runner
	dir    string
	log    *logrus.Entry
	base   context.Context

	mu      sync.Mutex
	jobs    map[string]*Job
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewRegistry runs jobs with runner, reading job files from dir. Jobs are
// cancelled when ctx is.
func NewRegistry(ctx context.Context, runner Runner, dir string, log *logrus.Entry) *Registry {
	return &Registry{
		runner:  runner,
		dir:     dir,
		log:     log,
		base:    ctx,
		jobs:    map[string]*Job{},
		cancels: map[string]context.CancelFunc{},
	}
}

// Routes mounts under /jobs. mw runs in front of every route.
func (r *Registry) Routes(mw ...func(http.Handler) http.Handler) chi.Router {
	router := chi.NewRouter()
	router.Use(mw...)
	router.Get("/", r.handleList)
	router.Post("/import", r.handleStart(KindImport))
	router.Post("/renest", r.handleStart(KindRenest))
	router.Get("/{jobID}", r.handleStatus)
	router.Delete("/{jobID}", r.handleCancel)
	return router
}

// resolve maps a requested config name to a file inside the jobs directory,
// following symlinks.
func (r *Registry) resolve(name string) (string, error) {
	if !filepath.IsLocal(name) {
		return "", ErrConfigPath
	}
	root, err := filepath.EvalSymlinks(r.dir)
	if err != nil {
		return "", ErrConfigPath
	}
	path, err := filepath.EvalSymlinks(filepath.Join(root, name))
	if err != nil {
		return "", ErrConfigPath
	}
	rel, err := filepath.Rel(root, path)
	if err != nil || !filepath.IsLocal(rel) {
		return "", ErrConfigPath
	}
	return path, nil
}

// Start launches a job and returns its initial state. It fails with
// ErrConfigPath when req.Config is not a file inside the jobs directory.
func (r *Registry) Start(kind string, req Request) (Job, error) {
	path, err := r.resolve(req.Config)
	if err != nil {
		return Job{}, err
	}

	ctx, cancel := context.WithCancel(r.base)
	job := &Job{
		ID:        uuid.New().String(),
		Kind:      kind,
		Status:    StatusRunning,
		Config:    req.Config,
		Geolevels: append([]string(nil), req.Geolevels...),
		StartedAt: time.Now(),
	}

	r.mu.Lock()
	r.jobs[job.ID] = job
	r.cancels[job.ID] = cancel
	snapshot := *job
	r.mu.Unlock()

	sel := pipeline.Selection{Views: req.Views}
	if kind == KindImport {
		sel.Import = req.Geolevels
	} else {
		sel.Renest = req.Geolevels
	}

	r.wg.Add(1)
	go r.run(ctx, cancel, job, path, sel)
	return snapshot, nil
}

func (r *Registry) run(ctx context.Context, cancel context.CancelFunc, job *Job, path string, sel pipeline.Selection) {
	defer r.wg.Done()
	defer cancel()

	log := r.log.WithFields(logrus.Fields{"job": job.ID, "kind": job.Kind})
	log.WithField("geolevels", job.Geolevels).Info("job started")

	report := func(stage string) progress.Func {
		return func(pct int) {
			r.mu.Lock()
			job.Stage, job.Progress = stage, pct
			r.mu.Unlock()
		}
	}
	summary, err := r.runner.Run(ctx, path, sel, report)

	now := time.Now()
	r.mu.Lock()
	job.Summary = &summary
	job.CompletedAt = &now
	switch {
	case err == nil:
		job.Status = StatusCompleted
	case ctx.Err() != nil:
		job.Status = StatusCancelled
		job.Error = err.Error()
	case hasCounts(summary):
		job.Status = StatusCompletedWithErrors
		job.Error = err.Error()
	default:
		job.Status = StatusFailed
		job.Error = err.Error()
	}
	delete(r.cancels, job.ID)
	status := job.Status
	r.mu.Unlock()

	entry := log.WithField("status", status)
	if err != nil {
		entry.WithError(err).Warn("job finished")
		return
	}
	entry.Info("job finished")
}

func hasCounts(s pipeline.Summary) bool {
	return len(s.Imports) > 0 || len(s.Renests) > 0
}

// Get returns a copy of a job's state.
func (r *Registry) Get(id string) (Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return Job{}, false
	}
	return snapshot(job), true
}

// List returns every job, newest first.
func (r *Registry) List() []Job {
	r.mu.Lock()
	out := make([]Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, snapshot(job))
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// Cancel stops a running job. It reports false for unknown or finished jobs.
func (r *Registry) Cancel(id string) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[id]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Wait blocks until every started job has finished.
func (r *Registry) Wait() { r.wg.Wait() }

func snapshot(job *Job) Job {
	s := *job
	s.Geolevels = append([]string(nil), job.Geolevels...)
	return s
}

// handleStart handles POST /jobs/import and /jobs/renest.
// Accepts {"config": "jobs/census.yaml", "geolevels": ["block", "1"], "views": false}
func (r *Registry) handleStart(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var body Request
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if body.Config == "" {
			http.Error(w, "A job config path is required", http.StatusBadRequest)
			return
		}
		if len(body.Geolevels) == 0 {
			http.Error(w, "At least one geolevel is required", http.StatusBadRequest)
			return
		}

		job, err := r.Start(kind, body)
		if err != nil {
			http.Error(w, "Job config not found in the jobs directory", http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"job_id": job.ID,
			"status": job.Status,
		})
	}
}

// handleStatus handles GET /jobs/{jobID}
func (r *Registry) handleStatus(w http.ResponseWriter, req *http.Request) {
	job, ok := r.Get(chi.URLParam(req, "jobID"))
	if !ok {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleList handles GET /jobs
func (r *Registry) handleList(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, r.List())
}

// handleCancel handles DELETE /jobs/{jobID}
func (r *Registry) handleCancel(w http.ResponseWriter, req *http.Request) {
	if !r.Cancel(chi.URLParam(req, "jobID")) {
		http.Error(w, "Job not running", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
