// Package pipeline runs a geography job: it stores the job's geolevels and
// subjects, imports the selected geolevels and renests the ones that have a
// parent, in configuration order.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/EmpoweredVote/EV-Geography/internal/config"
	"github.com/EmpoweredVote/EV-Geography/internal/geography"
	"github.com/EmpoweredVote/EV-Geography/internal/ingest"
	"github.com/EmpoweredVote/EV-Geography/internal/progress"
	"github.com/EmpoweredVote/EV-Geography/internal/renest"
)

// Selection says which geolevels to import and renest, by name or index.
// All selects every geolevel for both.
type Selection struct {
	Import []string `json:"import"`
	Renest []string `json:"renest"`
	All    bool     `json:"all"`
	Views  bool     `json:"views"`
}

// Summary collects the counters of a run per geolevel.
type Summary struct {
	Imports map[string]ingest.Counters `json:"imports,omitempty"`
	Renests map[string]renest.Counters `json:"renests,omitempty"`
}

// Prereqs are the stored geolevels and subjects of a job, keyed by name.
type Prereqs struct {
	Geolevels map[string]geography.Geolevel
	Subjects  map[string]geography.Subject
}

type Pipeline struct {
	job      *config.Job
	store    geography.Store
	log      *logrus.Entry
	workers  int
	progress func(stage string) progress.Func
}

type Option func(*Pipeline)

func WithLogger(log *logrus.Entry) Option {
	return func(p *Pipeline) { p.log = log }
}

// DefaultWorkers is the renest worker count when neither the job nor an
// option sets one.
const DefaultWorkers = 4

// WithWorkers overrides the job's renest worker count. Zero keeps it.
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithProgress receives a progress stream per stage ("import block",
// "renest county", ...).
func WithProgress(fn func(stage string) progress.Func) Option {
	return func(p *Pipeline) { p.progress = fn }
}

func New(job *config.Job, store geography.Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		job:     job,
		store:   store,
		log:     logrus.NewEntry(logrus.StandardLogger()),
		workers: job.Workers,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.workers <= 0 {
		p.workers = DefaultWorkers
	}
	return p
}

// Workers is the number of units renested at once.
func (p *Pipeline) Workers() int { return p.workers }

func (p *Pipeline) stage(name string) progress.Func {
	if p.progress == nil {
		return nil
	}
	return p.progress(name)
}

// Bootstrap creates or updates every geolevel and subject of the job.
// Subjects are saved before their denominators are linked, so the order of
// declaration does not matter. Aliases are not stored.
func (p *Pipeline) Bootstrap(ctx context.Context) (Prereqs, error) {
	pre := Prereqs{Geolevels: map[string]geography.Geolevel{}, Subjects: map[string]geography.Subject{}}

	for _, gc := range p.job.Geolevels {
		gl := geography.Geolevel{Name: gc.Name, SortKey: gc.SortKey, MinZoom: gc.MinZoom, Tolerance: gc.Tolerance}
		if err := p.store.SaveGeolevel(ctx, &gl); err != nil {
			return pre, fmt.Errorf("bootstrap geolevel %s: %w", gc.Name, err)
		}
		pre.Geolevels[gl.Name] = gl
	}

	for _, sc := range p.job.Subjects {
		if sc.AliasFor != "" {
			continue
		}
		s := geography.Subject{Name: sc.ID, DisplayName: sc.DisplayName, ShortName: sc.ShortName, SortKey: sc.SortKey}
		if err := p.store.SaveSubject(ctx, &s); err != nil {
			return pre, fmt.Errorf("bootstrap subject %s: %w", sc.ID, err)
		}
		pre.Subjects[s.Name] = s
	}
	for _, sc := range p.job.Subjects {
		if sc.AliasFor != "" || sc.PercentageDenominator == "" {
			continue
		}
		denomID, err := p.job.ResolveSubject(sc.PercentageDenominator)
		if err != nil {
			return pre, err
		}
		s, denom := pre.Subjects[sc.ID], pre.Subjects[denomID]
		s.PercentageDenominator = &denom.ID
		if err := p.store.SaveSubject(ctx, &s); err != nil {
			return pre, fmt.Errorf("bootstrap subject %s: %w", sc.ID, err)
		}
		pre.Subjects[s.Name] = s
	}

	p.log.WithFields(logrus.Fields{
		"geolevels": len(pre.Geolevels),
		"subjects":  len(pre.Subjects),
	}).Info("prerequisites stored")
	return pre, nil
}

// Import ingests the named geolevels in configuration order. A geolevel
// whose sources fail is reported and the next one still runs; an
// unreachable store stops the run.
func (p *Pipeline) Import(ctx context.Context, pre Prereqs, names []string) (map[string]ingest.Counters, error) {
	out := map[string]ingest.Counters{}
	var errs []error
	for _, name := range names {
		gl, ok := pre.Geolevels[name]
		if !ok {
			return out, &config.ConfigReferenceError{Ref: "geolevel", Name: name}
		}
		plan, err := ingest.NewPlan(p.job, gl, pre.Subjects)
		if err != nil {
			return out, err
		}
		ing := ingest.New(p.store,
			ingest.WithLogger(p.log.WithField("component", "ingest")),
			ingest.WithRateLimit(p.job.MaxWritesPerSecond),
			ingest.WithProgress(p.stage("import "+name)),
		)
		c, err := ing.Import(ctx, plan)
		out[name] = c
		if err != nil {
			if ctx.Err() != nil || geography.IsUnreachable(err) {
				return out, err
			}
			errs = append(errs, err)
		}
	}
	return out, errors.Join(errs...)
}

// Renest rebuilds the named geolevels from their parents, in configuration
// order. Geolevels without a parent are skipped.
func (p *Pipeline) Renest(ctx context.Context, pre Prereqs, names []string) (map[string]renest.Counters, error) {
	out := map[string]renest.Counters{}
	subjects, err := p.store.ListSubjects(ctx)
	if err != nil {
		return out, err
	}

	for _, name := range names {
		gc, ok := p.job.Geolevel(name)
		if !ok {
			return out, &config.ConfigReferenceError{Ref: "geolevel", Name: name}
		}
		if gc.Parent == "" {
			p.log.WithField("geolevel", name).Debug("no parent geolevel, not renesting")
			continue
		}
		level, child := pre.Geolevels[name], pre.Geolevels[gc.Parent]
		agg := renest.New(p.store,
			renest.WithWorkers(p.workers),
			renest.WithLogger(p.log.WithField("component", "renest")),
			renest.WithProgress(p.stage("renest "+name)),
		)
		c, err := agg.Renest(ctx, level, child, subjects)
		out[name] = c
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

// CreateViews publishes map views when the store supports them.
func (p *Pipeline) CreateViews(ctx context.Context, pre Prereqs) error {
	vc, ok := p.store.(geography.ViewCreator)
	if !ok {
		p.log.Warn("store cannot create views")
		return nil
	}
	levels := make([]geography.Geolevel, 0, len(pre.Geolevels))
	for _, gc := range p.job.Geolevels {
		levels = append(levels, pre.Geolevels[gc.Name])
	}
	subjects := make([]geography.Subject, 0, len(pre.Subjects))
	for _, sc := range p.job.Subjects {
		if s, ok := pre.Subjects[sc.ID]; ok {
			subjects = append(subjects, s)
		}
	}
	return vc.CreateViews(ctx, levels, subjects)
}

// Run bootstraps the job and then imports, renests and creates views as
// selected.
func (p *Pipeline) Run(ctx context.Context, sel Selection) (Summary, error) {
	var sum Summary
	pre, err := p.Bootstrap(ctx)
	if err != nil {
		return sum, err
	}

	importNames, renestNames := sel.Import, sel.Renest
	if sel.All {
		importNames, renestNames = nil, nil
	}
	var errs []error

	if sel.All || len(importNames) > 0 {
		names, err := p.job.Select(importNames)
		if err != nil {
			return sum, err
		}
		sum.Imports, err = p.Import(ctx, pre, names)
		if err != nil {
			if ctx.Err() != nil || geography.IsUnreachable(err) {
				return sum, err
			}
			errs = append(errs, err)
		}
	}

	if sel.All || len(renestNames) > 0 {
		names, err := p.job.Select(renestNames)
		if err != nil {
			return sum, err
		}
		sum.Renests, err = p.Renest(ctx, pre, names)
		if err != nil {
			return sum, err
		}
	}

	if sel.Views {
		if err := p.CreateViews(ctx, pre); err != nil {
			return sum, err
		}
	}
	return sum, errors.Join(errs...)
}
