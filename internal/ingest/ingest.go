// Package ingest streams shapefile features into geounits and their
// characteristics.
//
// Every feature is probed by identity key before anything is written, so a
// source can be re-run after an interruption: existing units are reused and
// only the missing ones are created.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/EmpoweredVote/EV-Geography/internal/characteristics"
	"github.com/EmpoweredVote/EV-Geography/internal/geography"
	"github.com/EmpoweredVote/EV-Geography/internal/geometry"
	"github.com/EmpoweredVote/EV-Geography/internal/metrics"
	"github.com/EmpoweredVote/EV-Geography/internal/progress"
	"github.com/EmpoweredVote/EV-Geography/internal/shapefile"
)

// Counters summarizes an import.
type Counters struct {
	Created int `json:"created"`
	Reused  int `json:"reused"`
	Skipped int `json:"skipped"` // geometry failed to normalize or was empty
	Failed  int `json:"failed"`  // store write failed

	Matched int `json:"matched"` // attribute records that found their unit
	Missed  int `json:"missed"`

	Overlong int `json:"overlong"` // tree code value wider than its field

	Characteristics characteristics.Result `json:"characteristics"`
}

func (c *Counters) Add(o Counters) {
	c.Created += o.Created
	c.Reused += o.Reused
	c.Skipped += o.Skipped
	c.Failed += o.Failed
	c.Matched += o.Matched
	c.Missed += o.Missed
	c.Overlong += o.Overlong
	c.Characteristics.Add(o.Characteristics)
}

// Ingestor imports geolevels into a store.
type Ingestor struct {
	store    geography.Store
	assigner *characteristics.Assigner
	log      *logrus.Entry
	limiter  *rate.Limiter
	progress progress.Func
}

type Option func(*Ingestor)

// WithRateLimit caps geounit creations per second. Zero or less means no cap.
func WithRateLimit(perSecond float64) Option {
	return func(i *Ingestor) {
		if perSecond > 0 {
			i.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// WithProgress reports per-source completion percentages.
func WithProgress(fn progress.Func) Option {
	return func(i *Ingestor) { i.progress = fn }
}

func WithLogger(log *logrus.Entry) Option {
	return func(i *Ingestor) { i.log = log }
}

func New(store geography.Store, opts ...Option) *Ingestor {
	i := &Ingestor{store: store, log: logrus.NewEntry(logrus.StandardLogger())}
	for _, opt := range opts {
		opt(i)
	}
	i.assigner = characteristics.NewAssigner(store, i.log.WithField("component", "characteristics"))
	return i
}

// Import reads every geography source of the plan and then, if the plan has
// any, its attribute sources. A source that cannot be opened or lacks a
// mapped field is abandoned and reported; the other sources still run. An
// unreachable store or a cancelled context stops the import at once.
func (i *Ingestor) Import(ctx context.Context, plan *Plan) (Counters, error) {
	start := time.Now()
	var total Counters
	var errs []error

	for _, src := range plan.Shapefiles {
		c, err := i.importSource(ctx, plan, src)
		total.Add(c)
		if err != nil {
			if fatal(ctx, err) {
				metrics.ObserveJob("import", "failed", time.Since(start))
				return total, err
			}
			errs = append(errs, err)
		}
	}

	for _, src := range plan.Attributes {
		c, err := i.assignSource(ctx, plan, src)
		total.Add(c)
		if err != nil {
			if fatal(ctx, err) {
				metrics.ObserveJob("import", "failed", time.Since(start))
				return total, err
			}
			errs = append(errs, err)
		}
	}

	err := errors.Join(errs...)
	status := "ok"
	if err != nil {
		status = "partial"
	}
	metrics.ObserveJob("import", status, time.Since(start))
	i.log.WithFields(logrus.Fields{
		"geolevel":    plan.Geolevel.Name,
		"created":     total.Created,
		"reused":      total.Reused,
		"skipped":     total.Skipped,
		"failed":      total.Failed,
		"matched":     total.Matched,
		"missed":      total.Missed,
		"overlong":    total.Overlong,
		"parseErrors": total.Characteristics.ParseErrors,
		"duration":    time.Since(start).Round(time.Millisecond),
	}).Info("geolevel imported")
	return total, err
}

func fatal(ctx context.Context, err error) bool {
	return ctx.Err() != nil || geography.IsUnreachable(err)
}

func (i *Ingestor) open(src Source, extra []string) (*shapefile.Reader, error) {
	rd, err := shapefile.Open(src.Path, src.Encoding)
	if err != nil {
		return nil, err
	}
	if err := src.checkFields(rd, extra); err != nil {
		rd.Close()
		return nil, err
	}
	return rd, nil
}

func (i *Ingestor) importSource(ctx context.Context, plan *Plan, src Source) (Counters, error) {
	var c Counters
	var extra []string
	if plan.Inline() {
		extra = characteristics.SourceFields(plan.Fields)
	}
	rd, err := i.open(src, extra)
	if err != nil {
		return c, fmt.Errorf("ingest %s: %w", plan.Geolevel.Name, err)
	}
	defer rd.Close()

	log := i.log.WithFields(logrus.Fields{"geolevel": plan.Geolevel.Name, "source": src.Path})
	log.WithField("features", rd.Len()).Info("importing shapefile")

	tracker := progress.New(rd.Len(), i.progress)
	for rd.Next() {
		if err := ctx.Err(); err != nil {
			return c, err
		}
		if err := i.importFeature(ctx, plan, src, rd.Feature(), &c, log); err != nil {
			return c, err
		}
		tracker.Step()
	}
	if err := rd.Err(); err != nil {
		return c, fmt.Errorf("ingest %s: read %s: %w", plan.Geolevel.Name, src.Path, err)
	}
	tracker.Finish()
	return c, nil
}

// importFeature reuses or creates the feature's unit and, for inline plans,
// assigns its characteristics. Only fatal errors are returned.
func (i *Ingestor) importFeature(ctx context.Context, plan *Plan, src Source, f shapefile.Feature, c *Counters, log *logrus.Entry) error {
	level := plan.Geolevel.Name
	flog := log.WithField("feature", f.Index)

	key, err := src.identity(f.Attrs, plan.Geolevel)
	if err != nil {
		c.Failed++
		metrics.IngestFeature(level, "failed")
		flog.WithError(err).Warn("cannot derive identity")
		return nil
	}
	src.overlong(f.Attrs, c, flog.WithField("tree_code", key.TreeCode))

	unit, err := i.store.FindGeounit(ctx, key)
	switch {
	case err == nil:
		c.Reused++
		metrics.IngestFeature(level, "reused")
	case errors.Is(err, geography.ErrNotFound):
		var outcome string
		unit, outcome, err = i.create(ctx, plan, f, key, flog)
		if err != nil {
			return err
		}
		metrics.IngestFeature(level, outcome)
		switch outcome {
		case "created":
			c.Created++
		case "reused":
			c.Reused++
		case "skipped":
			c.Skipped++
			return nil
		case "failed":
			c.Failed++
			return nil
		}
	default:
		if geography.IsUnreachable(err) {
			return err
		}
		c.Failed++
		metrics.IngestFeature(level, "failed")
		flog.WithError(err).Warn("identity probe failed")
		return nil
	}

	if plan.Inline() {
		res, err := i.assigner.Assign(ctx, unit, f.Attrs, plan.Fields)
		c.Characteristics.Add(res)
		if err != nil {
			return err
		}
	}
	return nil
}

func (i *Ingestor) create(ctx context.Context, plan *Plan, f shapefile.Feature, key geography.IdentityKey, log *logrus.Entry) (geography.Geounit, string, error) {
	raw, err := f.Geometry(plan.SRID)
	if err != nil {
		log.WithError(&geometry.GeometryError{Op: "read", Err: err}).Warn("failed to import geometry")
		return geography.Geounit{}, "skipped", nil
	}
	norm, err := geometry.Normalize(raw, plan.Geolevel.Tolerance, plan.SRID)
	if err != nil {
		log.WithError(err).Warn("failed to import geometry")
		return geography.Geounit{}, "skipped", nil
	}
	if norm.Empty() {
		log.Warn("feature has no polygonal geometry")
		return geography.Geounit{}, "skipped", nil
	}
	if log.Logger.IsLevelEnabled(logrus.DebugLevel) {
		diagnose(log, norm)
	}

	if i.limiter != nil {
		if err := i.limiter.Wait(ctx); err != nil {
			return geography.Geounit{}, "", err
		}
	}

	unit := geography.Geounit{
		Name:       key.Name,
		PortableID: key.PortableID,
		TreeCode:   key.TreeCode,
		GeolevelID: key.GeolevelID,
		Geom:       geography.NewGeometry(norm.Geometry),
		Simple:     geography.NewGeometry(norm.Simplified),
		Center:     geography.NewGeometry(norm.Centroid),
	}
	err = i.store.CreateGeounit(ctx, &unit)
	switch {
	case err == nil:
		return unit, "created", nil
	case errors.Is(err, geography.ErrDuplicate):
		// Created concurrently since the probe; use that one.
		existing, perr := i.store.FindGeounit(ctx, key)
		if perr == nil {
			return existing, "reused", nil
		}
		err = perr
	}
	if geography.IsUnreachable(err) {
		return geography.Geounit{}, "", err
	}
	log.WithError(err).Warn("geounit write failed")
	return geography.Geounit{}, "failed", nil
}

func diagnose(log *logrus.Entry, n geometry.Normalized) {
	if simple, valid := geometry.Describe(n.Geometry); !simple || !valid {
		log.WithFields(logrus.Fields{"simple": simple, "valid": valid}).Debug("geometry check")
	}
	if simple, valid := geometry.Describe(n.Simplified); !simple || !valid {
		log.WithFields(logrus.Fields{"simple": simple, "valid": valid}).Debug("simplified geometry check")
	}
}

// assignSource matches attribute records to this geolevel's units by tree
// code and assigns their characteristics.
func (i *Ingestor) assignSource(ctx context.Context, plan *Plan, src Source) (Counters, error) {
	var c Counters
	rd, err := i.open(src, characteristics.SourceFields(plan.Fields))
	if err != nil {
		return c, fmt.Errorf("ingest %s attributes: %w", plan.Geolevel.Name, err)
	}
	defer rd.Close()

	log := i.log.WithFields(logrus.Fields{"geolevel": plan.Geolevel.Name, "source": src.Path})
	log.WithField("records", rd.Len()).Info("assigning subject values")

	tracker := progress.New(rd.Len(), i.progress)
	for rd.Next() {
		if err := ctx.Err(); err != nil {
			return c, err
		}
		f := rd.Feature()
		code, err := src.Tree.Encode(f.Attrs.Get)
		if err != nil {
			c.Missed++
			tracker.Step()
			continue
		}
		src.overlong(f.Attrs, &c, log.WithField("feature", f.Index))
		unit, err := i.store.FindGeounitByTreeCode(ctx, plan.Geolevel.ID, code)
		switch {
		case err == nil:
			c.Matched++
			res, aerr := i.assigner.Assign(ctx, unit, f.Attrs, plan.Fields)
			c.Characteristics.Add(res)
			if aerr != nil {
				return c, aerr
			}
		case errors.Is(err, geography.ErrNotFound):
			c.Missed++
		default:
			if geography.IsUnreachable(err) {
				return c, err
			}
			c.Missed++
			log.WithError(err).WithField("tree_code", code).Warn("unit lookup failed")
		}
		tracker.Step()
	}
	if err := rd.Err(); err != nil {
		return c, fmt.Errorf("ingest %s: read %s: %w", plan.Geolevel.Name, src.Path, err)
	}
	tracker.Finish()
	return c, nil
}
