// Package renest rebuilds a coarser geolevel from the finer geolevel nested
// inside it. A unit's children are the units of the finer level whose tree
// code starts with the unit's tree code. Each call handles one hop; callers
// run it once per geolevel, finest first.
package renest

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/twpayne/go-geos"
	"golang.org/x/sync/errgroup"

	"github.com/EmpoweredVote/EV-Geography/internal/characteristics"
	"github.com/EmpoweredVote/EV-Geography/internal/geography"
	"github.com/EmpoweredVote/EV-Geography/internal/geometry"
	"github.com/EmpoweredVote/EV-Geography/internal/metrics"
	"github.com/EmpoweredVote/EV-Geography/internal/progress"
)

// Counters are the results of renesting. They are returned by value and
// summed by the caller.
type Counters struct {
	GeometryModified int `json:"geometry_modified"`
	DataModified     int `json:"data_modified"`
	Failed           int `json:"failed"`
}

func (c Counters) Add(o Counters) Counters {
	return Counters{
		GeometryModified: c.GeometryModified + o.GeometryModified,
		DataModified:     c.DataModified + o.DataModified,
		Failed:           c.Failed + o.Failed,
	}
}

// Aggregator renests geolevels over a store.
type Aggregator struct {
	store    geography.Store
	workers  int
	log      *logrus.Entry
	progress progress.Func
}

type Option func(*Aggregator)

// WithWorkers sets how many units are aggregated at once.
func WithWorkers(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.workers = n
		}
	}
}

func WithProgress(fn progress.Func) Option {
	return func(a *Aggregator) { a.progress = fn }
}

func WithLogger(log *logrus.Entry) Option {
	return func(a *Aggregator) { a.log = log }
}

func New(store geography.Store, opts ...Option) *Aggregator {
	a := &Aggregator{store: store, workers: 1, log: logrus.NewEntry(logrus.StandardLogger())}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Renest recomputes every unit of level from the units of child. Units are
// independent of each other and are spread over the worker pool. A unit that
// fails is counted and skipped; an unreachable store or a cancelled context
// stops the run.
func (a *Aggregator) Renest(ctx context.Context, level, child geography.Geolevel, subjects []geography.Subject) (Counters, error) {
	start := time.Now()
	log := a.log.WithFields(logrus.Fields{"geolevel": level.Name, "child": child.Name})

	refs, err := a.store.ListGeounitRefs(ctx, level.ID)
	if err != nil {
		return Counters{}, err
	}
	log.WithField("units", len(refs)).Info("recomputing geometric and numerical aggregates")

	tracker := progress.New(len(refs), a.progress)
	results := make([]Counters, len(refs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for idx, ref := range refs {
		if gctx.Err() != nil {
			break
		}
		idx, ref := idx, ref
		g.Go(func() error {
			defer tracker.Step()
			c, err := a.renestRef(gctx, ref, level, child, subjects)
			results[idx] = c
			if err != nil && (geography.IsUnreachable(err) || gctx.Err() != nil) {
				return err
			}
			if err != nil {
				results[idx].Failed++
				log.WithError(err).WithField("tree_code", ref.TreeCode).Warn("failed to renest unit")
			}
			return nil
		})
	}
	err = g.Wait()

	var total Counters
	for _, c := range results {
		total = total.Add(c)
	}
	if err == nil {
		err = ctx.Err()
	}

	metrics.RenestUnits(level.Name, "geometry", total.GeometryModified)
	metrics.RenestUnits(level.Name, "data", total.DataModified)
	metrics.RenestUnits(level.Name, "failed", total.Failed)
	status := "ok"
	if err != nil {
		status = "failed"
	} else {
		tracker.Finish()
	}
	metrics.ObserveJob("renest", status, time.Since(start))

	log.WithFields(logrus.Fields{
		"geometry": total.GeometryModified,
		"data":     total.DataModified,
		"failed":   total.Failed,
	}).Info("geounits modified")
	return total, err
}

func (a *Aggregator) renestRef(ctx context.Context, ref geography.GeounitRef, level, child geography.Geolevel, subjects []geography.Subject) (Counters, error) {
	unit, err := a.store.GetGeounit(ctx, ref.ID)
	if err != nil {
		return Counters{}, err
	}
	return a.AggregateUnit(ctx, unit, level, child, subjects)
}

// AggregateUnit rebuilds one unit from its children at the child level. The
// children are linked to the unit. When their union is empty nothing else
// changes. When the union reaches outside the unit's geometry, the geometry
// and its simplification are replaced together. Then, per subject, the
// children's numbers are summed and the unit's characteristic is created or
// updated when it differs.
func (a *Aggregator) AggregateUnit(ctx context.Context, unit geography.Geounit, level, child geography.Geolevel, subjects []geography.Subject) (Counters, error) {
	var c Counters

	children, err := a.store.FindGeounitsByTreePrefix(ctx, unit.TreeCode, child.ID)
	if err != nil {
		return c, err
	}
	if len(children) == 0 {
		return c, nil
	}

	ids := make([]uuid.UUID, len(children))
	geoms := make([]*geos.Geom, len(children))
	for i, ch := range children {
		ids[i] = ch.ID
		geoms[i] = ch.Geom.Geom
	}
	if err := a.store.SetGeounitParent(ctx, ids, unit.ID); err != nil {
		return c, err
	}

	union, err := geometry.UnionAll(geoms)
	if err != nil {
		return c, err
	}
	if union == nil {
		return c, nil
	}

	uncovered, err := geometry.UncoveredArea(union, unit.Geom.Geom)
	if err != nil {
		return c, err
	}
	if uncovered != 0 {
		geom, simple, err := geometry.Aggregate(union, level.Tolerance)
		if err != nil {
			return c, err
		}
		if !geom.IsEmpty() {
			if err := a.store.UpdateGeounitGeometry(ctx, unit.ID, geom, simple); err != nil {
				return c, err
			}
			c.GeometryModified++
		}
	}

	for _, subject := range subjects {
		changed, err := a.aggregateSubject(ctx, unit, ids, subject)
		if err != nil {
			return c, err
		}
		if changed {
			c.DataModified++
		}
	}
	return c, nil
}

// aggregateSubject sums the children's values for subject and stores the
// total on unit, reporting whether anything was written.
func (a *Aggregator) aggregateSubject(ctx context.Context, unit geography.Geounit, childIDs []uuid.UUID, subject geography.Subject) (bool, error) {
	sum, err := a.store.SumCharacteristics(ctx, childIDs, subject.ID)
	if err != nil {
		return false, err
	}
	percentage := characteristics.Percentage(sum, decimal.Zero)
	if subject.PercentageDenominator != nil && !sum.IsZero() {
		denom, err := a.store.SumCharacteristics(ctx, childIDs, *subject.PercentageDenominator)
		if err != nil {
			return false, err
		}
		percentage = characteristics.Percentage(sum, denom)
	}

	existing, err := a.store.FindCharacteristic(ctx, unit.ID, subject.ID)
	switch {
	case err == nil:
		if existing.Number.Equal(sum) && existing.Percentage.Equal(percentage) {
			return false, nil
		}
		existing.Number, existing.Percentage = sum, percentage
		return true, a.store.UpsertCharacteristic(ctx, &existing)
	case errors.Is(err, geography.ErrNotFound):
		return true, a.store.UpsertCharacteristic(ctx, &geography.Characteristic{
			GeounitID:  unit.ID,
			SubjectID:  subject.ID,
			Number:     sum,
			Percentage: percentage,
		})
	default:
		return false, err
	}
}
