package characteristics

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/EmpoweredVote/EV-Geography/internal/geography"
	"github.com/EmpoweredVote/EV-Geography/internal/metrics"
)

// Attributes is a feature's attribute record.
type Attributes interface {
	Get(name string) (string, bool)
}

// Result tallies one or more assignments.
type Result struct {
	Assigned    int
	ParseErrors int
	StoreErrors int
}

func (r *Result) Add(o Result) {
	r.Assigned += o.Assigned
	r.ParseErrors += o.ParseErrors
	r.StoreErrors += o.StoreErrors
}

// Assigner writes characteristics for a unit from a feature record.
type Assigner struct {
	store geography.Store
	log   *logrus.Entry
}

func NewAssigner(store geography.Store, log *logrus.Entry) *Assigner {
	return &Assigner{store: store, log: log}
}

// Assign upserts one characteristic per subject field. Unparsable values are
// stored as zero and counted; a failed write is counted and skipped. The
// returned error is non-nil only when the store is unreachable.
func (a *Assigner) Assign(ctx context.Context, unit geography.Geounit, rec Attributes, fields []SubjectField) (Result, error) {
	var res Result
	for _, sf := range fields {
		number, err := a.parse(unit, rec, sf.SourceField)
		percentage := zeroPercentage
		if err != nil {
			res.ParseErrors++
			metrics.Characteristic("parse_error")
		} else if sf.DenominatorSourceField != "" {
			denom, derr := a.parse(unit, rec, sf.DenominatorSourceField)
			if derr != nil {
				res.ParseErrors++
				metrics.Characteristic("parse_error")
			} else {
				percentage = Percentage(number, denom)
			}
		}

		c := &geography.Characteristic{
			GeounitID:  unit.ID,
			SubjectID:  sf.Subject.ID,
			Number:     number,
			Percentage: percentage,
		}
		if err := a.store.UpsertCharacteristic(ctx, c); err != nil {
			if geography.IsUnreachable(err) {
				return res, err
			}
			res.StoreErrors++
			metrics.Characteristic("store_error")
			a.log.WithError(err).WithFields(logrus.Fields{
				"geounit": unit.Name,
				"subject": sf.Subject.Name,
			}).Warn("characteristic write failed")
			continue
		}
		res.Assigned++
		metrics.Characteristic("assigned")
	}
	return res, nil
}

func (a *Assigner) parse(unit geography.Geounit, rec Attributes, field string) (decimal.Decimal, error) {
	raw, ok := rec.Get(field)
	var err error
	v := decimal.Zero
	if !ok {
		err = &AttributeParseError{Field: field, Err: errors.New("attribute missing")}
	} else {
		v, err = ParseTruncated(field, raw)
	}
	if err != nil {
		a.log.WithError(err).WithField("geounit", unit.Name).Warn("substituting zero for unparsable value")
		return decimal.Zero, err
	}
	return v, nil
}
