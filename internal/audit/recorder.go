// Package audit builds sealed audit records, persists them and drives their
// retention lifecycle.
package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"trustlayer/internal/audit/domain"
	"trustlayer/internal/audit/repository"
	"trustlayer/internal/clock"
)

// ErrNotFound is returned by Get for an unknown record id.
var ErrNotFound = errors.New("audit: record not found")

// Sink receives every persisted record. Sinks are best-effort: a failing sink
// is logged and never fails Record.
type Sink interface {
	Emit(ctx context.Context, r *domain.Record) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, r *domain.Record) error

func (f SinkFunc) Emit(ctx context.Context, r *domain.Record) error { return f(ctx, r) }

// Recorder turns events into sealed, persisted records. Safe for concurrent use.
type Recorder struct {
	repo      repository.Repository
	sealer    *Sealer
	retention domain.RetentionPolicy
	sinks     []Sink
	env       domain.Environment
	app       string
	clock     clock.Clock
	log       *zap.Logger
	newID     func(ts time.Time) string

	records metric.Int64Counter
}

// Option configures a Recorder.
type Option func(*Recorder)

func WithClock(c clock.Clock) Option { return func(r *Recorder) { r.clock = c } }

func WithLogger(l *zap.Logger) Option { return func(r *Recorder) { r.log = l } }

// WithRetention replaces the built-in retention table.
func WithRetention(p domain.RetentionPolicy) Option { return func(r *Recorder) { r.retention = p } }

// WithSink adds a best-effort sink.
func WithSink(s Sink) Option { return func(r *Recorder) { r.sinks = append(r.sinks, s) } }

// WithSource stamps records that carry no source application or environment.
func WithSource(app string, env domain.Environment) Option {
	return func(r *Recorder) {
		r.app = app
		r.env = env
	}
}

// WithIDGenerator overrides record id generation.
func WithIDGenerator(fn func(ts time.Time) string) Option { return func(r *Recorder) { r.newID = fn } }

// NewRecorder returns a Recorder persisting to repo. A nil sealer produces
// unsigned checksums.
func NewRecorder(repo repository.Repository, sealer *Sealer, opts ...Option) (*Recorder, error) {
	r := &Recorder{
		repo:      repo,
		sealer:    sealer,
		retention: domain.DefaultRetentionPolicy(),
		clock:     clock.Real(),
		log:       zap.NewNop(),
		newID:     NewID,
	}
	for _, o := range opts {
		o(r)
	}
	if r.sealer == nil {
		r.sealer = &Sealer{}
	}
	if err := r.retention.Validate(); err != nil {
		return nil, err
	}
	if !r.env.Valid() {
		return nil, fmt.Errorf("audit: invalid environment %q", r.env)
	}
	counter, err := otel.Meter("trustlayer/audit").Int64Counter("audit.records",
		metric.WithDescription("Audit records written by category"))
	if err != nil {
		r.log.Warn("audit record counter unavailable", zap.Error(err))
	}
	r.records = counter
	return r, nil
}

// Record validates e, builds and seals a record, persists it and then hands
// it to the sinks. A persistence failure is returned; the event is never
// dropped silently.
func (r *Recorder) Record(ctx context.Context, e domain.Event) (*domain.Record, error) {
	e.Normalize()
	if e.Source.Application == "" {
		e.Source.Application = r.app
	}
	if e.Source.Environment == "" {
		e.Source.Environment = r.env
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	if err := normalizeTarget(e.Target); err != nil {
		return nil, err
	}
	ts := storedTime(r.clock.Now())
	months := r.retention.Months(e.Category, e.Regulations, e.RetentionMonths)
	rec := &domain.Record{
		ID:          r.newID(ts),
		Timestamp:   ts,
		Type:        e.Type,
		Category:    e.Category,
		Severity:    e.Severity,
		Status:      e.Status,
		Description: e.Description,
		Actor:       e.Actor,
		Target:      e.Target,
		Source:      e.Source,
		Context:     e.Context,
		Security:    e.Security,
		Compliance: domain.Compliance{
			Regulations:     regulations(e.Regulations),
			RetentionMonths: months,
			PersonalData:    e.PersonalData,
			LegalBasis:      e.LegalBasis,
		},
		Links:    e.Links,
		Tags:     e.Tags,
		Metadata: e.Metadata,
		Archival: r.retention.Schedule(ts, months),
	}
	rec = rec.Clone()
	if err := r.sealer.Seal(rec); err != nil {
		return nil, err
	}
	if err := r.repo.Create(ctx, rec); err != nil {
		r.log.Error("audit record not persisted",
			zap.String("event_type", string(rec.Type)), zap.String("actor_id", rec.Actor.ID), zap.Error(err))
		return nil, fmt.Errorf("audit: persist record: %w", err)
	}
	if r.records != nil {
		r.records.Add(ctx, 1, metric.WithAttributes(
			attribute.String("category", string(rec.Category)),
			attribute.String("severity", string(rec.Severity))))
	}
	r.fanOut(ctx, rec)
	return rec, nil
}

func (r *Recorder) fanOut(ctx context.Context, rec *domain.Record) {
	var errs *multierror.Error
	for _, s := range r.sinks {
		if err := s.Emit(ctx, rec.Clone()); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		r.log.Warn("audit sink failed", zap.String("record_id", rec.ID), zap.Error(err))
	}
}

// Get returns a stored record.
func (r *Recorder) Get(ctx context.Context, id string) (*domain.Record, error) {
	rec, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	return rec, nil
}

// Verify checks a record's checksum and signature.
func (r *Recorder) Verify(rec *domain.Record) error { return r.sealer.Verify(rec) }

// Search returns records matching f.
func (r *Recorder) Search(ctx context.Context, f domain.Filter) ([]*domain.Record, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return r.repo.Search(ctx, f)
}

func regulations(regs []domain.Regulation) []domain.Regulation {
	if len(regs) == 0 {
		return nil
	}
	return lo.Uniq(regs)
}
