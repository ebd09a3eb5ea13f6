package audit

import (
	"context"
	"sort"

	"github.com/samber/lo"

	"trustlayer/internal/audit/domain"
)

const topActorLimit = 10

// ActorCount is one entry of the most active actors.
type ActorCount struct {
	ActorID string
	Count   int
}

// Statistics summarises the records matched by a filter.
type Statistics struct {
	Total       int
	ByType      map[domain.EventType]int
	ByCategory  map[domain.Category]int
	BySeverity  map[domain.Severity]int
	ByStatus    map[domain.Status]int
	ByState     map[domain.ArchivalState]int
	TopActors   []ActorCount
	Hourly      [24]int
	FailureRate float64
}

// Statistics aggregates every record matching f, ignoring its paging.
func (r *Recorder) Statistics(ctx context.Context, f domain.Filter) (*Statistics, error) {
	records, err := r.all(ctx, f)
	if err != nil {
		return nil, err
	}
	return Summarize(records), nil
}

// Summarize aggregates records. Hours are UTC.
func Summarize(records []*domain.Record) *Statistics {
	st := &Statistics{
		Total:      len(records),
		ByType:     lo.CountValuesBy(records, func(r *domain.Record) domain.EventType { return r.Type }),
		ByCategory: lo.CountValuesBy(records, func(r *domain.Record) domain.Category { return r.Category }),
		BySeverity: lo.CountValuesBy(records, func(r *domain.Record) domain.Severity { return r.Severity }),
		ByStatus:   lo.CountValuesBy(records, func(r *domain.Record) domain.Status { return r.Status }),
		ByState:    lo.CountValuesBy(records, func(r *domain.Record) domain.ArchivalState { return r.Archival.State }),
	}
	for _, rec := range records {
		st.Hourly[rec.Timestamp.UTC().Hour()]++
	}
	if st.Total > 0 {
		failed := lo.CountBy(records, func(r *domain.Record) bool { return r.Status.Failed() })
		st.FailureRate = float64(failed) / float64(st.Total)
	}
	actors := lo.CountValuesBy(records, func(r *domain.Record) string { return r.Actor.ID })
	st.TopActors = lo.MapToSlice(actors, func(id string, n int) ActorCount { return ActorCount{ActorID: id, Count: n} })
	sort.Slice(st.TopActors, func(i, j int) bool {
		if st.TopActors[i].Count != st.TopActors[j].Count {
			return st.TopActors[i].Count > st.TopActors[j].Count
		}
		return st.TopActors[i].ActorID < st.TopActors[j].ActorID
	})
	if len(st.TopActors) > topActorLimit {
		st.TopActors = st.TopActors[:topActorLimit]
	}
	return st
}

// all pages through every record matching f.
func (r *Recorder) all(ctx context.Context, f domain.Filter) ([]*domain.Record, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	f.Limit = domain.MaxSearchLimit
	f.Offset = 0
	var out []*domain.Record
	for {
		page, err := r.repo.Search(ctx, f)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < f.Limit {
			return out, nil
		}
		f.Offset += len(page)
	}
}
