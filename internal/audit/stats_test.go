package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustlayer/internal/audit/domain"
)

func TestStatistics(t *testing.T) {
	r, clk, _ := newTestRecorder(t)
	ctx := context.Background()
	record := func(e domain.Event) {
		t.Helper()
		_, err := r.Record(ctx, e)
		require.NoError(t, err)
		clk.Advance(time.Minute)
	}
	record(loginEvent("alice"))
	record(loginEvent("alice"))
	record(loginEvent("bob"))
	record(domain.Event{Type: domain.EventLoginFailed, Status: domain.StatusFailure, Actor: domain.Actor{ID: "alice"}})

	st, err := r.Statistics(ctx, domain.Filter{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 4, st.Total, "paging is ignored")
	assert.Equal(t, 3, st.ByType[domain.EventLogin])
	assert.Equal(t, 4, st.ByCategory[domain.CategoryAuthentication])
	assert.Equal(t, 1, st.BySeverity[domain.SeverityMedium])
	assert.Equal(t, 1, st.ByStatus[domain.StatusFailure])
	assert.Equal(t, 4, st.ByState[domain.StateActive])
	assert.Equal(t, 4, st.Hourly[14])
	assert.InDelta(t, 0.25, st.FailureRate, 1e-9)
	assert.Equal(t, []ActorCount{{"alice", 3}, {"bob", 1}}, st.TopActors)
}

func TestSummarize_Empty(t *testing.T) {
	st := Summarize(nil)
	assert.Zero(t, st.Total)
	assert.Zero(t, st.FailureRate)
	assert.Empty(t, st.TopActors)
}

func TestDetectAnomalies(t *testing.T) {
	r, clk, _ := newTestRecorder(t)
	clk.Set(time.Date(2026, 3, 11, 2, 0, 0, 0, time.UTC))
	ctx := context.Background()

	_, err := r.Record(ctx, loginEvent("mallory"))
	require.NoError(t, err)
	ips := []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4"}
	for i := 0; i < 6; i++ {
		_, err := r.Record(ctx, domain.Event{
			Type:   domain.EventLoginFailed,
			Status: domain.StatusFailure,
			Actor:  domain.Actor{ID: "mallory"},
			Source: domain.Source{IP: ips[i%len(ips)]},
		})
		require.NoError(t, err)
		clk.Advance(time.Minute)
	}
	_, err = r.Record(ctx, loginEvent("alice"))
	require.NoError(t, err)

	got, err := r.DetectAnomalies(ctx, "mallory", 0)
	require.NoError(t, err)
	kinds := make(map[AnomalyKind]Anomaly)
	for _, a := range got {
		kinds[a.Kind] = a
	}
	require.Contains(t, kinds, AnomalyFailedLogins)
	assert.Equal(t, 6.0, kinds[AnomalyFailedLogins].Observed)
	require.Contains(t, kinds, AnomalyIPSpread)
	assert.Equal(t, 4.0, kinds[AnomalyIPSpread].Observed)
	require.Contains(t, kinds, AnomalyOffHours)
	assert.NotContains(t, kinds, AnomalyAccessDenied)

	got, err = r.DetectAnomalies(ctx, "alice", time.Hour)
	require.NoError(t, err)
	assert.Len(t, got, 1, "one off-hours login is still mostly off-hours")
	assert.Equal(t, AnomalyOffHours, got[0].Kind)

	_, err = r.DetectAnomalies(ctx, " ", time.Hour)
	assert.ErrorIs(t, err, domain.ErrInvalidEvent)
}

func TestDetect_WindowExcludesOldRecords(t *testing.T) {
	r, clk, _ := newTestRecorder(t)
	ctx := context.Background()
	for i := 0; i < 11; i++ {
		_, err := r.Record(ctx, domain.Event{Type: domain.EventAccessDenied, Status: domain.StatusFailure, Actor: domain.Actor{ID: "u-1"}})
		require.NoError(t, err)
	}
	got, err := r.DetectAnomalies(ctx, "u-1", time.Minute)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, AnomalyAccessDenied, got[0].Kind)

	clk.Advance(time.Hour)
	got, err = r.DetectAnomalies(ctx, "u-1", 30*time.Minute)
	require.NoError(t, err)
	assert.Empty(t, got)
}
