package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"trustlayer/internal/audit"
	"trustlayer/internal/audit/domain"
)

type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []int64
	done      context.CancelFunc
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.msgs) == 0 {
		r.done()
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	m := r.msgs[0]
	r.msgs = r.msgs[1:]
	return m, nil
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func sealed(t *testing.T, s *audit.Sealer, id string) []byte {
	t.Helper()
	rec := &domain.Record{
		ID:        id,
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Type:      domain.EventLogin,
		Category:  domain.CategoryAuthentication,
		Severity:  domain.SeverityInfo,
		Status:    domain.StatusSuccess,
		Actor:     domain.Actor{Type: domain.ActorUser, ID: "u1"},
	}
	require.NoError(t, s.Seal(rec))
	b, err := json.Marshal(rec)
	require.NoError(t, err)
	return b
}

func TestForwarder_ForwardsVerifiedAndDropsTampered(t *testing.T) {
	sealer, err := audit.NewSealer([]byte("secret"))
	require.NoError(t, err)

	good := sealed(t, sealer, "a")
	var tampered map[string]any
	require.NoError(t, json.Unmarshal(sealed(t, sealer, "b"), &tampered))
	tampered["status"] = "FAILURE"
	bad, err := json.Marshal(tampered)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	reader := &fakeReader{
		msgs: []kafka.Message{
			{Offset: 1, Value: good},
			{Offset: 2, Value: []byte("not json")},
			{Offset: 3, Value: bad},
		},
		done: cancel,
	}
	var got []string
	sink := audit.SinkFunc(func(ctx context.Context, r *domain.Record) error {
		got = append(got, r.ID)
		return nil
	})

	err = NewForwarder(reader, sink, sealer, zap.NewNop()).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"a"}, got)
	assert.Equal(t, []int64{1, 2, 3}, reader.committed)
}

func TestForwarder_SinkFailureStillCommits(t *testing.T) {
	sealer, err := audit.NewSealer(nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	reader := &fakeReader{msgs: []kafka.Message{{Offset: 7, Value: sealed(t, sealer, "x")}}, done: cancel}
	sink := audit.SinkFunc(func(ctx context.Context, r *domain.Record) error { return errors.New("loki down") })

	err = NewForwarder(reader, sink, nil, nil).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []int64{7}, reader.committed)
}
