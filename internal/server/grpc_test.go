package server

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"trustlayer/internal/audit/domain"
	"trustlayer/internal/security"
)

type countingRecorder struct{ n int }

func (c *countingRecorder) Record(ctx context.Context, e domain.Event) (*domain.Record, error) {
	c.n++
	return &domain.Record{}, nil
}

type rejectAll struct{}

func (rejectAll) Validate(string) (*security.AssertionClaims, error) {
	return nil, security.ErrInvalidAssertion
}

func dial(t *testing.T, s *grpc.Server) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)
	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestNewServer_HealthIsPublicAndUnaudited(t *testing.T) {
	rec := &countingRecorder{}
	s, hs := NewServer(Deps{Assertions: rejectAll{}, Recorder: rec})
	client := healthpb.NewHealthClient(dial(t, s))

	resp, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())

	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	resp, err = client.Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
	assert.Zero(t, rec.n)
}

func TestMerge(t *testing.T) {
	got := merge(map[string]bool{"/a": true}, nil, map[string]bool{"/b": true})
	assert.Equal(t, map[string]bool{"/a": true, "/b": true}, got)
}
