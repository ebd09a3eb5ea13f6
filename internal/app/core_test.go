package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	auditdomain "trustlayer/internal/audit/domain"
	"trustlayer/internal/clock"
	"trustlayer/internal/config"
	dirdomain "trustlayer/internal/directory/domain"
	mfadomain "trustlayer/internal/mfa/domain"
	mfaservice "trustlayer/internal/mfa/service"
	permdomain "trustlayer/internal/permission/domain"
	"trustlayer/internal/platform/rbac"
	"trustlayer/internal/server/interceptors"
)

var _ rbac.AccessChecker = (*Core)(nil)

func testConfig() *config.Config {
	return &config.Config{
		Env:                    "development",
		MFAMaxAttempts:         3,
		MFACodeTTL:             5 * time.Minute,
		MFACodeDigits:          6,
		MFARememberTTL:         30 * 24 * time.Hour,
		MFAAssertionTTL:        10 * time.Minute,
		MFADevOutbox:           true,
		MFARequireForNewDevice: true,
		MFARiskThreshold:       0.7,
		DecisionCacheSize:      100,
		DecisionCacheTTL:       time.Minute,
	}
}

type fixture struct {
	clk    *clock.Fake
	stores *Stores
	core   *Core
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testConfig()
	clk := clock.NewFake(time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC))
	stores := MemoryStores(clk)
	sealer, err := NewSealer(cfg)
	require.NoError(t, err)
	rec, exports, err := NewRecorder(cfg, stores, sealer, nil, clk, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, exports.Kafka)
	core, err := NewCore(cfg, stores, rec, clk, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, core.Assertions)
	return &fixture{clk: clk, stores: stores, core: core}
}

func TestCore_CheckRecordsDecision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.stores.Directory.CreateUser(ctx, &dirdomain.User{ID: "alice"}))
	require.NoError(t, f.stores.Grants.Create(ctx, &permdomain.Grant{
		PrincipalID: "alice", Resource: "reports", Action: "READ", Level: permdomain.Read, Granted: true,
		Source: permdomain.Source{Type: permdomain.SourceDirect},
	}))

	ok, d, err := f.core.Check(ctx, "alice", "reports", "READ", permdomain.Read, permdomain.RequestContext{}, auditdomain.Context{CorrelationID: "c1"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, permdomain.Read, d.Level)

	ok, _, err = f.core.Check(ctx, "alice", "reports", "WRITE", permdomain.Write, permdomain.RequestContext{}, auditdomain.Context{CorrelationID: "c1"})
	require.NoError(t, err)
	assert.False(t, ok)

	recs, err := f.core.Recorder.Search(ctx, auditdomain.Filter{CorrelationID: "c1"})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, auditdomain.EventAccessGranted, recs[0].Type)
	assert.Equal(t, auditdomain.EventAccessDenied, recs[1].Type)
	for _, r := range recs {
		assert.NoError(t, f.core.Recorder.Verify(r))
	}
}

func TestCore_RequireMapsMFAViolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.stores.Directory.CreateUser(ctx, &dirdomain.User{ID: "bob"}))
	require.NoError(t, f.stores.Grants.Create(ctx, &permdomain.Grant{
		PrincipalID: "bob", Resource: "ledger", Action: "WRITE", Level: permdomain.Write, Granted: true,
		Source:     permdomain.Source{Type: permdomain.SourceDirect},
		Conditions: &permdomain.Conditions{Technical: &permdomain.TechnicalConstraint{MFARequired: true}},
	}))

	plain := interceptors.WithIdentity(ctx, interceptors.Identity{UserID: "bob"})
	_, _, err := rbac.Require(plain, f.core, "ledger", "WRITE", permdomain.Write)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "multi-factor authentication required")

	verified := interceptors.WithIdentity(ctx, interceptors.Identity{UserID: "bob", MFASessionID: "m-1"})
	_, d, err := rbac.Require(verified, f.core, "ledger", "WRITE", permdomain.Write)
	require.NoError(t, err)
	assert.Equal(t, permdomain.Write, d.Level)
}

func TestCore_MFAThroughOutboxIsAudited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.stores.Directory.CreateUser(ctx, &dirdomain.User{ID: "bob", Phone: "+15550100"}))

	res, err := f.core.MFA.Initiate(ctx, mfaservice.InitiateRequest{UserID: "bob", LoginSessionID: "login-1", Method: mfadomain.MethodSMS})
	require.NoError(t, err)
	msg, ok := f.core.Outbox.Latest(res.Session.ID)
	require.True(t, ok)
	assert.Equal(t, "+15550100", msg.Destination)

	vr, err := f.core.MFA.Verify(ctx, mfaservice.VerifyRequest{SessionID: res.Session.ID, Code: msg.Code, IP: "198.51.100.4"})
	require.NoError(t, err)
	assert.Equal(t, mfaservice.OutcomeVerified, vr.Outcome)

	recs, err := f.core.Recorder.Search(ctx, auditdomain.Filter{ActorID: "bob"})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, auditdomain.StatusPending, recs[0].Status)
	assert.Equal(t, auditdomain.EventMFAVerified, recs[1].Type)
	assert.Equal(t, auditdomain.StatusSuccess, recs[1].Status)
	assert.Equal(t, "198.51.100.4", recs[1].Source.IP)
}

func TestCore_HealthCheckCompilesDefaultPolicy(t *testing.T) {
	f := newFixture(t)
	assert.NoError(t, f.core.Policy.HealthCheck(context.Background()))
}

func TestOpenStores_MemoryOutsideProduction(t *testing.T) {
	s, err := OpenStores(context.Background(), &config.Config{Env: "development"}, clock.Real(), zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, s.DB)
	assert.NoError(t, s.Close())

	_, err = OpenStores(context.Background(), &config.Config{Env: "production"}, clock.Real(), zap.NewNop())
	assert.Error(t, err)
}

func TestEnvironment(t *testing.T) {
	assert.Equal(t, auditdomain.EnvProd, environment("production"))
	assert.Equal(t, auditdomain.EnvDev, environment(""))
}
