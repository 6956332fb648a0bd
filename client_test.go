package gatekeep

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, opts ...Option) *Client {
	t.Helper()
	client, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, client.Stop())
	})
	return client
}

// subjectAdmittedAt finds subject ids on either side of the given rollout
// percentage. Bucketing is deterministic per subject, so scanning a numbered
// id space always finds both within a few hundred tries.
func subjectAdmittedAt(t *testing.T, client *Client, flagID string, admitted bool) string {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 2000; i++ {
		id := fmt.Sprintf("user-%d", i)
		d, err := client.Decide(ctx, flagID, NewContext(id))
		require.NoError(t, err)
		if d.Enabled == admitted {
			return id
		}
	}
	t.Fatalf("no subject found with admitted=%v for %s", admitted, flagID)
	return ""
}

func TestClient_GradualRolloutThenEmergencyStop(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	// A fresh flag is off for everyone no matter what the caller asked for.
	_, err := client.RegisterFlag(ctx, "alice", Flag{ID: "f1", Enabled: true, RolloutPercentage: 100})
	require.NoError(t, err)
	assert.False(t, client.IsEnabled(ctx, "f1", NewContext("user-1")))

	// Open to 45%: some subjects in, some out, each deterministically.
	flag, err := client.SetRolloutPercentage(ctx, "alice", "f1", 45)
	require.NoError(t, err)
	assert.True(t, flag.Enabled)
	assert.Equal(t, 45, flag.RolloutPercentage)

	inside := subjectAdmittedAt(t, client, "f1", true)
	outside := subjectAdmittedAt(t, client, "f1", false)
	for i := 0; i < 10; i++ {
		assert.True(t, client.IsEnabled(ctx, "f1", NewContext(inside)))
		assert.False(t, client.IsEnabled(ctx, "f1", NewContext(outside)))
	}

	// Kill switch: everyone off, immediately.
	flag, err = client.EmergencyDisable(ctx, "oncall", "f1", "anomaly detected")
	require.NoError(t, err)
	assert.False(t, flag.Enabled)
	assert.Equal(t, 0, flag.RolloutPercentage)
	assert.Equal(t, "[EMERGENCY] anomaly detected", flag.RollbackReason)
	assert.False(t, client.IsEnabled(ctx, "f1", NewContext(inside)))
	assert.False(t, client.IsEnabled(ctx, "f1", NewContext(outside)))

	// The trail tells the whole story, newest first.
	entries := client.AuditEntries(0)
	require.Len(t, entries, 3)
	assert.Equal(t, "emergency-disable: anomaly detected", entries[0].Action)
	assert.Equal(t, "oncall", entries[0].Actor)
	assert.Equal(t, "rollout 45%", entries[1].Action)
	assert.Equal(t, "register", entries[2].Action)
}

func TestClient_UnknownFlagFailsClosed(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	assert.False(t, client.IsEnabled(ctx, "ghost", NewContext("user-1")))
	assert.Equal(t, false, client.Value(ctx, "ghost", NewContext("user-1")))

	_, err := client.Decide(ctx, "ghost", NewContext("user-1"))
	assert.True(t, IsNotFound(err))
}

func TestClient_ValuePerKind(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	_, err := client.RegisterFlag(ctx, "alice", Flag{ID: "pct", Kind: KindPercentage})
	require.NoError(t, err)
	_, err = client.RegisterFlag(ctx, "alice", Flag{ID: "bool", Kind: KindBoolean})
	require.NoError(t, err)

	_, err = client.SetRolloutPercentage(ctx, "alice", "pct", 100)
	require.NoError(t, err)
	_, err = client.SetRolloutPercentage(ctx, "alice", "bool", 100)
	require.NoError(t, err)

	assert.Equal(t, 100, client.Value(ctx, "pct", NewContext("user-1")))
	assert.Equal(t, true, client.Value(ctx, "bool", NewContext("user-1")))

	_, err = client.SetRolloutPercentage(ctx, "alice", "pct", 0)
	require.NoError(t, err)
	assert.Equal(t, 0, client.Value(ctx, "pct", NewContext("user-1")))
}

func TestClient_SegmentTargeting(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	_, err := client.RegisterFlag(ctx, "alice", Flag{
		ID: "beta-ui", Kind: KindSegment, Segments: []string{"beta", "internal"},
	})
	require.NoError(t, err)
	_, err = client.SetRolloutPercentage(ctx, "alice", "beta-ui", 100)
	require.NoError(t, err)

	assert.True(t, client.IsEnabled(ctx, "beta-ui", NewContext("user-1").WithSegment("beta")))
	assert.False(t, client.IsEnabled(ctx, "beta-ui", NewContext("user-1").WithSegment("public")))
}

func TestClient_TargetingRule(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	_, err := client.RegisterFlag(ctx, "alice", Flag{
		ID: "big-accounts", Rule: `plan == "enterprise" && seats >= 50`,
	})
	require.NoError(t, err)
	_, err = client.SetRolloutPercentage(ctx, "alice", "big-accounts", 100)
	require.NoError(t, err)

	hit := NewContext("acct-1").WithAttribute("plan", "enterprise").WithAttribute("seats", 80)
	miss := NewContext("acct-2").WithAttribute("plan", "starter").WithAttribute("seats", 80)
	assert.True(t, client.IsEnabled(ctx, "big-accounts", hit))
	assert.False(t, client.IsEnabled(ctx, "big-accounts", miss))
}

func TestClient_SubjectExclusionBeatsFullRollout(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	_, err := client.RegisterFlag(ctx, "alice", Flag{ID: "f1"})
	require.NoError(t, err)
	_, err = client.SetRolloutPercentage(ctx, "alice", "f1", 100)
	require.NoError(t, err)

	require.NoError(t, client.DisableForSubject(ctx, "alice", "f1", "user-13"))
	assert.False(t, client.IsEnabled(ctx, "f1", NewContext("user-13")))
	assert.True(t, client.IsEnabled(ctx, "f1", NewContext("user-14")))

	require.NoError(t, client.EnableForSubject(ctx, "alice", "f1", "user-13"))
	assert.True(t, client.IsEnabled(ctx, "f1", NewContext("user-13")))
}

func TestClient_CategorySweep(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	for _, id := range []string{"c1", "c2"} {
		_, err := client.RegisterFlag(ctx, "alice", Flag{ID: id, Category: "checkout"})
		require.NoError(t, err)
		_, err = client.SetRolloutPercentage(ctx, "alice", id, 100)
		require.NoError(t, err)
	}
	assert.True(t, client.IsEnabled(ctx, "c1", NewContext("user-1")))

	results := client.DisableCategory(ctx, "alice", "checkout")
	require.Len(t, results, 2)
	for _, r := range results {
		assert.NoError(t, r.Err)
	}
	assert.False(t, client.IsEnabled(ctx, "c1", NewContext("user-1")))
	assert.False(t, client.IsEnabled(ctx, "c2", NewContext("user-1")))

	// Re-enabling keeps each flag's stored percentage, so full rollout
	// resumes where it left off.
	results = client.EnableCategory(ctx, "alice", "checkout")
	require.Len(t, results, 2)
	assert.True(t, client.IsEnabled(ctx, "c1", NewContext("user-1")))
}

func TestClient_BrandLifecycle(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	_, err := client.RegisterBrand(ctx, "alice", Brand{ID: "acme", DisplayName: "Acme"})
	require.NoError(t, err)
	_, err = client.RegisterBrand(ctx, "alice", Brand{ID: "zen", DisplayName: "Zen"})
	require.NoError(t, err)

	cur, err := client.CurrentBrand()
	require.NoError(t, err)
	assert.Equal(t, "acme", cur.ID)
	assert.True(t, cur.IsDefault)

	_, ok := client.PreviewBrand()
	assert.False(t, ok)

	require.NoError(t, client.EnterPreview(ctx, "alice", "zen"))
	preview, ok := client.PreviewBrand()
	require.True(t, ok)
	assert.Equal(t, "zen", preview.ID)

	// Previewing leaves the current brand alone.
	cur, err = client.CurrentBrand()
	require.NoError(t, err)
	assert.Equal(t, "acme", cur.ID)

	applied, err := client.ApplyPreview(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "zen", applied.ID)
	cur, err = client.CurrentBrand()
	require.NoError(t, err)
	assert.Equal(t, "zen", cur.ID)
	_, ok = client.PreviewBrand()
	assert.False(t, ok)

	def, err := client.RollbackBrand(ctx, "oncall", "zen")
	require.NoError(t, err)
	assert.Equal(t, "acme", def.ID)
	cur, err = client.CurrentBrand()
	require.NoError(t, err)
	assert.Equal(t, "acme", cur.ID)
}

func TestClient_PersistenceAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first, err := New(WithDiskPersistence(dir))
	require.NoError(t, err)
	require.NoError(t, first.Start(ctx))

	_, err = first.RegisterFlag(ctx, "alice", Flag{ID: "f1"})
	require.NoError(t, err)
	_, err = first.SetRolloutPercentage(ctx, "alice", "f1", 45)
	require.NoError(t, err)
	_, err = first.RegisterBrand(ctx, "alice", Brand{ID: "acme", DisplayName: "Acme"})
	require.NoError(t, err)
	require.NoError(t, first.Stop())

	second, err := New(WithDiskPersistence(dir))
	require.NoError(t, err)
	require.NoError(t, second.Start(ctx))
	defer second.Stop()

	flag, err := second.GetFlag("f1")
	require.NoError(t, err)
	assert.Equal(t, 45, flag.RolloutPercentage)
	assert.True(t, flag.Enabled)

	cur, err := second.CurrentBrand()
	require.NoError(t, err)
	assert.Equal(t, "acme", cur.ID)
}

func TestClient_SQLitePersistenceAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gatekeep.db")
	ctx := context.Background()

	first, err := New(WithSQLitePersistence(path))
	require.NoError(t, err)
	require.NoError(t, first.Start(ctx))
	_, err = first.RegisterFlag(ctx, "alice", Flag{ID: "f1"})
	require.NoError(t, err)
	require.NoError(t, first.Stop())

	second, err := New(WithSQLitePersistence(path))
	require.NoError(t, err)
	require.NoError(t, second.Start(ctx))
	defer second.Stop()

	_, err = second.GetFlag("f1")
	require.NoError(t, err)
}

func TestClient_StartWithoutPersistence(t *testing.T) {
	client, err := New()
	require.NoError(t, err)
	require.NoError(t, client.Start(context.Background()))
	require.NoError(t, client.Stop())
}

func TestClient_SnapshotScheduleRequiresPersistence(t *testing.T) {
	_, err := New(WithSnapshotSchedule("*/5 * * * *"))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "persistence"))
}

func TestClient_AuditRetentionOption(t *testing.T) {
	client := newTestClient(t, WithAuditRetention(3))
	ctx := context.Background()

	_, err := client.RegisterFlag(ctx, "alice", Flag{ID: "f1"})
	require.NoError(t, err)
	for i := 0; i < 6; i++ {
		_, err = client.Toggle(ctx, "alice", "f1")
		require.NoError(t, err)
	}

	m := client.Metrics()
	assert.Equal(t, 3, m.AuditLength)
	assert.Equal(t, uint64(4), m.AuditEvicted)
	assert.Len(t, client.AuditEntries(0), 3)
}

func TestClient_Metrics(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	_, err := client.RegisterFlag(ctx, "alice", Flag{ID: "f1"})
	require.NoError(t, err)
	_, err = client.RegisterBrand(ctx, "alice", Brand{ID: "acme", DisplayName: "Acme"})
	require.NoError(t, err)

	m := client.Metrics()
	assert.Equal(t, 1, m.FlagCount)
	assert.Equal(t, 1, m.BrandCount)
	assert.Equal(t, 2, m.AuditLength)
	assert.Equal(t, uint64(0), m.AuditEvicted)
}

func TestClient_InvalidOptions(t *testing.T) {
	_, err := New(WithAuditRetention(-1))
	require.Error(t, err)

	_, err = New(WithClock(nil))
	require.Error(t, err)

	_, err = New(WithAdminServer(AdminConfig{Port: -1}))
	require.Error(t, err)
}
