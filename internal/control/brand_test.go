package control

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OrlandoBitencourt/gatekeep/internal/audit"
	"github.com/OrlandoBitencourt/gatekeep/internal/domain"
	"github.com/OrlandoBitencourt/gatekeep/internal/store"
)

func newTestCanary(t *testing.T) (*BrandCanary, *store.Store, *audit.Trail) {
	t.Helper()
	s := store.New(nil)
	trail := audit.New(1000)
	canary := NewBrandCanary(s, trail, slog.Default(), nil, time.Now)
	return canary, s, trail
}

func registerBrands(t *testing.T, canary *BrandCanary, ids ...string) {
	t.Helper()
	for _, id := range ids {
		_, err := canary.Register(context.Background(), "bootstrap", &domain.BrandRecord{
			ID:          id,
			DisplayName: "Brand " + id,
		})
		require.NoError(t, err)
	}
}

func TestRegister_FirstBrandBecomesDefaultAndCurrent(t *testing.T) {
	canary, s, trail := newTestCanary(t)
	registerBrands(t, canary, "b1")

	brand, err := s.GetBrand("b1")
	require.NoError(t, err)
	assert.True(t, brand.IsDefault)
	assert.True(t, brand.IsActive)
	assert.Equal(t, 100, brand.RolloutPercentage)

	cur := s.CurrentBrand()
	require.NotNil(t, cur)
	assert.Equal(t, "b1", cur.ID)
	assert.Equal(t, "register", trail.List(1)[0].Action)
}

func TestRegister_SingleDefaultInvariant(t *testing.T) {
	canary, s, _ := newTestCanary(t)
	registerBrands(t, canary, "b1")

	// A later brand claiming default is overruled.
	_, err := canary.Register(context.Background(), "alice", &domain.BrandRecord{
		ID:          "b2",
		DisplayName: "Brand b2",
		IsDefault:   true,
	})
	require.NoError(t, err)

	defaults := 0
	for _, b := range s.ListBrands() {
		if b.IsDefault {
			defaults++
			assert.Equal(t, "b1", b.ID)
		}
	}
	assert.Equal(t, 1, defaults)

	// Registering never moves the current pointer off the default.
	assert.Equal(t, "b1", s.CurrentBrand().ID)
}

func TestRegister_DuplicateAndInvalid(t *testing.T) {
	canary, _, _ := newTestCanary(t)
	registerBrands(t, canary, "b1")
	ctx := context.Background()

	_, err := canary.Register(ctx, "alice", &domain.BrandRecord{ID: "b1", DisplayName: "again"})
	assert.True(t, domain.IsValidationError(err))

	_, err = canary.Register(ctx, "alice", &domain.BrandRecord{ID: "b3"})
	assert.True(t, domain.IsValidationError(err))
}

func TestPreview_IsolatedFromCurrent(t *testing.T) {
	canary, s, _ := newTestCanary(t)
	registerBrands(t, canary, "b1", "b2")
	ctx := context.Background()

	require.NoError(t, canary.EnterPreview(ctx, "alice", "b2"))

	// Previewing changes only the preview pointer.
	assert.Equal(t, "b1", s.CurrentBrand().ID)
	require.NotNil(t, s.PreviewBrand())
	assert.Equal(t, "b2", s.PreviewBrand().ID)
}

func TestPreview_ReentrantReplacesCandidate(t *testing.T) {
	canary, s, _ := newTestCanary(t)
	registerBrands(t, canary, "b1", "b2", "b3")
	ctx := context.Background()

	require.NoError(t, canary.EnterPreview(ctx, "alice", "b2"))
	require.NoError(t, canary.EnterPreview(ctx, "alice", "b3"))
	assert.Equal(t, "b3", s.PreviewBrand().ID)
}

func TestPreview_UnknownBrand(t *testing.T) {
	canary, s, trail := newTestCanary(t)
	registerBrands(t, canary, "b1")

	err := canary.EnterPreview(context.Background(), "alice", "ghost")
	assert.True(t, domain.IsNotFound(err))
	assert.Nil(t, s.PreviewBrand())
	assert.Equal(t, 1, trail.Len()) // only the register entry
}

func TestExitPreview(t *testing.T) {
	canary, s, trail := newTestCanary(t)
	registerBrands(t, canary, "b1", "b2")
	ctx := context.Background()

	require.NoError(t, canary.EnterPreview(ctx, "alice", "b2"))
	auditBefore := trail.Len()

	canary.ExitPreview(ctx, "alice")
	assert.Nil(t, s.PreviewBrand())
	assert.Equal(t, "b1", s.CurrentBrand().ID)
	assert.Equal(t, "preview exit", trail.List(1)[0].Action)

	// Exiting again with nothing active mutates nothing and audits nothing.
	canary.ExitPreview(ctx, "alice")
	assert.Equal(t, auditBefore+1, trail.Len())
}

func TestApplyPreview(t *testing.T) {
	canary, s, trail := newTestCanary(t)
	registerBrands(t, canary, "b1", "b2")
	ctx := context.Background()

	require.NoError(t, canary.EnterPreview(ctx, "alice", "b2"))
	applied, err := canary.ApplyPreview(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "b2", applied.ID)
	assert.True(t, applied.IsActive)

	assert.Equal(t, "b2", s.CurrentBrand().ID)
	assert.Nil(t, s.PreviewBrand())
	assert.Equal(t, "preview apply", trail.List(1)[0].Action)
}

func TestApplyPreview_WithoutPreview(t *testing.T) {
	canary, s, _ := newTestCanary(t)
	registerBrands(t, canary, "b1")

	_, err := canary.ApplyPreview(context.Background(), "alice")
	assert.True(t, domain.IsInvalidState(err))
	assert.Equal(t, "b1", s.CurrentBrand().ID)
}

func TestUpdateRolloutPercentage_ClampsAndRefreshes(t *testing.T) {
	canary, s, trail := newTestCanary(t)
	registerBrands(t, canary, "b1", "b2")
	ctx := context.Background()

	brand, err := canary.UpdateRolloutPercentage(ctx, "alice", "b2", 250)
	require.NoError(t, err)
	assert.Equal(t, 100, brand.RolloutPercentage)
	assert.Equal(t, "brand rollout 100%", trail.List(1)[0].Action)

	// Updating the current brand refreshes the current pointer in place.
	_, err = canary.UpdateRolloutPercentage(ctx, "alice", "b1", 50)
	require.NoError(t, err)
	assert.Equal(t, 50, s.CurrentBrand().RolloutPercentage)
	assert.Equal(t, "b1", s.CurrentBrand().ID)
}

func TestRollbackBrand(t *testing.T) {
	canary, s, trail := newTestCanary(t)
	registerBrands(t, canary, "b1", "b2")
	ctx := context.Background()

	require.NoError(t, canary.EnterPreview(ctx, "alice", "b2"))
	_, err := canary.ApplyPreview(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, "b2", s.CurrentBrand().ID)

	def, err := canary.RollbackBrand(ctx, "oncall", "b2")
	require.NoError(t, err)
	assert.Equal(t, "b1", def.ID)
	assert.Equal(t, "b1", s.CurrentBrand().ID)

	rolled, err := s.GetBrand("b2")
	require.NoError(t, err)
	assert.False(t, rolled.IsActive)
	assert.Equal(t, 0, rolled.RolloutPercentage)
	assert.Equal(t, "brand rollback", trail.List(1)[0].Action)
}

func TestRollbackBrand_DropsStalePreview(t *testing.T) {
	canary, s, _ := newTestCanary(t)
	registerBrands(t, canary, "b1", "b2")
	ctx := context.Background()

	require.NoError(t, canary.EnterPreview(ctx, "alice", "b2"))
	_, err := canary.RollbackBrand(ctx, "oncall", "b2")
	require.NoError(t, err)
	assert.Nil(t, s.PreviewBrand())
}

func TestRollbackBrand_DefaultIsProtected(t *testing.T) {
	canary, s, _ := newTestCanary(t)
	registerBrands(t, canary, "b1", "b2")

	_, err := canary.RollbackBrand(context.Background(), "oncall", "b1")
	assert.True(t, domain.IsInvalidState(err))

	brand, err := s.GetBrand("b1")
	require.NoError(t, err)
	assert.True(t, brand.IsActive)
}

func TestRollbackBrand_UnknownBrand(t *testing.T) {
	canary, _, _ := newTestCanary(t)
	registerBrands(t, canary, "b1")

	_, err := canary.RollbackBrand(context.Background(), "oncall", "ghost")
	assert.True(t, domain.IsNotFound(err))
}
