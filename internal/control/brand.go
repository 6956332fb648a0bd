package control

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/OrlandoBitencourt/gatekeep/internal/audit"
	"github.com/OrlandoBitencourt/gatekeep/internal/domain"
	"github.com/OrlandoBitencourt/gatekeep/internal/store"
	"github.com/OrlandoBitencourt/gatekeep/internal/telemetry"
)

// BrandCanary drives whole-tenant brand switching with preview-before-
// commit semantics.
//
// The state machine is small: Stable (no preview) -> Previewing (candidate
// set, current untouched) -> Stable again via ApplyPreview (candidate
// committed) or ExitPreview (candidate discarded). The current-brand
// pointer changes only on ApplyPreview and RollbackBrand.
//
// Brand mutations are serialized under one mutex; they are rare and cheap.
// Reads of the current/preview pointers never take it.
type BrandCanary struct {
	store  *store.Store
	trail  *audit.Trail
	logger *slog.Logger
	tel    *telemetry.Telemetry
	clock  func() time.Time

	mu sync.Mutex
}

// NewBrandCanary creates the brand controller.
func NewBrandCanary(s *store.Store, trail *audit.Trail, logger *slog.Logger, tel *telemetry.Telemetry, clock func() time.Time) *BrandCanary {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = time.Now
	}
	return &BrandCanary{
		store:  s,
		trail:  trail,
		logger: logger,
		tel:    tel,
		clock:  clock,
	}
}

func (b *BrandCanary) audit(ctx context.Context, actor, action, targetID string) {
	b.trail.Append(actor, action, targetID)
	b.tel.RecordMutation(ctx, action, targetID)
}

// Register adds a brand record. The first registered brand becomes the
// default, active, fully exposed, and current; for any later brand the
// incoming IsDefault is ignored so exactly one record ever holds it.
func (b *BrandCanary) Register(ctx context.Context, actor string, brand *domain.BrandRecord) (*domain.BrandRecord, error) {
	if err := brand.Validate(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.store.GetBrand(brand.ID); err == nil {
		return nil, domain.NewValidationError(fmt.Sprintf("brand already registered: %s", brand.ID))
	}

	next := brand.Clone()
	next.IsDefault = false
	next.UpdatedAt = b.clock()
	if b.store.DefaultBrand() == nil {
		next.IsDefault = true
		next.IsActive = true
		next.RolloutPercentage = 100
	}
	b.store.UpsertBrand(next)
	if next.IsDefault {
		b.store.SetCurrentBrand(next)
	}

	b.audit(ctx, actor, "register", next.ID)
	b.logger.InfoContext(ctx, "brand registered", "brand", next.ID, "default", next.IsDefault, "actor", actor)
	return next, nil
}

// EnterPreview points the preview at a candidate brand without touching the
// current one. Re-entrant: a newer preview replaces any existing one.
func (b *BrandCanary) EnterPreview(ctx context.Context, actor, brandID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	brand, err := b.store.GetBrand(brandID)
	if err != nil {
		return err
	}

	b.store.SetPreviewBrand(brand)
	b.audit(ctx, actor, "preview enter", brandID)
	return nil
}

// ExitPreview discards the candidate. Exiting with no preview active is a
// no-op: nothing mutated, nothing audited.
func (b *BrandCanary) ExitPreview(ctx context.Context, actor string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	candidate := b.store.PreviewBrand()
	if candidate == nil {
		return
	}

	b.store.SetPreviewBrand(nil)
	b.audit(ctx, actor, "preview exit", candidate.ID)
}

// ApplyPreview commits the candidate: it becomes the current brand and the
// preview pointer clears. The swap is a single atomic pointer install, so a
// concurrent CurrentBrand read sees the old or the new record, never a
// partial one. Requires an active preview.
func (b *BrandCanary) ApplyPreview(ctx context.Context, actor string) (*domain.BrandRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	candidate := b.store.PreviewBrand()
	if candidate == nil {
		return nil, domain.NewInvalidStateError("apply-preview", "no preview active")
	}

	next := candidate.Clone()
	next.IsActive = true
	next.UpdatedAt = b.clock()
	b.store.UpsertBrand(next)
	b.store.SetCurrentBrand(next)
	b.store.SetPreviewBrand(nil)

	b.audit(ctx, actor, "preview apply", next.ID)
	b.logger.InfoContext(ctx, "brand applied", "brand", next.ID, "actor", actor)
	return next, nil
}

// UpdateRolloutPercentage sets a brand's advisory canary exposure. It is
// independent of the preview state and never changes which brand is
// current. Out-of-range values are clamped.
func (b *BrandCanary) UpdateRolloutPercentage(ctx context.Context, actor, brandID string, pct int) (*domain.BrandRecord, error) {
	pct = clampPercent(pct)

	b.mu.Lock()
	defer b.mu.Unlock()

	brand, err := b.store.GetBrand(brandID)
	if err != nil {
		return nil, err
	}

	next := brand.Clone()
	next.RolloutPercentage = pct
	next.UpdatedAt = b.clock()
	b.store.UpsertBrand(next)
	b.refreshPointers(next)

	b.audit(ctx, actor, fmt.Sprintf("brand rollout %d%%", pct), brandID)
	return next, nil
}

// RollbackBrand forces the current brand back to the default and
// deactivates the rolled-back record. Targeting the default itself is an
// InvalidState error, the default must always stay standing.
func (b *BrandCanary) RollbackBrand(ctx context.Context, actor, brandID string) (*domain.BrandRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	brand, err := b.store.GetBrand(brandID)
	if err != nil {
		return nil, err
	}
	if brand.IsDefault {
		return nil, domain.NewInvalidStateError("rollback-brand", "cannot roll back the default brand")
	}

	def := b.store.DefaultBrand()
	if def == nil {
		return nil, domain.NewInvalidStateError("rollback-brand", "no default brand registered")
	}

	next := brand.Clone()
	next.IsActive = false
	next.RolloutPercentage = 0
	next.UpdatedAt = b.clock()
	b.store.UpsertBrand(next)

	// A preview of the rolled-back brand is stale; drop it.
	if p := b.store.PreviewBrand(); p != nil && p.ID == next.ID {
		b.store.SetPreviewBrand(nil)
	}

	b.store.SetCurrentBrand(def)

	b.audit(ctx, actor, "brand rollback", brandID)
	b.logger.WarnContext(ctx, "brand rolled back to default", "brand", brandID, "default", def.ID, "actor", actor)
	return def, nil
}

// refreshPointers re-installs updated records into the current/preview
// pointers so reads observe the latest committed state.
func (b *BrandCanary) refreshPointers(updated *domain.BrandRecord) {
	if cur := b.store.CurrentBrand(); cur != nil && cur.ID == updated.ID {
		b.store.SetCurrentBrand(updated)
	}
	if p := b.store.PreviewBrand(); p != nil && p.ID == updated.ID {
		b.store.SetPreviewBrand(updated)
	}
}
