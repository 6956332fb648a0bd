// Package control implements the mutation API over the store: every write
// to a flag or brand record goes through here, is validated, serialized per
// record, and appended to the audit trail.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/OrlandoBitencourt/gatekeep/internal/audit"
	"github.com/OrlandoBitencourt/gatekeep/internal/domain"
	"github.com/OrlandoBitencourt/gatekeep/internal/store"
	"github.com/OrlandoBitencourt/gatekeep/internal/telemetry"
)

// BulkOutcome reports the result for one flag touched by a category
// operation. Bulk operations continue past per-flag failures; each outcome
// is reported individually.
type BulkOutcome struct {
	FlagID string
	Err    error
}

// Plane is the flag control plane. Mutations on the same flag are
// serialized through a per-flag mutex; mutations on different flags proceed
// in parallel. Every successful mutation appends exactly one audit entry.
type Plane struct {
	store  *store.Store
	trail  *audit.Trail
	locks  *xsync.Map[string, *sync.Mutex]
	logger *slog.Logger
	tel    *telemetry.Telemetry
	clock  func() time.Time
}

// NewPlane creates a control plane over the given store and trail.
func NewPlane(s *store.Store, trail *audit.Trail, logger *slog.Logger, tel *telemetry.Telemetry, clock func() time.Time) *Plane {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = time.Now
	}
	return &Plane{
		store:  s,
		trail:  trail,
		locks:  xsync.NewMap[string, *sync.Mutex](),
		logger: logger,
		tel:    tel,
		clock:  clock,
	}
}

func (p *Plane) lock(flagID string) *sync.Mutex {
	mu, _ := p.locks.LoadOrStore(flagID, &sync.Mutex{})
	return mu
}

// mutate applies fn to a clone of the flag and installs the result. The
// flag is looked up under its lock so concurrent mutations of the same
// record never interleave. Unknown ids fail with NotFound before any write
// or audit entry.
func (p *Plane) mutate(flagID string, fn func(f *domain.FeatureFlag)) (*domain.FeatureFlag, error) {
	mu := p.lock(flagID)
	mu.Lock()
	defer mu.Unlock()

	current, err := p.store.GetFlag(flagID)
	if err != nil {
		return nil, err
	}

	next := current.Clone()
	fn(next)
	next.UpdatedAt = p.clock()
	p.store.UpsertFlag(next)
	return next, nil
}

func (p *Plane) audit(ctx context.Context, actor, action, targetID string) {
	p.trail.Append(actor, action, targetID)
	p.tel.RecordMutation(ctx, action, targetID)
}

// RegisterFlag creates a flag with safety-first defaults: master-off and
// zero rollout, whatever the caller passed. Re-registering an existing id
// is a validation error.
func (p *Plane) RegisterFlag(ctx context.Context, actor string, flag *domain.FeatureFlag) (*domain.FeatureFlag, error) {
	if err := flag.Validate(); err != nil {
		return nil, err
	}

	mu := p.lock(flag.ID)
	mu.Lock()
	defer mu.Unlock()

	if _, err := p.store.GetFlag(flag.ID); err == nil {
		return nil, domain.NewValidationError(fmt.Sprintf("flag already registered: %s", flag.ID))
	}

	next := flag.Clone()
	next.Enabled = false
	next.RolloutPercentage = 0
	next.CreatedBy = actor
	next.UpdatedAt = p.clock()
	p.store.UpsertFlag(next)

	p.audit(ctx, actor, "register", next.ID)
	p.logger.InfoContext(ctx, "flag registered", "flag", next.ID, "actor", actor)
	return next, nil
}

// Toggle flips the master switch. Deliberately not idempotent: calling
// twice flips twice.
func (p *Plane) Toggle(ctx context.Context, actor, flagID string) (*domain.FeatureFlag, error) {
	flag, err := p.mutate(flagID, func(f *domain.FeatureFlag) {
		f.Enabled = !f.Enabled
	})
	if err != nil {
		return nil, err
	}

	action := "toggle off"
	if flag.Enabled {
		action = "toggle on"
	}
	p.audit(ctx, actor, action, flagID)
	return flag, nil
}

// SetRolloutPercentage is the single entry point for percentage changes.
// Out-of-range values are clamped, not rejected. The master switch follows
// the percentage: pct > 0 enables, pct = 0 disables, so the flag never ends
// up with a positive rollout while master-off through this path.
func (p *Plane) SetRolloutPercentage(ctx context.Context, actor, flagID string, pct int) (*domain.FeatureFlag, error) {
	pct = clampPercent(pct)

	flag, err := p.mutate(flagID, func(f *domain.FeatureFlag) {
		f.RolloutPercentage = pct
		f.Enabled = pct > 0
	})
	if err != nil {
		return nil, err
	}

	p.audit(ctx, actor, fmt.Sprintf("rollout %d%%", pct), flagID)
	p.logger.InfoContext(ctx, "rollout percentage set", "flag", flagID, "pct", pct, "actor", actor)
	return flag, nil
}

// EmergencyDisable is the unconditional highest-priority shutoff. It is
// idempotent in effect but every call stamps and audits again.
func (p *Plane) EmergencyDisable(ctx context.Context, actor, flagID, reason string) (*domain.FeatureFlag, error) {
	return p.disable(ctx, actor, flagID, "emergency-disable: "+reason, "[EMERGENCY] "+reason)
}

// Rollback is the planned counterpart of EmergencyDisable: same effect,
// reason stamped without the emergency marker.
func (p *Plane) Rollback(ctx context.Context, actor, flagID, reason string) (*domain.FeatureFlag, error) {
	return p.disable(ctx, actor, flagID, "rollback: "+reason, reason)
}

func (p *Plane) disable(ctx context.Context, actor, flagID, action, stampedReason string) (*domain.FeatureFlag, error) {
	flag, err := p.mutate(flagID, func(f *domain.FeatureFlag) {
		now := p.clock()
		f.Enabled = false
		f.RolloutPercentage = 0
		f.LastRollbackAt = &now
		f.RollbackReason = stampedReason
	})
	if err != nil {
		return nil, err
	}

	p.audit(ctx, actor, action, flagID)
	p.logger.WarnContext(ctx, "flag disabled", "flag", flagID, "reason", stampedReason, "actor", actor)
	return flag, nil
}

// EnableCategory flips every flag in the category on. Each affected flag
// gets its own audit entry so per-flag traceability survives bulk actions.
func (p *Plane) EnableCategory(ctx context.Context, actor, category string) []BulkOutcome {
	return p.bulkSetEnabled(ctx, actor, category, true)
}

// DisableCategory flips every flag in the category off.
func (p *Plane) DisableCategory(ctx context.Context, actor, category string) []BulkOutcome {
	return p.bulkSetEnabled(ctx, actor, category, false)
}

func (p *Plane) bulkSetEnabled(ctx context.Context, actor, category string, enabled bool) []BulkOutcome {
	action := fmt.Sprintf("category-disable: %s", category)
	if enabled {
		action = fmt.Sprintf("category-enable: %s", category)
	}

	var outcomes []BulkOutcome
	for _, flag := range p.store.ListFlagsByCategory(category) {
		_, err := p.mutate(flag.ID, func(f *domain.FeatureFlag) {
			f.Enabled = enabled
		})
		if err == nil {
			p.audit(ctx, actor, action, flag.ID)
		}
		outcomes = append(outcomes, BulkOutcome{FlagID: flag.ID, Err: err})
	}
	return outcomes
}

// EnableForSubject removes the subject from the flag's deny list. The
// master switch and rollout percentage are untouched.
func (p *Plane) EnableForSubject(ctx context.Context, actor, flagID, subjectID string) (*domain.FeatureFlag, error) {
	flag, err := p.mutate(flagID, func(f *domain.FeatureFlag) {
		kept := f.Excluded[:0:0]
		for _, id := range f.Excluded {
			if id != subjectID {
				kept = append(kept, id)
			}
		}
		f.Excluded = kept
	})
	if err != nil {
		return nil, err
	}

	p.audit(ctx, actor, "include subject "+subjectID, flagID)
	return flag, nil
}

// DisableForSubject adds the subject to the flag's deny list.
func (p *Plane) DisableForSubject(ctx context.Context, actor, flagID, subjectID string) (*domain.FeatureFlag, error) {
	flag, err := p.mutate(flagID, func(f *domain.FeatureFlag) {
		if !f.IsExcluded(subjectID) {
			f.Excluded = append(f.Excluded, subjectID)
		}
	})
	if err != nil {
		return nil, err
	}

	p.audit(ctx, actor, "exclude subject "+subjectID, flagID)
	return flag, nil
}

// RecordConfirmation stamps who confirmed a pending mutation on a flag that
// declares RequiresConfirmation. Confirmation is recorded, never enforced.
func (p *Plane) RecordConfirmation(ctx context.Context, actor, flagID string) (*domain.FeatureFlag, error) {
	flag, err := p.mutate(flagID, func(f *domain.FeatureFlag) {
		f.ConfirmedBy = actor
	})
	if err != nil {
		return nil, err
	}

	p.audit(ctx, actor, "confirm", flagID)
	return flag, nil
}

func clampPercent(pct int) int {
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
