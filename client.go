// Package gatekeep implements a safe rollout control system: feature-flag
// gating (percentage rollout, segment targeting, emergency disable) and
// brand canary switching (preview, apply, rollback), with a bounded audit
// trail over every mutation.
//
// The package is a library-level contract. Reads never block and always
// observe the most recently committed state; callers must re-evaluate
// IsEnabled at the point of use instead of caching results across a
// request.
package gatekeep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/OrlandoBitencourt/gatekeep/internal/audit"
	"github.com/OrlandoBitencourt/gatekeep/internal/control"
	"github.com/OrlandoBitencourt/gatekeep/internal/evaluator"
	"github.com/OrlandoBitencourt/gatekeep/internal/server"
	"github.com/OrlandoBitencourt/gatekeep/internal/store"
	"github.com/OrlandoBitencourt/gatekeep/internal/telemetry"
)

// Client is the main entry point for gatekeep.
//
// Example:
//
//	client, err := gatekeep.New(
//	    gatekeep.WithDiskPersistence("/var/lib/gatekeep"),
//	    gatekeep.WithAuditRetention(200),
//	)
type Client struct {
	store  *store.Store
	eval   *evaluator.Evaluator
	plane  *control.Plane
	brands *control.BrandCanary
	trail  *audit.Trail

	logger *slog.Logger
	tel    *telemetry.Telemetry
	clock  func() time.Time

	scheduler        *cron.Cron
	snapshotSchedule string

	admin        *server.Admin
	adminEnabled bool
	adminPort    int
}

// New creates a new gatekeep client with the given options.
func New(opts ...Option) (*Client, error) {
	cfg := &clientConfig{}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.clock == nil {
		cfg.clock = time.Now
	}
	if cfg.snapshotSchedule != "" && cfg.persistence == nil {
		return nil, fmt.Errorf("snapshot schedule requires a persistence option")
	}

	eval, err := evaluator.New()
	if err != nil {
		return nil, err
	}

	var tel *telemetry.Telemetry
	if cfg.telemetry {
		tel, err = telemetry.New()
		if err != nil {
			eval.Close()
			return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
		}
	}

	s := store.New(cfg.persistence)
	trail := audit.NewWithClock(cfg.auditRetention, cfg.clock)

	c := &Client{
		store:            s,
		eval:             eval,
		plane:            control.NewPlane(s, trail, cfg.logger, tel, cfg.clock),
		brands:           control.NewBrandCanary(s, trail, cfg.logger, tel, cfg.clock),
		trail:            trail,
		logger:           cfg.logger,
		tel:              tel,
		clock:            cfg.clock,
		snapshotSchedule: cfg.snapshotSchedule,
		adminEnabled:     cfg.adminEnabled,
		adminPort:        cfg.adminPort,
	}

	if err := tel.RegisterFlagCountGauge(func() int64 {
		return int64(s.FlagCount())
	}); err != nil {
		cfg.logger.Warn("failed to register flag count gauge", "error", err)
	}

	return c, nil
}

// Start restores persisted state and launches background processes: the
// snapshot scheduler and, when enabled, the admin server.
func (c *Client) Start(ctx context.Context) error {
	if err := c.store.LoadPersisted(ctx); err != nil {
		if !errors.Is(err, store.ErrNoSnapshot) {
			return fmt.Errorf("failed to restore persisted state: %w", err)
		}
		c.logger.InfoContext(ctx, "no persisted snapshot, starting empty")
	}

	if c.snapshotSchedule != "" {
		c.scheduler = cron.New()
		_, err := c.scheduler.AddFunc(c.snapshotSchedule, func() {
			if err := c.store.Flush(context.Background()); err != nil {
				c.logger.Error("scheduled snapshot failed", "error", err)
			}
		})
		if err != nil {
			return fmt.Errorf("invalid snapshot schedule: %w", err)
		}
		c.scheduler.Start()
	}

	if c.adminEnabled {
		c.admin = server.NewAdmin(
			fmt.Sprintf(":%d", c.adminPort),
			c.store, c.plane, c.brands, c.trail, c.eval, c.logger,
		)
		go func() {
			if err := c.admin.Start(); err != nil && err != http.ErrServerClosed {
				c.logger.Error("admin server error", "error", err)
			}
		}()
	}

	return nil
}

// Stop shuts down background processes and flushes the final snapshot.
func (c *Client) Stop() error {
	if c.scheduler != nil {
		<-c.scheduler.Stop().Done()
	}

	if c.admin != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.admin.Shutdown(ctx); err != nil {
			c.logger.Warn("admin server shutdown failed", "error", err)
		}
	}

	c.eval.Close()

	if err := c.tel.Close(); err != nil {
		c.logger.Warn("failed to unregister telemetry", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return c.store.Close(ctx)
}

// Flush forces a persistence snapshot. After Flush returns, a restart is
// guaranteed to observe every previously committed mutation.
func (c *Client) Flush(ctx context.Context) error {
	return c.store.Flush(ctx)
}

// --- query interface ---

// IsEnabled reports whether the flag is on for the given context. Unknown
// flags are off (fail-closed).
func (c *Client) IsEnabled(ctx context.Context, flagID string, evalCtx Context) bool {
	d, err := c.Decide(ctx, flagID, evalCtx)
	if err != nil {
		return false
	}
	return d.Enabled
}

// Value evaluates a flag and returns its effective value: a bool for most
// kinds, the rollout percentage (int) for percentage flags that admit the
// subject. Unknown flags yield false.
func (c *Client) Value(ctx context.Context, flagID string, evalCtx Context) any {
	flag, err := c.store.GetFlag(flagID)
	if err != nil {
		return false
	}

	d := c.decide(ctx, flagID, evalCtx)
	if flag.Kind == KindPercentage {
		if d.Enabled {
			return flag.RolloutPercentage
		}
		return 0
	}
	return d.Enabled
}

// Decide performs a full evaluation and returns the detailed decision,
// including the bucket and the settling reason.
func (c *Client) Decide(ctx context.Context, flagID string, evalCtx Context) (Decision, error) {
	if _, err := c.store.GetFlag(flagID); err != nil {
		return Decision{}, err
	}
	return c.decide(ctx, flagID, evalCtx), nil
}

func (c *Client) decide(ctx context.Context, flagID string, evalCtx Context) Decision {
	flag, err := c.store.GetFlag(flagID)
	if err != nil {
		return Decision{FlagID: flagID, Reason: "flag not found"}
	}

	start := c.clock()
	d := c.eval.Evaluate(flag, toEvalContext(evalCtx), start)
	c.tel.RecordEvaluation(ctx, flagID, d.Enabled, c.clock().Sub(start))
	c.logger.DebugContext(ctx, "flag evaluated",
		"flag", flagID, "subject", evalCtx.SubjectID, "enabled", d.Enabled, "reason", d.Reason)
	return fromEvalDecision(d)
}

// GetFlag returns a copy of the flag record.
func (c *Client) GetFlag(flagID string) (Flag, error) {
	flag, err := c.store.GetFlag(flagID)
	if err != nil {
		return Flag{}, err
	}
	return fromDomainFlag(flag), nil
}

// ListFlags returns all flags ordered by id.
func (c *Client) ListFlags() []Flag {
	stored := c.store.ListFlags()
	flags := make([]Flag, 0, len(stored))
	for _, f := range stored {
		flags = append(flags, fromDomainFlag(f))
	}
	return flags
}

// ListFlagsByCategory returns all flags sharing the category.
func (c *Client) ListFlagsByCategory(category string) []Flag {
	stored := c.store.ListFlagsByCategory(category)
	flags := make([]Flag, 0, len(stored))
	for _, f := range stored {
		flags = append(flags, fromDomainFlag(f))
	}
	return flags
}

// CurrentBrand returns the brand currently in effect.
func (c *Client) CurrentBrand() (Brand, error) {
	brand := c.store.CurrentBrand()
	if brand == nil {
		return Brand{}, errors.New("no brand registered")
	}
	return fromDomainBrand(brand), nil
}

// PreviewBrand returns the candidate brand under preview, or ok=false when
// none is active.
func (c *Client) PreviewBrand() (Brand, bool) {
	brand := c.store.PreviewBrand()
	if brand == nil {
		return Brand{}, false
	}
	return fromDomainBrand(brand), true
}

// ListBrands returns all brand records ordered by id.
func (c *Client) ListBrands() []Brand {
	stored := c.store.ListBrands()
	brands := make([]Brand, 0, len(stored))
	for _, b := range stored {
		brands = append(brands, fromDomainBrand(b))
	}
	return brands
}

// --- mutation interface ---

// RegisterFlag creates a flag. Safety-first defaults are enforced: the
// stored record starts master-off at zero rollout regardless of the passed
// Enabled/RolloutPercentage.
func (c *Client) RegisterFlag(ctx context.Context, actor string, flag Flag) (Flag, error) {
	created, err := c.plane.RegisterFlag(ctx, actor, toDomainFlag(flag))
	if err != nil {
		return Flag{}, err
	}
	return fromDomainFlag(created), nil
}

// Toggle flips the flag's master switch. Calling twice flips twice.
func (c *Client) Toggle(ctx context.Context, actor, flagID string) (Flag, error) {
	flag, err := c.plane.Toggle(ctx, actor, flagID)
	if err != nil {
		return Flag{}, err
	}
	return fromDomainFlag(flag), nil
}

// SetRolloutPercentage sets the rollout percentage, clamped to [0,100],
// and couples the master switch to it: pct > 0 enables, pct = 0 disables.
func (c *Client) SetRolloutPercentage(ctx context.Context, actor, flagID string, pct int) (Flag, error) {
	flag, err := c.plane.SetRolloutPercentage(ctx, actor, flagID, pct)
	if err != nil {
		return Flag{}, err
	}
	return fromDomainFlag(flag), nil
}

// EmergencyDisable unconditionally shuts the flag off and stamps the reason
// with the emergency marker. Idempotent in effect; every call is audited.
func (c *Client) EmergencyDisable(ctx context.Context, actor, flagID, reason string) (Flag, error) {
	flag, err := c.plane.EmergencyDisable(ctx, actor, flagID, reason)
	if err != nil {
		return Flag{}, err
	}
	return fromDomainFlag(flag), nil
}

// Rollback is the planned counterpart of EmergencyDisable.
func (c *Client) Rollback(ctx context.Context, actor, flagID, reason string) (Flag, error) {
	flag, err := c.plane.Rollback(ctx, actor, flagID, reason)
	if err != nil {
		return Flag{}, err
	}
	return fromDomainFlag(flag), nil
}

// EnableCategory enables every flag in the category, one audit entry per
// flag. Per-flag failures do not stop the sweep.
func (c *Client) EnableCategory(ctx context.Context, actor, category string) []BulkResult {
	return fromBulkOutcomes(c.plane.EnableCategory(ctx, actor, category))
}

// DisableCategory disables every flag in the category.
func (c *Client) DisableCategory(ctx context.Context, actor, category string) []BulkResult {
	return fromBulkOutcomes(c.plane.DisableCategory(ctx, actor, category))
}

// EnableForSubject removes the subject from the flag's always-deny list.
func (c *Client) EnableForSubject(ctx context.Context, actor, flagID, subjectID string) error {
	_, err := c.plane.EnableForSubject(ctx, actor, flagID, subjectID)
	return err
}

// DisableForSubject adds the subject to the flag's always-deny list.
func (c *Client) DisableForSubject(ctx context.Context, actor, flagID, subjectID string) error {
	_, err := c.plane.DisableForSubject(ctx, actor, flagID, subjectID)
	return err
}

// RecordConfirmation stamps who confirmed a pending mutation. Recorded,
// never enforced.
func (c *Client) RecordConfirmation(ctx context.Context, actor, flagID string) error {
	_, err := c.plane.RecordConfirmation(ctx, actor, flagID)
	return err
}

// RegisterBrand adds a brand record. The first registered brand becomes
// default, active, fully exposed, and current.
func (c *Client) RegisterBrand(ctx context.Context, actor string, brand Brand) (Brand, error) {
	created, err := c.brands.Register(ctx, actor, toDomainBrand(brand))
	if err != nil {
		return Brand{}, err
	}
	return fromDomainBrand(created), nil
}

// EnterPreview points the preview at a candidate brand without changing the
// current one. Re-entrant.
func (c *Client) EnterPreview(ctx context.Context, actor, brandID string) error {
	return c.brands.EnterPreview(ctx, actor, brandID)
}

// ExitPreview discards the candidate, if any.
func (c *Client) ExitPreview(ctx context.Context, actor string) {
	c.brands.ExitPreview(ctx, actor)
}

// ApplyPreview commits the candidate brand. Requires an active preview.
func (c *Client) ApplyPreview(ctx context.Context, actor string) (Brand, error) {
	brand, err := c.brands.ApplyPreview(ctx, actor)
	if err != nil {
		return Brand{}, err
	}
	return fromDomainBrand(brand), nil
}

// SetBrandRollout sets a brand's advisory canary exposure, clamped.
func (c *Client) SetBrandRollout(ctx context.Context, actor, brandID string, pct int) (Brand, error) {
	brand, err := c.brands.UpdateRolloutPercentage(ctx, actor, brandID, pct)
	if err != nil {
		return Brand{}, err
	}
	return fromDomainBrand(brand), nil
}

// RollbackBrand forces the current brand back to the default and
// deactivates the target. Targeting the default is an invalid-state error.
func (c *Client) RollbackBrand(ctx context.Context, actor, brandID string) (Brand, error) {
	brand, err := c.brands.RollbackBrand(ctx, actor, brandID)
	if err != nil {
		return Brand{}, err
	}
	return fromDomainBrand(brand), nil
}

// --- audit-read interface ---

// AuditEntries returns up to limit entries, newest first. Non-positive
// limit returns everything retained.
func (c *Client) AuditEntries(limit int) []AuditRecord {
	entries := c.trail.List(limit)
	records := make([]AuditRecord, 0, len(entries))
	for _, e := range entries {
		records = append(records, fromDomainAudit(e))
	}
	return records
}

// Metrics returns a point-in-time snapshot of the control system.
func (c *Client) Metrics() Metrics {
	return Metrics{
		FlagCount:    c.store.FlagCount(),
		BrandCount:   len(c.store.ListBrands()),
		AuditLength:  c.trail.Len(),
		AuditEvicted: c.trail.Evicted(),
	}
}

func fromBulkOutcomes(outcomes []control.BulkOutcome) []BulkResult {
	results := make([]BulkResult, 0, len(outcomes))
	for _, o := range outcomes {
		results = append(results, BulkResult{FlagID: o.FlagID, Err: o.Err})
	}
	return results
}
