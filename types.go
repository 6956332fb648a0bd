package gatekeep

import (
	"time"

	"github.com/OrlandoBitencourt/gatekeep/internal/domain"
	"github.com/OrlandoBitencourt/gatekeep/internal/evaluator"
)

// Context holds the request side of a flag evaluation.
type Context struct {
	// SubjectID is the unique identifier for the entity being gated
	// (e.g., user ID, account ID, device ID). May be empty for anonymous
	// callers; anonymous callers are never admitted at partial rollout.
	SubjectID string

	// Segment is the caller's segment tag (e.g., "beta", "internal").
	Segment string

	// Attributes contains additional context for targeting rules.
	Attributes map[string]any
}

// NewContext creates an evaluation context for the given subject.
func NewContext(subjectID string) Context {
	return Context{
		SubjectID:  subjectID,
		Attributes: make(map[string]any),
	}
}

// WithSegment sets the segment tag (fluent interface).
func (c Context) WithSegment(segment string) Context {
	c.Segment = segment
	return c
}

// WithAttribute adds a targeting-rule attribute (fluent interface).
func (c Context) WithAttribute(key string, value any) Context {
	if c.Attributes == nil {
		c.Attributes = make(map[string]any)
	}
	c.Attributes[key] = value
	return c
}

// Decision is the detailed outcome of one evaluation.
type Decision struct {
	// FlagID is the id of the evaluated flag.
	FlagID string

	// Enabled is the gate result.
	Enabled bool

	// Bucket is the subject's deterministic bucket in [0,99] when
	// percentage gating ran, -1 otherwise.
	Bucket int

	// Reason explains which check settled the decision.
	Reason string
}

// FlagKind determines which evaluation fields of a flag are meaningful.
type FlagKind = domain.FlagKind

// Flag kinds.
const (
	KindBoolean    = domain.KindBoolean
	KindPercentage = domain.KindPercentage
	KindSegment    = domain.KindSegment
	KindTimeWindow = domain.KindTimeWindow
)

// Flag is the public view of a feature flag record.
type Flag struct {
	ID                   string
	Kind                 FlagKind
	Enabled              bool
	RolloutPercentage    int
	Segments             []string
	Excluded             []string
	Rule                 string
	ValidFrom            *time.Time
	ValidUntil           *time.Time
	RequiresConfirmation bool
	ConfirmedBy          string
	Category             string
	LastRollbackAt       *time.Time
	RollbackReason       string
	CreatedBy            string
	UpdatedAt            time.Time
}

// Brand is the public view of a brand record.
type Brand struct {
	ID                string
	DisplayName       string
	PrimaryColor      string
	SecondaryColor    string
	LogoURL           string
	FaviconURL        string
	LegalName         string
	SupportEmail      string
	SupportURL        string
	WhiteLabel        bool
	RolloutPercentage int
	IsDefault         bool
	IsActive          bool
	UpdatedAt         time.Time
}

// AuditRecord is one immutable entry of the mutation trail.
type AuditRecord struct {
	ID        string
	Actor     string
	Action    string
	TargetID  string
	Timestamp time.Time
}

// BulkResult reports the outcome for one flag touched by a category
// operation.
type BulkResult struct {
	FlagID string
	Err    error
}

// Metrics is a point-in-time snapshot of the control system.
type Metrics struct {
	// FlagCount is the number of registered flags.
	FlagCount int

	// BrandCount is the number of registered brands.
	BrandCount int

	// AuditLength is the number of audit entries currently retained.
	AuditLength int

	// AuditEvicted is the total number of entries dropped under the
	// retention cap.
	AuditEvicted uint64
}

// Internal conversion helpers.

func toDomainFlag(f Flag) *domain.FeatureFlag {
	return &domain.FeatureFlag{
		ID:                   f.ID,
		Kind:                 f.Kind,
		Enabled:              f.Enabled,
		RolloutPercentage:    f.RolloutPercentage,
		Segments:             f.Segments,
		Excluded:             f.Excluded,
		Rule:                 f.Rule,
		ValidFrom:            f.ValidFrom,
		ValidUntil:           f.ValidUntil,
		RequiresConfirmation: f.RequiresConfirmation,
		ConfirmedBy:          f.ConfirmedBy,
		Category:             f.Category,
		LastRollbackAt:       f.LastRollbackAt,
		RollbackReason:       f.RollbackReason,
		CreatedBy:            f.CreatedBy,
		UpdatedAt:            f.UpdatedAt,
	}
}

func fromDomainFlag(f *domain.FeatureFlag) Flag {
	c := f.Clone()
	return Flag{
		ID:                   c.ID,
		Kind:                 c.Kind,
		Enabled:              c.Enabled,
		RolloutPercentage:    c.RolloutPercentage,
		Segments:             c.Segments,
		Excluded:             c.Excluded,
		Rule:                 c.Rule,
		ValidFrom:            c.ValidFrom,
		ValidUntil:           c.ValidUntil,
		RequiresConfirmation: c.RequiresConfirmation,
		ConfirmedBy:          c.ConfirmedBy,
		Category:             c.Category,
		LastRollbackAt:       c.LastRollbackAt,
		RollbackReason:       c.RollbackReason,
		CreatedBy:            c.CreatedBy,
		UpdatedAt:            c.UpdatedAt,
	}
}

func toDomainBrand(b Brand) *domain.BrandRecord {
	return &domain.BrandRecord{
		ID:                b.ID,
		DisplayName:       b.DisplayName,
		PrimaryColor:      b.PrimaryColor,
		SecondaryColor:    b.SecondaryColor,
		LogoURL:           b.LogoURL,
		FaviconURL:        b.FaviconURL,
		LegalName:         b.LegalName,
		SupportEmail:      b.SupportEmail,
		SupportURL:        b.SupportURL,
		WhiteLabel:        b.WhiteLabel,
		RolloutPercentage: b.RolloutPercentage,
		IsDefault:         b.IsDefault,
		IsActive:          b.IsActive,
		UpdatedAt:         b.UpdatedAt,
	}
}

func fromDomainBrand(b *domain.BrandRecord) Brand {
	return Brand{
		ID:                b.ID,
		DisplayName:       b.DisplayName,
		PrimaryColor:      b.PrimaryColor,
		SecondaryColor:    b.SecondaryColor,
		LogoURL:           b.LogoURL,
		FaviconURL:        b.FaviconURL,
		LegalName:         b.LegalName,
		SupportEmail:      b.SupportEmail,
		SupportURL:        b.SupportURL,
		WhiteLabel:        b.WhiteLabel,
		RolloutPercentage: b.RolloutPercentage,
		IsDefault:         b.IsDefault,
		IsActive:          b.IsActive,
		UpdatedAt:         b.UpdatedAt,
	}
}

func fromDomainAudit(e domain.AuditEntry) AuditRecord {
	return AuditRecord{
		ID:        e.ID,
		Actor:     e.Actor,
		Action:    e.Action,
		TargetID:  e.TargetID,
		Timestamp: e.Timestamp,
	}
}

func toEvalContext(c Context) evaluator.Context {
	return evaluator.Context{
		SubjectID:  c.SubjectID,
		Segment:    c.Segment,
		Attributes: c.Attributes,
	}
}

func fromEvalDecision(d evaluator.Decision) Decision {
	return Decision{
		FlagID:  d.FlagID,
		Enabled: d.Enabled,
		Bucket:  d.Bucket,
		Reason:  d.Reason,
	}
}
