package domain

import (
	"fmt"
	"slices"
	"time"
)

// FlagKind determines which evaluation fields of a flag are meaningful.
type FlagKind string

const (
	KindBoolean    FlagKind = "boolean"
	KindPercentage FlagKind = "percentage"
	KindSegment    FlagKind = "segment"
	KindTimeWindow FlagKind = "time-window"
)

// FeatureFlag is a single rollout gate. The ID is the lookup key and never
// changes after registration.
//
// Enabled is the master switch: when false the flag is off regardless of any
// other field. Enabled and RolloutPercentage are independently settable, with
// one exception enforced by the control plane: changing the percentage also
// sets Enabled = (pct > 0), so a flag can never sit at a positive rollout
// while master-off through that path.
type FeatureFlag struct {
	ID                string   `json:"id"`
	Kind              FlagKind `json:"kind"`
	Enabled           bool     `json:"enabled"`
	RolloutPercentage int      `json:"rollout_percentage"`

	// Segments is a set of segment tags. When non-empty, the evaluated
	// subject must belong to at least one of them.
	Segments []string `json:"segments,omitempty"`

	// Excluded is an always-deny list of subject ids, checked before any
	// percentage logic.
	Excluded []string `json:"excluded,omitempty"`

	// Rule is an optional targeting expression evaluated against the
	// request attributes. Empty means no rule.
	Rule string `json:"rule,omitempty"`

	ValidFrom  *time.Time `json:"valid_from,omitempty"`
	ValidUntil *time.Time `json:"valid_until,omitempty"`

	// RequiresConfirmation is a caller-side contract only. The control
	// plane records who confirmed but never blocks a mutation on it.
	RequiresConfirmation bool   `json:"requires_confirmation,omitempty"`
	ConfirmedBy          string `json:"confirmed_by,omitempty"`

	Category string `json:"category,omitempty"`

	LastRollbackAt *time.Time `json:"last_rollback_at,omitempty"`
	RollbackReason string     `json:"rollback_reason,omitempty"`

	CreatedBy string    `json:"created_by,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate validates the flag configuration.
func (f *FeatureFlag) Validate() error {
	if f.ID == "" {
		return NewValidationError("flag id cannot be empty")
	}

	if f.RolloutPercentage < 0 || f.RolloutPercentage > 100 {
		return NewValidationError(
			fmt.Sprintf("rollout percentage %d must be between 0 and 100", f.RolloutPercentage),
		)
	}

	switch f.Kind {
	case KindBoolean, KindPercentage, KindSegment, KindTimeWindow, "":
	default:
		return NewValidationError(fmt.Sprintf("unknown flag kind: %s", f.Kind))
	}

	if f.ValidFrom != nil && f.ValidUntil != nil && f.ValidUntil.Before(*f.ValidFrom) {
		return NewValidationError("valid_until precedes valid_from")
	}

	return nil
}

// Clone returns a deep copy. Stored records are treated as immutable
// snapshots; every mutation works on a clone and installs it whole.
func (f *FeatureFlag) Clone() *FeatureFlag {
	c := *f
	c.Segments = slices.Clone(f.Segments)
	c.Excluded = slices.Clone(f.Excluded)
	if f.ValidFrom != nil {
		t := *f.ValidFrom
		c.ValidFrom = &t
	}
	if f.ValidUntil != nil {
		t := *f.ValidUntil
		c.ValidUntil = &t
	}
	if f.LastRollbackAt != nil {
		t := *f.LastRollbackAt
		c.LastRollbackAt = &t
	}
	return &c
}

// HasSegment reports whether tag is one of the flag's target segments.
func (f *FeatureFlag) HasSegment(tag string) bool {
	return slices.Contains(f.Segments, tag)
}

// IsExcluded reports whether the subject is on the always-deny list.
func (f *FeatureFlag) IsExcluded(subjectID string) bool {
	return slices.Contains(f.Excluded, subjectID)
}

// InWindow reports whether now falls inside the flag's activity window.
// Unset bounds are open.
func (f *FeatureFlag) InWindow(now time.Time) bool {
	if f.ValidFrom != nil && now.Before(*f.ValidFrom) {
		return false
	}
	if f.ValidUntil != nil && now.After(*f.ValidUntil) {
		return false
	}
	return true
}
