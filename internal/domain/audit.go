package domain

import "time"

// AuditEntry records a single successful mutation. Entries are immutable;
// the trail evicts whole entries under its retention cap but never edits
// them.
type AuditEntry struct {
	ID        string    `json:"id"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	TargetID  string    `json:"target_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is the persisted shape of the store: every flag and brand record
// plus the id of the current brand. The preview pointer is deliberately
// absent, a preview never survives a restart.
type Snapshot struct {
	Flags          map[string]FeatureFlag `json:"flags"`
	Brands         map[string]BrandRecord `json:"brands"`
	CurrentBrandID string                 `json:"current_brand_id,omitempty"`
}
