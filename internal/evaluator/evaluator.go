// Package evaluator implements the pure rollout decision function.
package evaluator

import (
	"fmt"
	"time"

	"github.com/OrlandoBitencourt/gatekeep/internal/domain"
	"github.com/OrlandoBitencourt/gatekeep/internal/hash"
)

// Context carries the request side of an evaluation.
type Context struct {
	// SubjectID identifies the entity being gated (user id, device id).
	// May be empty for anonymous callers.
	SubjectID string

	// Segment is the caller's segment tag, matched against the flag's
	// target segments.
	Segment string

	// Attributes feed the optional targeting rule.
	Attributes map[string]any
}

// Decision is the outcome of evaluating one flag for one context.
type Decision struct {
	FlagID  string
	Enabled bool

	// Bucket is the subject's bucket when percentage gating ran, -1
	// otherwise.
	Bucket int

	// Reason explains the first check that settled the decision.
	Reason string
}

// Evaluator evaluates flags against request contexts. It holds no mutable
// flag state; the same flag snapshot and context always produce the same
// decision. Safe for concurrent use.
type Evaluator struct {
	rules *ruleCache
}

// New creates an evaluator.
func New() (*Evaluator, error) {
	rules, err := newRuleCache()
	if err != nil {
		return nil, fmt.Errorf("failed to create rule cache: %w", err)
	}
	return &Evaluator{rules: rules}, nil
}

// Close releases the compiled-rule cache.
func (e *Evaluator) Close() {
	e.rules.close()
}

// Evaluate applies the gating checks in order, short-circuiting on the
// first failing one. Every failing check is a hard false; there is no
// partial result.
func (e *Evaluator) Evaluate(flag *domain.FeatureFlag, ctx Context, now time.Time) Decision {
	d := Decision{FlagID: flag.ID, Bucket: -1}

	if !flag.Enabled {
		d.Reason = "flag disabled"
		return d
	}

	if flag.ValidFrom != nil && now.Before(*flag.ValidFrom) {
		d.Reason = "before activity window"
		return d
	}

	if flag.ValidUntil != nil && now.After(*flag.ValidUntil) {
		d.Reason = "after activity window"
		return d
	}

	if len(flag.Segments) > 0 && !flag.HasSegment(ctx.Segment) {
		d.Reason = "segment not targeted"
		return d
	}

	if flag.Rule != "" {
		matched, err := e.rules.match(flag.Rule, ctx.Attributes)
		if err != nil {
			// A broken rule never admits anyone.
			d.Reason = fmt.Sprintf("rule error: %v", err)
			return d
		}
		if !matched {
			d.Reason = "rule not matched"
			return d
		}
	}

	if flag.IsExcluded(ctx.SubjectID) {
		d.Reason = "subject excluded"
		return d
	}

	if flag.RolloutPercentage < 100 {
		if ctx.SubjectID == "" {
			// Cannot bucket an anonymous caller at partial rollout.
			d.Reason = "anonymous subject at partial rollout"
			return d
		}
		d.Bucket = hash.Bucket(ctx.SubjectID)
		if d.Bucket >= flag.RolloutPercentage {
			d.Reason = fmt.Sprintf("bucket %d outside rollout %d%%", d.Bucket, flag.RolloutPercentage)
			return d
		}
		d.Enabled = true
		d.Reason = fmt.Sprintf("bucket %d within rollout %d%%", d.Bucket, flag.RolloutPercentage)
		return d
	}

	d.Enabled = true
	d.Reason = "admitted"
	return d
}
