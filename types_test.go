package gatekeep

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewContext(t *testing.T) {
	ctx := NewContext("user-1")
	assert.Equal(t, "user-1", ctx.SubjectID)
	assert.Empty(t, ctx.Segment)
	assert.NotNil(t, ctx.Attributes)
}

func TestContext_Fluent(t *testing.T) {
	ctx := NewContext("user-1").
		WithSegment("beta").
		WithAttribute("plan", "enterprise").
		WithAttribute("seats", 50)

	assert.Equal(t, "beta", ctx.Segment)
	assert.Equal(t, "enterprise", ctx.Attributes["plan"])
	assert.Equal(t, 50, ctx.Attributes["seats"])
}

func TestContext_WithAttributeOnZeroValue(t *testing.T) {
	var ctx Context
	ctx = ctx.WithAttribute("k", "v")
	assert.Equal(t, "v", ctx.Attributes["k"])
}

func TestFlagConversionRoundTrip(t *testing.T) {
	in := Flag{
		ID:                "f1",
		Kind:              KindSegment,
		Enabled:           true,
		RolloutPercentage: 45,
		Segments:          []string{"beta"},
		Excluded:          []string{"user-9"},
		Rule:              `plan == "pro"`,
		Category:          "payments",
		CreatedBy:         "alice",
	}

	out := fromDomainFlag(toDomainFlag(in))
	assert.Equal(t, in, out)
}

func TestBrandConversionRoundTrip(t *testing.T) {
	in := Brand{
		ID:                "acme",
		DisplayName:       "Acme Inc.",
		PrimaryColor:      "#0044cc",
		WhiteLabel:        true,
		RolloutPercentage: 100,
		IsDefault:         true,
		IsActive:          true,
	}

	out := fromDomainBrand(toDomainBrand(in))
	assert.Equal(t, in, out)
}
