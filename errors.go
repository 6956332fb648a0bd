package gatekeep

import (
	"github.com/OrlandoBitencourt/gatekeep/internal/domain"
)

// Error classification helpers. All control-plane failures fall into one of
// three buckets; out-of-range numeric inputs are clamped silently and never
// surface as errors.

// IsNotFound reports whether err is an unknown flag or brand id.
func IsNotFound(err error) bool {
	return domain.IsNotFound(err)
}

// IsInvalidState reports whether err is an operation illegal from the
// current state, such as applying a preview when none is active or rolling
// back the default brand.
func IsInvalidState(err error) bool {
	return domain.IsInvalidState(err)
}

// IsValidation reports whether err is a rejected record, such as an empty
// id or a duplicate registration.
func IsValidation(err error) bool {
	return domain.IsValidationError(err)
}
