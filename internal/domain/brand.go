package domain

import "time"

// BrandRecord is a tenant identity profile plus canary exposure metadata.
//
// Exactly one record holds IsDefault at any time; the record installed as
// the current brand is tracked by the store, not by a field here, so that
// switching brands never requires rewriting more than one record.
type BrandRecord struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`

	// Visual identity references. Application of these is a presentation
	// concern; this core only stores and transitions them.
	PrimaryColor   string `json:"primary_color,omitempty"`
	SecondaryColor string `json:"secondary_color,omitempty"`
	LogoURL        string `json:"logo_url,omitempty"`
	FaviconURL     string `json:"favicon_url,omitempty"`

	LegalName    string `json:"legal_name,omitempty"`
	SupportEmail string `json:"support_email,omitempty"`
	SupportURL   string `json:"support_url,omitempty"`

	WhiteLabel bool `json:"white_label,omitempty"`

	// RolloutPercentage is advisory canary exposure for staged external
	// routing. It does not decide which brand is current.
	RolloutPercentage int `json:"rollout_percentage"`

	IsDefault bool `json:"is_default"`
	IsActive  bool `json:"is_active"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Validate validates the brand configuration.
func (b *BrandRecord) Validate() error {
	if b.ID == "" {
		return NewValidationError("brand id cannot be empty")
	}
	if b.DisplayName == "" {
		return NewValidationError("brand display name cannot be empty")
	}
	if b.RolloutPercentage < 0 || b.RolloutPercentage > 100 {
		return NewValidationError("brand rollout percentage must be between 0 and 100")
	}
	return nil
}

// Clone returns a copy of the record.
func (b *BrandRecord) Clone() *BrandRecord {
	c := *b
	return &c
}
