// Package profile owns the subject records whose identity fields are
// protected: direct writes to those fields are intercepted and converted
// into change requests, while free fields apply immediately.
package profile

import (
	"encoding/json"
	"time"

	id "granta/pkg/domain"
	dErrors "granta/pkg/domain-errors"
)

// Profile is the canonical subject record. IdentityNumber, FullName and the
// composite region/address location only change via approved change
// requests; phone and email are free fields.
type Profile struct {
	ID             id.SubjectID `json:"id"`
	IdentityNumber string       `json:"identityNumber"`
	FullName       string       `json:"fullName"`
	Region         string       `json:"region"`
	Address        string       `json:"address"`
	Phone          string       `json:"phone,omitempty"`
	Email          string       `json:"email,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
}

// Clone returns a copy so store snapshots stay private.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}

// location is the composite wire form of the protected location field. Both
// sub-values travel together so they change together or not at all.
type location struct {
	Region  string `json:"region"`
	Address string `json:"address"`
}

// EncodeLocation packs region and address into the single protected value.
func EncodeLocation(region, address string) string {
	raw, _ := json.Marshal(location{Region: region, Address: address})
	return string(raw)
}

// DecodeLocation unpacks a composite location value.
func DecodeLocation(value string) (region, address string, err error) {
	var loc location
	if err := json.Unmarshal([]byte(value), &loc); err != nil {
		return "", "", dErrors.Wrap(err, dErrors.CodeInvalidInput, "malformed location value")
	}
	return loc.Region, loc.Address, nil
}
