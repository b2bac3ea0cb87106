// Package pipeline holds the declarative configuration consumed by the phase
// engine and the change-request subsystem: phase order, role assignments,
// branch targets, and the protected-field set. The state machine itself is
// data-driven; this package is the single place the known configuration
// lives, instead of constants scattered across call sites.
package pipeline

import (
	id "granta/pkg/domain"
	dErrors "granta/pkg/domain-errors"
	"granta/internal/workflow/models"
)

// Config is the full pipeline configuration. Treat values as immutable after
// Validate; the engine reads them concurrently.
type Config struct {
	// Order lists the active phases in pipeline order, ending with the
	// terminal completed phase.
	Order []models.Phase
	// Roles maps each active (non-terminal) phase to its single owning role.
	Roles map[models.Phase]id.Role
	// BranchTargets lists, per branching phase, the downstream peers a
	// Forward may route to.
	BranchTargets map[models.Phase][]string
	// ProtectedFields may only change through the change-request subsystem.
	ProtectedFields []string
}

// Default returns the known configuration: the fixed seven-stage pipeline,
// one authority per phase, branching only out of registry review (into a
// club branch), and the identity/location protected fields.
func Default() Config {
	return Config{
		Order: []models.Phase{
			models.PhaseIntake,
			models.PhaseRegistryReview,
			models.PhaseClubReview,
			models.PhasePoliceReview,
			models.PhaseProvinceReview,
			models.PhaseIntelligenceReview,
			models.PhaseRegistryFinal,
			models.PhaseCompleted,
		},
		Roles: map[models.Phase]id.Role{
			models.PhaseIntake:             id.RoleOperator,
			models.PhaseRegistryReview:     id.RoleRegistry,
			models.PhaseClubReview:         id.RoleClub,
			models.PhasePoliceReview:       id.RolePolice,
			models.PhaseProvinceReview:     id.RoleProvince,
			models.PhaseIntelligenceReview: id.RoleIntelligence,
			models.PhaseRegistryFinal:      id.RoleCentralRegistry,
		},
		BranchTargets: map[models.Phase][]string{
			models.PhaseRegistryReview: {"club_north", "club_central", "club_south"},
		},
		ProtectedFields: []string{FieldIdentityNumber, FieldFullName, FieldLocation},
	}
}

// Protected field names. Location is composite: region and address change
// together or not at all.
const (
	FieldIdentityNumber = "identity_number"
	FieldFullName       = "full_name"
	FieldLocation       = "location"
)

// Validate rejects inconsistent configurations before they reach the engine.
func (c Config) Validate() error {
	if len(c.Order) < 2 {
		return dErrors.New(dErrors.CodeValidation, "pipeline needs at least two phases")
	}
	seen := make(map[models.Phase]struct{}, len(c.Order))
	for _, p := range c.Order {
		if _, dup := seen[p]; dup {
			return dErrors.Newf(dErrors.CodeValidation, "phase %s appears twice in pipeline order", p)
		}
		seen[p] = struct{}{}
	}
	if c.Order[len(c.Order)-1] != models.PhaseCompleted {
		return dErrors.New(dErrors.CodeValidation, "pipeline must end in the completed phase")
	}

	assigned := make(map[id.Role]models.Phase, len(c.Roles))
	for _, p := range c.Order[:len(c.Order)-1] {
		role, ok := c.Roles[p]
		if !ok {
			return dErrors.Newf(dErrors.CodeValidation, "phase %s has no assigned role", p)
		}
		if prev, dup := assigned[role]; dup {
			return dErrors.Newf(dErrors.CodeValidation, "role %s assigned to both %s and %s", role, prev, p)
		}
		assigned[role] = p
	}

	for p, targets := range c.BranchTargets {
		if _, ok := seen[p]; !ok {
			return dErrors.Newf(dErrors.CodeValidation, "branching phase %s is not in the pipeline", p)
		}
		if len(targets) == 0 {
			return dErrors.Newf(dErrors.CodeValidation, "branching phase %s has no targets", p)
		}
	}

	for _, f := range c.ProtectedFields {
		if f == "" {
			return dErrors.New(dErrors.CodeValidation, "protected field names must not be empty")
		}
	}
	return nil
}

// Next returns the phase that follows p in pipeline order.
func (c Config) Next(p models.Phase) (models.Phase, bool) {
	for i, phase := range c.Order {
		if phase == p && i+1 < len(c.Order) {
			return c.Order[i+1], true
		}
	}
	return "", false
}

// RoleFor returns the role that owns active phase p.
func (c Config) RoleFor(p models.Phase) (id.Role, bool) {
	role, ok := c.Roles[p]
	return role, ok
}

// PhaseFor returns the phase owned by role, for queue views.
func (c Config) PhaseFor(role id.Role) (models.Phase, bool) {
	for p, r := range c.Roles {
		if r == role {
			return p, true
		}
	}
	return "", false
}

// IsTerminal reports whether p accepts no further transitions.
func (c Config) IsTerminal(p models.Phase) bool {
	return p == models.PhaseCompleted || p == models.PhaseRejected
}

// Branches returns the allowed forward targets of p, nil when p does not
// branch.
func (c Config) Branches(p models.Phase) []string {
	return c.BranchTargets[p]
}

// IsProtected reports whether field may only change via a change request.
func (c Config) IsProtected(field string) bool {
	for _, f := range c.ProtectedFields {
		if f == field {
			return true
		}
	}
	return false
}
