package audit

import (
	"context"
	"time"
)

// EventCategory classifies audit events by their primary purpose. This
// enables different retention policies and routing downstream.
type EventCategory string

const (
	// CategoryCompliance covers events with legal/regulatory significance:
	// committed phase transitions, change-request resolutions.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers events relevant to security monitoring:
	// role-gate rejections, forbidden access attempts.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers events useful for operational visibility:
	// queue reads, flag annotations, info requests.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic after a commit. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	// Subject identifies the record acted on (application or profile id).
	Subject   string
	Action    string
	ActorID   string
	ActorRole string
	// Decision is the outcome (e.g. "advanced", "rejected", "stale").
	Decision  string
	Reason    string
	RequestID string
}

// AuditEvent enumerates the actions the core emits.
type AuditEvent string

const (
	EventApplicationCreated   AuditEvent = "application_created"
	EventApplicationAdvanced  AuditEvent = "application_advanced"
	EventApplicationRejected  AuditEvent = "application_rejected"
	EventApplicationForwarded AuditEvent = "application_forwarded"
	EventApplicationReset     AuditEvent = "application_reset"
	EventApplicationFlagged   AuditEvent = "application_flagged"
	EventApplicationUnflagged AuditEvent = "application_unflagged"
	EventInfoRequested        AuditEvent = "info_requested"
	EventTransitionForbidden  AuditEvent = "transition_forbidden"
	EventClaimConflict        AuditEvent = "claim_conflict"
	EventChangeProposed       AuditEvent = "change_proposed"
	EventChangeApproved       AuditEvent = "change_approved"
	EventChangeRejected       AuditEvent = "change_rejected"
	EventChangeStale          AuditEvent = "change_stale"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventApplicationCreated:   CategoryCompliance,
	EventApplicationAdvanced:  CategoryCompliance,
	EventApplicationRejected:  CategoryCompliance,
	EventApplicationForwarded: CategoryCompliance,
	EventApplicationReset:     CategoryCompliance,
	EventChangeProposed:       CategoryCompliance,
	EventChangeApproved:       CategoryCompliance,
	EventChangeRejected:       CategoryCompliance,

	EventTransitionForbidden: CategorySecurity,
	EventClaimConflict:       CategorySecurity,
	EventChangeStale:         CategorySecurity,

	EventApplicationFlagged:   CategoryOperations,
	EventApplicationUnflagged: CategoryOperations,
	EventInfoRequested:        CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store persists audit events. The workflow history ledger is the
// authoritative record; this pipeline feeds monitoring and compliance sinks
// and must never block or fail a committed transition.
type Store interface {
	Append(ctx context.Context, event Event) error
}
