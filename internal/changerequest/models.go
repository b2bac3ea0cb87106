// Package changerequest implements dual-control edits to protected profile
// fields: a direct write becomes a pending request, and a second actor
// approves or rejects it. At most one pending request exists per
// (subject, field) pair.
package changerequest

import (
	"time"

	id "granta/pkg/domain"
)

// Status is the lifecycle state of one change request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// ChangeRequest captures a proposed edit to one protected field, with the
// value observed at proposal time so approval can detect staleness.
type ChangeRequest struct {
	ID          id.ChangeRequestID `json:"id"`
	SubjectID   id.SubjectID       `json:"subjectId"`
	Field       string             `json:"field"`
	OldValue    string             `json:"oldValue"`
	NewValue    string             `json:"newValue"`
	Status      Status             `json:"status"`
	RequestedBy id.ActorID         `json:"requestedBy"`
	ResolvedBy  id.ActorID         `json:"resolvedBy,omitempty"`
	Note        string             `json:"note,omitempty"`
	CreatedAt   time.Time          `json:"createdAt"`
	ResolvedAt  time.Time          `json:"resolvedAt,omitempty"`
}

// Pending reports whether the request is still awaiting resolution.
func (c *ChangeRequest) Pending() bool {
	return c.Status == StatusPending
}

// Clone returns a deep copy so store snapshots cannot be mutated by callers.
func (c *ChangeRequest) Clone() *ChangeRequest {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}
