package models

import (
	"time"

	id "granta/pkg/domain"
	dErrors "granta/pkg/domain-errors"
)

// Phase is a named stage of the licensing pipeline. Active phases are owned
// by exactly one role; terminal phases accept no further transitions.
type Phase string

const (
	PhaseIntake             Phase = "intake"
	PhaseRegistryReview     Phase = "registry_review"
	PhaseClubReview         Phase = "club_review"
	PhasePoliceReview       Phase = "police_review"
	PhaseProvinceReview     Phase = "province_review"
	PhaseIntelligenceReview Phase = "intelligence_review"
	PhaseRegistryFinal      Phase = "registry_final"
	PhaseCompleted          Phase = "completed"
	PhaseRejected           Phase = "rejected"
)

// Action is the kind of a recorded transition or annotation.
type Action string

const (
	ActionAdvance     Action = "advance"
	ActionReject      Action = "reject"
	ActionFlag        Action = "flag"
	ActionUnflag      Action = "unflag"
	ActionForward     Action = "forward"
	ActionRequestInfo Action = "request-info"
	ActionReset       Action = "reset"
)

// Payload is the role-extensible annex data attached to an application.
// Phases append or overwrite their own keys; prior phases' entries are never
// deleted. Keys prefixed with "_" are reserved for the engine.
type Payload map[string]any

const (
	// PayloadKeyFlagged marks an application as flagged without touching its
	// status. Engine-owned.
	PayloadKeyFlagged = "_flagged"
	// PayloadKeyBranch records the downstream branch chosen by Forward.
	PayloadKeyBranch = "_branch"
	// PayloadKeyInfoRequests accumulates request-info annotations.
	PayloadKeyInfoRequests = "_info_requests"
)

// InfoRequest is one request-info annotation stored under PayloadKeyInfoRequests.
type InfoRequest struct {
	ActorID string    `json:"actor_id"`
	Role    string    `json:"role"`
	Note    string    `json:"note"`
	At      time.Time `json:"at"`
}

// Application is the canonical workflow record. Status transitions only via
// the phase engine; writing Status anywhere else breaks the replay invariant.
type Application struct {
	ID            id.ApplicationID `json:"id"`
	Status        Phase            `json:"status"`
	ApplicantRef  id.SubjectID     `json:"applicant_ref"`
	AssetTokenRef id.TokenRef      `json:"asset_token_ref,omitempty"`
	Payload       Payload          `json:"payload"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// NewApplication constructs an intake application.
func NewApplication(appID id.ApplicationID, applicant id.SubjectID, token id.TokenRef, payload Payload, now time.Time) (*Application, error) {
	if appID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "application id must be set")
	}
	if applicant.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "applicant reference must be set")
	}
	app := &Application{
		ID:            appID,
		Status:        PhaseIntake,
		ApplicantRef:  applicant,
		AssetTokenRef: token,
		Payload:       Payload{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := app.MergePayload(payload); err != nil {
		return nil, err
	}
	return app, nil
}

// MergePayload appends or overwrites caller keys. Nil values and reserved
// keys are rejected: deletion of prior phases' entries is forbidden and the
// underscore namespace belongs to the engine.
func (a *Application) MergePayload(patch Payload) error {
	if len(patch) == 0 {
		return nil
	}
	for k, v := range patch {
		if k == "" {
			return dErrors.New(dErrors.CodeValidation, "payload keys must not be empty")
		}
		if k[0] == '_' {
			return dErrors.New(dErrors.CodeValidation, "payload key "+k+" is reserved")
		}
		if v == nil {
			return dErrors.New(dErrors.CodeValidation, "payload entries cannot be deleted: "+k)
		}
	}
	if a.Payload == nil {
		a.Payload = Payload{}
	}
	for k, v := range patch {
		a.Payload[k] = v
	}
	return nil
}

// Flagged reports whether the flag marker is set.
func (a *Application) Flagged() bool {
	v, ok := a.Payload[PayloadKeyFlagged].(bool)
	return ok && v
}

// SetFlagged toggles the engine-owned flag marker.
func (a *Application) SetFlagged(flagged bool) {
	if a.Payload == nil {
		a.Payload = Payload{}
	}
	a.Payload[PayloadKeyFlagged] = flagged
}

// AppendInfoRequest records a request-info annotation.
func (a *Application) AppendInfoRequest(req InfoRequest) {
	if a.Payload == nil {
		a.Payload = Payload{}
	}
	existing, _ := a.Payload[PayloadKeyInfoRequests].([]InfoRequest)
	a.Payload[PayloadKeyInfoRequests] = append(existing, req)
}

// SetBranch records the downstream branch chosen by Forward.
func (a *Application) SetBranch(branch string) {
	if a.Payload == nil {
		a.Payload = Payload{}
	}
	a.Payload[PayloadKeyBranch] = branch
}

// Clone returns a deep-enough copy for compensation on failed commits: the
// payload map is copied, values are shared (they are treated as immutable).
func (a *Application) Clone() *Application {
	dup := *a
	dup.Payload = make(Payload, len(a.Payload))
	for k, v := range a.Payload {
		dup.Payload[k] = v
	}
	return &dup
}
