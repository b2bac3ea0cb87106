package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"granta/internal/history"
	"granta/internal/platform/metrics"
	"granta/internal/workflow"
	"granta/internal/workflow/models"
	"granta/internal/workflow/pipeline"
	id "granta/pkg/domain"
	dErrors "granta/pkg/domain-errors"
	audit "granta/pkg/platform/audit"
	"granta/pkg/platform/sentinel"
	"granta/pkg/requestcontext"
)

// Actor is the authenticated identity performing an operation, supplied by
// the external authentication collaborator and trusted as-is.
type Actor struct {
	ID   id.ActorID
	Role id.Role
}

// Ledger is the engine's view of the history ledger.
type Ledger interface {
	Append(ctx context.Context, entry history.Entry) (history.Entry, error)
}

// ClaimRegistry is the engine's view of the uniqueness registry.
type ClaimRegistry interface {
	Claim(ctx context.Context, token id.TokenRef, applicationID id.ApplicationID) error
	Release(ctx context.Context, token id.TokenRef, applicationID id.ApplicationID) error
}

// IdempotencyStore de-duplicates retried mutating calls by client request id.
type IdempotencyStore interface {
	Seen(ctx context.Context, key string) (bool, error)
	Remember(ctx context.Context, key string, ttl time.Duration) error
}

// AuditRecorder receives post-commit audit events; emission never blocks.
type AuditRecorder interface {
	Emit(ctx context.Context, event audit.Event)
}

// idempotencyTTL bounds how long a request id suppresses replays.
const idempotencyTTL = 24 * time.Hour

// Engine is the phase-pipeline state machine. It exclusively owns
// Application.status transitions and the uniqueness-claim lifecycle tied to
// them; everything it commits is recorded in the history ledger.
type Engine struct {
	apps    workflow.Store
	ledger  Ledger
	claims  ClaimRegistry
	cfg     pipeline.Config
	tx      Tx
	idem    IdempotencyStore
	logger  *slog.Logger
	metrics *metrics.Metrics
	audit   AuditRecorder
	tracer  trace.Tracer
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithAuditRecorder(recorder AuditRecorder) Option {
	return func(e *Engine) { e.audit = recorder }
}

func WithIdempotencyStore(store IdempotencyStore) Option {
	return func(e *Engine) { e.idem = store }
}

// New constructs the engine. cfg must already be validated.
func New(apps workflow.Store, ledger Ledger, claims ClaimRegistry, cfg pipeline.Config, tx Tx, opts ...Option) *Engine {
	e := &Engine{
		apps:   apps,
		ledger: ledger,
		claims: claims,
		cfg:    cfg,
		tx:     tx,
		logger: slog.Default(),
		tracer: otel.Tracer("granta/workflow"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Create opens an intake application. No history entry is written: replay
// starts from intake by definition.
func (e *Engine) Create(ctx context.Context, actor Actor, applicant id.SubjectID, token id.TokenRef, payload models.Payload) (*models.Application, error) {
	app, err := models.NewApplication(id.NewApplicationID(), applicant, token, payload, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	if err := e.apps.Create(ctx, app); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create application")
	}
	e.emit(ctx, audit.EventApplicationCreated, app.ID.String(), actor, "created", "")
	return app, nil
}

// Get returns an application by id.
func (e *Engine) Get(ctx context.Context, applicationID id.ApplicationID) (*models.Application, error) {
	app, err := e.apps.FindByID(ctx, applicationID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "application not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load application")
	}
	return app, nil
}

// Queue lists the applications sitting in the phase owned by role — the
// actor's pending-work view.
func (e *Engine) Queue(ctx context.Context, role id.Role) ([]*models.Application, error) {
	phase, ok := e.cfg.PhaseFor(role)
	if !ok {
		return nil, dErrors.Newf(dErrors.CodeValidation, "role %s owns no pipeline phase", role)
	}
	apps, err := e.apps.ListByStatus(ctx, phase)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list queue")
	}
	return apps, nil
}

// Advance moves an application to the next phase in pipeline order. When the
// next phase is completed and an asset token is referenced, the uniqueness
// claim is acquired within the same atomic commit: losing it fails the whole
// advance with no state change.
func (e *Engine) Advance(ctx context.Context, applicationID id.ApplicationID, actor Actor, comment string, patch models.Payload, requestID string) (*models.Application, error) {
	return e.pipelineStep(ctx, applicationID, actor, models.ActionAdvance, comment, requestID, func(app *models.Application) error {
		return app.MergePayload(patch)
	})
}

// Forward routes an application to one of the configured downstream
// branches, advancing status exactly as Advance would.
func (e *Engine) Forward(ctx context.Context, applicationID id.ApplicationID, actor Actor, targetBranch, note, requestID string) (*models.Application, error) {
	return e.pipelineStep(ctx, applicationID, actor, models.ActionForward, note, requestID, func(app *models.Application) error {
		allowed := e.cfg.Branches(app.Status)
		if len(allowed) == 0 {
			return dErrors.Newf(dErrors.CodeInvalidTransition, "phase %s does not support branching", app.Status)
		}
		valid := false
		for _, b := range allowed {
			if b == targetBranch {
				valid = true
				break
			}
		}
		if !valid {
			return dErrors.Newf(dErrors.CodeValidation, "unknown branch target %q for phase %s", targetBranch, app.Status)
		}
		app.SetBranch(targetBranch)
		return nil
	})
}

// Reject terminates an application. Any uniqueness claim held for it is
// released atomically with the status write. Rejection is final.
func (e *Engine) Reject(ctx context.Context, applicationID id.ApplicationID, actor Actor, reason, requestID string) (*models.Application, error) {
	return e.commit(ctx, applicationID, actor, requestID, func(ctx context.Context, app *models.Application) (*transition, error) {
		if e.cfg.IsTerminal(app.Status) {
			return nil, dErrors.Newf(dErrors.CodeInvalidTransition, "application is already %s", app.Status)
		}
		if err := e.gate(ctx, app, actor); err != nil {
			return nil, err
		}
		return &transition{
			to:           models.PhaseRejected,
			action:       models.ActionReject,
			comment:      reason,
			releaseClaim: true,
			event:        audit.EventApplicationRejected,
			decision:     "rejected",
		}, nil
	})
}

// Reset is the administrative undo: authorizer-only, from any phase back to
// intake, releasing any held claim. It is itself a logged transition, not a
// deletion.
func (e *Engine) Reset(ctx context.Context, applicationID id.ApplicationID, actor Actor, reason, requestID string) (*models.Application, error) {
	return e.commit(ctx, applicationID, actor, requestID, func(ctx context.Context, app *models.Application) (*transition, error) {
		if actor.Role != id.RoleAuthorizer {
			return nil, dErrors.New(dErrors.CodeForbidden, "only an authorizer may reset an application")
		}
		if app.Status == models.PhaseIntake {
			return nil, dErrors.New(dErrors.CodeInvalidTransition, "application is already at intake")
		}
		return &transition{
			to:           models.PhaseIntake,
			action:       models.ActionReset,
			comment:      reason,
			releaseClaim: true,
			event:        audit.EventApplicationReset,
			decision:     "reset",
		}, nil
	})
}

// Flag attaches the cross-cutting flag marker. Any role may flag; status is
// untouched and the annotation is logged so replay stays total.
func (e *Engine) Flag(ctx context.Context, applicationID id.ApplicationID, actor Actor, reason string) (*models.Application, error) {
	return e.annotate(ctx, applicationID, actor, models.ActionFlag, reason, audit.EventApplicationFlagged, func(app *models.Application) error {
		app.SetFlagged(true)
		return nil
	})
}

// Unflag clears the flag marker, symmetrically logged.
func (e *Engine) Unflag(ctx context.Context, applicationID id.ApplicationID, actor Actor, reason string) (*models.Application, error) {
	return e.annotate(ctx, applicationID, actor, models.ActionUnflag, reason, audit.EventApplicationUnflagged, func(app *models.Application) error {
		app.SetFlagged(false)
		return nil
	})
}

// RequestInfo records an information request without blocking other roles or
// changing status.
func (e *Engine) RequestInfo(ctx context.Context, applicationID id.ApplicationID, actor Actor, note string) (*models.Application, error) {
	return e.annotate(ctx, applicationID, actor, models.ActionRequestInfo, note, audit.EventInfoRequested, func(app *models.Application) error {
		app.AppendInfoRequest(models.InfoRequest{
			ActorID: actor.ID.String(),
			Role:    string(actor.Role),
			Note:    note,
			At:      requestcontext.Now(ctx),
		})
		return nil
	})
}

// transition describes one status change for commit to apply.
type transition struct {
	to           models.Phase
	action       models.Action
	comment      string
	claimToken   bool
	releaseClaim bool
	event        audit.AuditEvent
	decision     string
}

// pipelineStep implements the shared Advance/Forward path: gate on the
// current phase's role, run the op-specific mutation, then step to the next
// phase, claiming the asset token when stepping into completed.
func (e *Engine) pipelineStep(ctx context.Context, applicationID id.ApplicationID, actor Actor, action models.Action, comment, requestID string, mutate func(*models.Application) error) (*models.Application, error) {
	return e.commit(ctx, applicationID, actor, requestID, func(ctx context.Context, app *models.Application) (*transition, error) {
		if e.cfg.IsTerminal(app.Status) {
			return nil, dErrors.Newf(dErrors.CodeInvalidTransition, "application is already %s", app.Status)
		}
		if err := e.gate(ctx, app, actor); err != nil {
			return nil, err
		}
		next, ok := e.cfg.Next(app.Status)
		if !ok {
			return nil, dErrors.Newf(dErrors.CodeInvalidTransition, "phase %s has no successor", app.Status)
		}
		if err := mutate(app); err != nil {
			return nil, err
		}
		event := audit.EventApplicationAdvanced
		decision := "advanced"
		if action == models.ActionForward {
			event = audit.EventApplicationForwarded
			decision = "forwarded"
		}
		return &transition{
			to:         next,
			action:     action,
			comment:    comment,
			claimToken: next == models.PhaseCompleted,
			event:      event,
			decision:   decision,
		}, nil
	})
}

// commit executes the three-way write (status + claim + history) under the
// per-application transaction. On any failure the application is left
// exactly as it was: under SQL the transaction rolls back; with memory
// stores the compensation writes below restore the prior state.
func (e *Engine) commit(ctx context.Context, applicationID id.ApplicationID, actor Actor, requestID string, decide func(context.Context, *models.Application) (*transition, error)) (*models.Application, error) {
	if replayed, app, err := e.replayIfSeen(ctx, applicationID, requestID); replayed || err != nil {
		return app, err
	}

	ctx, span := e.tracer.Start(ctx, "workflow.commit",
		trace.WithAttributes(attribute.String("application.id", applicationID.String())))
	defer span.End()

	var (
		result    *models.Application
		committed *transition
	)
	err := e.tx.RunInTx(ctx, applicationID, func(ctx context.Context) error {
		app, err := e.Get(ctx, applicationID)
		if err != nil {
			return err
		}
		before := app.Clone()

		tr, err := decide(ctx, app)
		if err != nil {
			return err
		}

		claimed := false
		if tr.claimToken && !app.AssetTokenRef.IsZero() {
			if err := e.claims.Claim(ctx, app.AssetTokenRef, app.ID); err != nil {
				return err
			}
			claimed = true
		}
		if tr.releaseClaim && !app.AssetTokenRef.IsZero() {
			if err := e.claims.Release(ctx, app.AssetTokenRef, app.ID); err != nil {
				return err
			}
		}

		from := app.Status
		app.Status = tr.to
		app.UpdatedAt = requestcontext.Now(ctx)
		if err := e.apps.Update(ctx, app); err != nil {
			e.compensate(ctx, before, claimed)
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist transition")
		}

		entry := history.Entry{
			ApplicationID: app.ID,
			ActorID:       actor.ID,
			ActorRole:     actor.Role,
			FromStatus:    from,
			ToStatus:      tr.to,
			Action:        tr.action,
			Comment:       tr.comment,
			RequestID:     requestID,
			Timestamp:     app.UpdatedAt,
		}
		if _, err := e.ledger.Append(ctx, entry); err != nil {
			e.compensate(ctx, before, claimed)
			return err
		}

		result = app
		committed = tr
		return nil
	})
	if err != nil {
		e.observeFailure(ctx, err)
		return nil, err
	}

	e.remember(ctx, applicationID, requestID)
	e.emit(ctx, committed.event, result.ID.String(), actor, committed.decision, committed.comment)
	if e.metrics != nil {
		e.metrics.TransitionsTotal.WithLabelValues(string(committed.action)).Inc()
	}
	return result, nil
}

// compensate restores the prior application state and releases a claim taken
// earlier in the same failed commit. Under SQLTx the rollback covers the
// same ground; doubling up is harmless because both writes are idempotent.
func (e *Engine) compensate(ctx context.Context, before *models.Application, claimed bool) {
	if claimed && !before.AssetTokenRef.IsZero() {
		if err := e.claims.Release(ctx, before.AssetTokenRef, before.ID); err != nil {
			e.logger.ErrorContext(ctx, "failed to release claim during compensation",
				"application_id", before.ID.String(), "error", err)
		}
	}
	if err := e.apps.Update(ctx, before); err != nil {
		e.logger.ErrorContext(ctx, "failed to restore application during compensation",
			"application_id", before.ID.String(), "error", err)
	}
}

// annotate implements the non-status-mutating transition kinds (flag,
// unflag, request-info): payload annotation plus a history entry whose from
// and to status are equal, keeping the replay fold total.
func (e *Engine) annotate(ctx context.Context, applicationID id.ApplicationID, actor Actor, action models.Action, comment string, event audit.AuditEvent, mutate func(*models.Application) error) (*models.Application, error) {
	var result *models.Application
	err := e.tx.RunInTx(ctx, applicationID, func(ctx context.Context) error {
		app, err := e.Get(ctx, applicationID)
		if err != nil {
			return err
		}
		before := app.Clone()

		if err := mutate(app); err != nil {
			return err
		}
		app.UpdatedAt = requestcontext.Now(ctx)
		if err := e.apps.Update(ctx, app); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist annotation")
		}

		entry := history.Entry{
			ApplicationID: app.ID,
			ActorID:       actor.ID,
			ActorRole:     actor.Role,
			FromStatus:    app.Status,
			ToStatus:      app.Status,
			Action:        action,
			Comment:       comment,
			Timestamp:     app.UpdatedAt,
		}
		if _, err := e.ledger.Append(ctx, entry); err != nil {
			e.compensate(ctx, before, false)
			return err
		}
		result = app
		return nil
	})
	if err != nil {
		e.observeFailure(ctx, err)
		return nil, err
	}
	e.emit(ctx, event, result.ID.String(), actor, string(action), comment)
	if e.metrics != nil {
		e.metrics.TransitionsTotal.WithLabelValues(string(action)).Inc()
	}
	return result, nil
}

// gate enforces the role-for-phase rule. Failures are logged as security
// audit events but never produce a history entry.
func (e *Engine) gate(ctx context.Context, app *models.Application, actor Actor) error {
	required, ok := e.cfg.RoleFor(app.Status)
	if !ok {
		return dErrors.Newf(dErrors.CodeInvalidTransition, "phase %s accepts no transitions", app.Status)
	}
	if actor.Role != required {
		e.emit(ctx, audit.EventTransitionForbidden, app.ID.String(), actor, "denied",
			"phase "+string(app.Status)+" is owned by role "+string(required))
		return dErrors.Newf(dErrors.CodeForbidden, "role %s may not act on phase %s", actor.Role, app.Status)
	}
	return nil
}

func (e *Engine) replayIfSeen(ctx context.Context, applicationID id.ApplicationID, requestID string) (bool, *models.Application, error) {
	if e.idem == nil || requestID == "" {
		return false, nil, nil
	}
	seen, err := e.idem.Seen(ctx, idempotencyKey(applicationID, requestID))
	if err != nil {
		// De-dup is best-effort; an unavailable store must not block the
		// transition itself.
		e.logger.WarnContext(ctx, "idempotency lookup failed", "error", err)
		return false, nil, nil
	}
	if !seen {
		return false, nil, nil
	}
	if e.metrics != nil {
		e.metrics.IdempotentReplaysHits.Inc()
	}
	app, err := e.Get(ctx, applicationID)
	return true, app, err
}

func (e *Engine) remember(ctx context.Context, applicationID id.ApplicationID, requestID string) {
	if e.idem == nil || requestID == "" {
		return
	}
	if err := e.idem.Remember(ctx, idempotencyKey(applicationID, requestID), idempotencyTTL); err != nil {
		e.logger.WarnContext(ctx, "failed to remember idempotency key", "error", err)
	}
}

func idempotencyKey(applicationID id.ApplicationID, requestID string) string {
	return "app:" + applicationID.String() + ":req:" + requestID
}

func (e *Engine) observeFailure(ctx context.Context, err error) {
	code := dErrors.CodeOf(err)
	if e.metrics != nil {
		e.metrics.TransitionFailures.WithLabelValues(string(code)).Inc()
		if code == dErrors.CodeTokenConflict {
			e.metrics.TokenConflictsTotal.Inc()
		}
	}
	if code == dErrors.CodeInternal || code == dErrors.CodeUnavailable {
		e.logger.ErrorContext(ctx, "transition failed", "error", err)
	}
}

func (e *Engine) emit(ctx context.Context, event audit.AuditEvent, subject string, actor Actor, decision, reason string) {
	if e.audit == nil {
		return
	}
	e.audit.Emit(ctx, audit.Event{
		Category:  event.Category(),
		Subject:   subject,
		Action:    string(event),
		ActorID:   actor.ID.String(),
		ActorRole: string(actor.Role),
		Decision:  decision,
		Reason:    reason,
		RequestID: requestcontext.RequestID(ctx),
	})
}
