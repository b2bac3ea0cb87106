package changerequest

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"

	"granta/internal/platform/metrics"
	id "granta/pkg/domain"
	dErrors "granta/pkg/domain-errors"
	"granta/pkg/platform/audit"
	"granta/pkg/platform/sentinel"
	"granta/pkg/requestcontext"
)

// FieldSource is the owning record's view of protected fields: the live
// current value, and the single write path approved requests go through.
type FieldSource interface {
	CurrentValue(ctx context.Context, subjectID id.SubjectID, field string) (string, error)
	ApplyValue(ctx context.Context, subjectID id.SubjectID, field, value string) error
}

// Actor identifies who proposed or resolved a request.
type Actor struct {
	ID   id.ActorID
	Role id.Role
}

// Decision is the authorizer's verdict on a pending request.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// ParseDecision validates a wire-level decision string.
func ParseDecision(s string) (Decision, error) {
	switch Decision(s) {
	case DecisionApprove, DecisionReject:
		return Decision(s), nil
	default:
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "unknown decision %q", s)
	}
}

// Service owns the change-request lifecycle. Proposals and resolutions for
// the same (subject, field) pair are serialized on a sharded key lock; the
// store's single-pending constraint backs that up across processes.
type Service struct {
	store    Store
	fields   FieldSource
	logger   *slog.Logger
	metrics  *metrics.Metrics
	recorder AuditRecorder
	locks    keyLocks
}

// AuditRecorder matches the non-blocking audit inbox.
type AuditRecorder interface {
	Emit(ctx context.Context, event audit.Event)
}

// Option configures optional service collaborators.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithAuditRecorder(r AuditRecorder) Option {
	return func(s *Service) { s.recorder = r }
}

func New(store Store, fields FieldSource, opts ...Option) *Service {
	s := &Service{
		store:  store,
		fields: fields,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Propose converts an attempted protected-field write into a pending
// request. Proposing the current value is a no-op and returns (nil, nil) so
// callers never queue spurious approvals.
func (s *Service) Propose(ctx context.Context, subjectID id.SubjectID, field, newValue string, requestedBy Actor) (*ChangeRequest, error) {
	var created *ChangeRequest
	err := s.locks.withLock(lockKey(subjectID, field), func() error {
		current, err := s.fields.CurrentValue(ctx, subjectID, field)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.Newf(dErrors.CodeNotFound, "subject %s not found", subjectID)
			}
			return err
		}
		if newValue == current {
			return nil
		}

		cr := &ChangeRequest{
			ID:          id.NewChangeRequestID(),
			SubjectID:   subjectID,
			Field:       field,
			OldValue:    current,
			NewValue:    newValue,
			Status:      StatusPending,
			RequestedBy: requestedBy.ID,
			CreatedAt:   requestcontext.Now(ctx),
		}
		if err := s.store.Create(ctx, cr); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.Newf(dErrors.CodeConflict,
					"a pending change request already exists for field %s", field)
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create change request")
		}
		created = cr
		return nil
	})
	if err != nil {
		return nil, err
	}
	if created == nil {
		return nil, nil
	}

	s.emit(ctx, audit.EventChangeProposed, created, requestedBy, "proposed")
	s.count("proposed")
	s.logger.InfoContext(ctx, "change request proposed",
		slog.String("change_request_id", created.ID.String()),
		slog.String("field", created.Field))
	return created, nil
}

// Resolve applies the authorizer's decision. Approval re-checks that the
// live value still equals the one captured at proposal time; on drift the
// request stays pending and the caller gets CodeStaleChangeRequest, so the
// authorizer re-evaluates against current state instead of blindly writing.
func (s *Service) Resolve(ctx context.Context, requestID id.ChangeRequestID, decision Decision, note string, resolvedBy Actor) (*ChangeRequest, error) {
	if resolvedBy.Role != id.RoleAuthorizer {
		s.emit(ctx, audit.EventTransitionForbidden, &ChangeRequest{ID: requestID}, resolvedBy, "denied")
		return nil, dErrors.New(dErrors.CodeForbidden, "only an authorizer may resolve change requests")
	}

	cr, err := s.find(ctx, requestID)
	if err != nil {
		return nil, err
	}

	var resolved *ChangeRequest
	err = s.locks.withLock(lockKey(cr.SubjectID, cr.Field), func() error {
		// Re-read under the lock; a concurrent resolve may have won.
		cr, err = s.find(ctx, requestID)
		if err != nil {
			return err
		}
		if !cr.Pending() {
			return dErrors.Newf(dErrors.CodeConflict, "change request is already %s", cr.Status)
		}

		if decision == DecisionApprove {
			current, err := s.fields.CurrentValue(ctx, cr.SubjectID, cr.Field)
			if err != nil {
				return err
			}
			if current != cr.OldValue {
				return dErrors.Newf(dErrors.CodeStaleChangeRequest,
					"field %s changed since proposal: expected %q, found %q", cr.Field, cr.OldValue, current)
			}
			if err := s.fields.ApplyValue(ctx, cr.SubjectID, cr.Field, cr.NewValue); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to apply approved value")
			}
			cr.Status = StatusApproved
		} else {
			cr.Status = StatusRejected
		}
		cr.ResolvedBy = resolvedBy.ID
		cr.ResolvedAt = requestcontext.Now(ctx)
		cr.Note = note
		if err := s.store.Update(ctx, cr); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist resolution")
		}
		resolved = cr
		return nil
	})
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeStaleChangeRequest) {
			s.emit(ctx, audit.EventChangeStale, cr, resolvedBy, "stale")
			s.count("stale")
		}
		return nil, err
	}

	event := audit.EventChangeApproved
	if resolved.Status == StatusRejected {
		event = audit.EventChangeRejected
	}
	s.emit(ctx, event, resolved, resolvedBy, string(resolved.Status))
	s.count(string(resolved.Status))
	s.logger.InfoContext(ctx, "change request resolved",
		slog.String("change_request_id", resolved.ID.String()),
		slog.String("status", string(resolved.Status)))
	return resolved, nil
}

// Get returns one change request by ID.
func (s *Service) Get(ctx context.Context, requestID id.ChangeRequestID) (*ChangeRequest, error) {
	return s.find(ctx, requestID)
}

// ListBySubject returns all requests for a subject, oldest first.
func (s *Service) ListBySubject(ctx context.Context, subjectID id.SubjectID) ([]*ChangeRequest, error) {
	out, err := s.store.ListBySubject(ctx, subjectID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list change requests")
	}
	return out, nil
}

// ListPending returns only the subject's unresolved requests.
func (s *Service) ListPending(ctx context.Context, subjectID id.SubjectID) ([]*ChangeRequest, error) {
	all, err := s.ListBySubject(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	pending := all[:0]
	for _, cr := range all {
		if cr.Pending() {
			pending = append(pending, cr)
		}
	}
	return pending, nil
}

func (s *Service) find(ctx context.Context, requestID id.ChangeRequestID) (*ChangeRequest, error) {
	cr, err := s.store.FindByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "change request %s not found", requestID)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load change request")
	}
	return cr, nil
}

func (s *Service) emit(ctx context.Context, event audit.AuditEvent, cr *ChangeRequest, actor Actor, decision string) {
	if s.recorder == nil {
		return
	}
	s.recorder.Emit(ctx, audit.Event{
		Category:  event.Category(),
		Action:    string(event),
		Subject:   cr.ID.String(),
		ActorID:   actor.ID.String(),
		ActorRole: string(actor.Role),
		Decision:  decision,
		Reason:    cr.Field,
		RequestID: requestcontext.RequestID(ctx),
	})
}

func (s *Service) count(decision string) {
	if s.metrics != nil {
		s.metrics.ChangeRequestsTotal.WithLabelValues(decision).Inc()
	}
}

// keyLocks is a small sharded mutex set keyed by (subject, field).
const numLockShards = 64

type keyLocks struct {
	shards [numLockShards]sync.Mutex
}

func (k *keyLocks) withLock(key string, fn func() error) error {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	m := &k.shards[h.Sum32()%numLockShards]
	m.Lock()
	defer m.Unlock()
	return fn()
}

func lockKey(subjectID id.SubjectID, field string) string {
	return subjectID.String() + "|" + field
}
