package profile

import (
	"context"
	"errors"
	"log/slog"

	"granta/internal/changerequest"
	"granta/internal/workflow/pipeline"
	id "granta/pkg/domain"
	dErrors "granta/pkg/domain-errors"
	"granta/pkg/platform/sentinel"
	"granta/pkg/requestcontext"
)

// Proposer is the change-request entry point; satisfied by
// *changerequest.Service.
type Proposer interface {
	Propose(ctx context.Context, subjectID id.SubjectID, field, newValue string, requestedBy changerequest.Actor) (*changerequest.ChangeRequest, error)
}

// Service owns profile reads and writes. Writes touching protected fields
// are intercepted and routed through the proposer instead of applying;
// free fields on the same update still apply immediately.
type Service struct {
	store    Store
	cfg      pipeline.Config
	proposer Proposer
	logger   *slog.Logger
}

type Option func(*Service)

func WithProposer(p Proposer) Option {
	return func(s *Service) { s.proposer = p }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func New(store Store, cfg pipeline.Config, opts ...Option) *Service {
	s := &Service{
		store:  store,
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateInput carries the initial profile record. Identity fields are set
// freely at creation; protection starts once the record exists.
type CreateInput struct {
	IdentityNumber string `json:"identityNumber"`
	FullName       string `json:"fullName"`
	Region         string `json:"region"`
	Address        string `json:"address"`
	Phone          string `json:"phone"`
	Email          string `json:"email"`
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*Profile, error) {
	if in.IdentityNumber == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "identityNumber is required")
	}
	if in.FullName == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "fullName is required")
	}
	now := requestcontext.Now(ctx)
	p := &Profile{
		ID:             id.NewSubjectID(),
		IdentityNumber: in.IdentityNumber,
		FullName:       in.FullName,
		Region:         in.Region,
		Address:        in.Address,
		Phone:          in.Phone,
		Email:          in.Email,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.Create(ctx, p); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create profile")
	}
	s.logger.InfoContext(ctx, "profile created", slog.String("subject_id", p.ID.String()))
	return p, nil
}

func (s *Service) Get(ctx context.Context, subjectID id.SubjectID) (*Profile, error) {
	p, err := s.store.FindByID(ctx, subjectID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "profile %s not found", subjectID)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load profile")
	}
	return p, nil
}

// UpdateInput carries a partial update; nil means leave the field alone.
// Region and address form the composite location and must travel together.
type UpdateInput struct {
	IdentityNumber *string `json:"identityNumber"`
	FullName       *string `json:"fullName"`
	Region         *string `json:"region"`
	Address        *string `json:"address"`
	Phone          *string `json:"phone"`
	Email          *string `json:"email"`
}

// UpdateResult reports what an update did: the (possibly unchanged) profile
// after direct writes, plus the change requests opened for protected fields.
type UpdateResult struct {
	Profile        *Profile                       `json:"profile"`
	ChangeRequests []*changerequest.ChangeRequest `json:"changeRequests,omitempty"`
}

// Update applies free fields immediately and converts protected-field edits
// into change requests. A protected edit whose value already matches the
// record produces no request.
func (s *Service) Update(ctx context.Context, subjectID id.SubjectID, in UpdateInput, actor changerequest.Actor) (*UpdateResult, error) {
	if (in.Region == nil) != (in.Address == nil) {
		return nil, dErrors.New(dErrors.CodeValidation, "region and address must change together")
	}

	p, err := s.Get(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	proposals := map[string]string{}
	if in.IdentityNumber != nil {
		proposals[pipeline.FieldIdentityNumber] = *in.IdentityNumber
	}
	if in.FullName != nil {
		proposals[pipeline.FieldFullName] = *in.FullName
	}
	if in.Region != nil {
		proposals[pipeline.FieldLocation] = EncodeLocation(*in.Region, *in.Address)
	}

	var opened []*changerequest.ChangeRequest
	for _, field := range s.cfg.ProtectedFields {
		value, ok := proposals[field]
		if !ok {
			continue
		}
		if s.proposer == nil {
			return nil, dErrors.Newf(dErrors.CodeForbidden, "field %s may only change via a change request", field)
		}
		cr, err := s.proposer.Propose(ctx, subjectID, field, value, actor)
		if err != nil {
			return nil, err
		}
		if cr != nil {
			opened = append(opened, cr)
		}
	}

	direct := false
	if in.Phone != nil && *in.Phone != p.Phone {
		p.Phone = *in.Phone
		direct = true
	}
	if in.Email != nil && *in.Email != p.Email {
		p.Email = *in.Email
		direct = true
	}
	if direct {
		p.UpdatedAt = requestcontext.Now(ctx)
		if err := s.store.Update(ctx, p); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update profile")
		}
	}

	return &UpdateResult{Profile: p, ChangeRequests: opened}, nil
}
