package profile

import (
	"context"

	"granta/internal/workflow/pipeline"
	id "granta/pkg/domain"
	dErrors "granta/pkg/domain-errors"
	"granta/pkg/requestcontext"
)

// Fields adapts the profile store to the change-request subsystem's view of
// protected fields. It is the only write path for them: approval lands here.
type Fields struct {
	store Store
}

func NewFields(store Store) *Fields {
	return &Fields{store: store}
}

// CurrentValue returns the live value of one protected field. Location is
// reported in its composite encoded form.
func (f *Fields) CurrentValue(ctx context.Context, subjectID id.SubjectID, field string) (string, error) {
	p, err := f.store.FindByID(ctx, subjectID)
	if err != nil {
		return "", err
	}
	switch field {
	case pipeline.FieldIdentityNumber:
		return p.IdentityNumber, nil
	case pipeline.FieldFullName:
		return p.FullName, nil
	case pipeline.FieldLocation:
		return EncodeLocation(p.Region, p.Address), nil
	default:
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "field %s is not a protected profile field", field)
	}
}

// ApplyValue writes an approved value onto the profile record.
func (f *Fields) ApplyValue(ctx context.Context, subjectID id.SubjectID, field, value string) error {
	p, err := f.store.FindByID(ctx, subjectID)
	if err != nil {
		return err
	}
	switch field {
	case pipeline.FieldIdentityNumber:
		p.IdentityNumber = value
	case pipeline.FieldFullName:
		p.FullName = value
	case pipeline.FieldLocation:
		region, address, err := DecodeLocation(value)
		if err != nil {
			return err
		}
		p.Region = region
		p.Address = address
	default:
		return dErrors.Newf(dErrors.CodeInvalidInput, "field %s is not a protected profile field", field)
	}
	p.UpdatedAt = requestcontext.Now(ctx)
	return f.store.Update(ctx, p)
}
