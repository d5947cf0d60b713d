package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/noah-isme/sma-records-api/internal/models"
	appErrors "github.com/noah-isme/sma-records-api/pkg/errors"
)

type studentFinder interface {
	FindByID(ctx context.Context, id int64) (*models.Student, error)
}

type personReader interface {
	FindFaculty(ctx context.Context, id string) (*models.Faculty, error)
	FindShsStudent(ctx context.Context, lrn string) (*models.ShsStudent, error)
	FindAccountByPerson(ctx context.Context, ref models.PersonRef) (*models.Account, error)
}

// PersonResolver turns a PersonRef into display data.
type PersonResolver struct {
	students studentFinder
	people   personReader
}

// NewPersonResolver constructs the resolver.
func NewPersonResolver(students studentFinder, people personReader) *PersonResolver {
	return &PersonResolver{students: students, people: people}
}

// Resolve loads the person behind ref.
func (r *PersonResolver) Resolve(ctx context.Context, ref models.PersonRef) (*models.PersonProfile, error) {
	profile := &models.PersonProfile{Kind: ref.Kind(), Key: ref.Key()}
	var err error
	switch p := ref.(type) {
	case models.StudentRef:
		var s *models.Student
		if s, err = r.students.FindByID(ctx, p.ID); err == nil {
			profile.Name = s.FullName()
			profile.Email = s.EmailAddress()
		}
	case models.FacultyRef:
		var f *models.Faculty
		if f, err = r.people.FindFaculty(ctx, p.ID); err == nil {
			profile.Name = f.FirstName + " " + f.LastName
			profile.Email = deref(f.Email)
		}
	case models.ShsStudentRef:
		var s *models.ShsStudent
		if s, err = r.people.FindShsStudent(ctx, p.LRN); err == nil {
			profile.Name = s.FullName
			profile.Email = deref(s.Email)
		}
	default:
		return nil, appErrors.Clonef(appErrors.ErrValidation, "unsupported person reference %T", ref)
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clonef(appErrors.ErrNotFound, "%s %s not found", ref.Kind(), ref.Key())
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, fmt.Sprintf("failed to resolve %s %s", ref.Kind(), ref.Key()))
	}
	return profile, nil
}

// Recipient returns the email to notify for ref, preferring the linked
// account address over the person record. Empty means nobody to mail.
func (r *PersonResolver) Recipient(ctx context.Context, ref models.PersonRef) (string, error) {
	account, err := r.people.FindAccountByPerson(ctx, ref)
	if err == nil && account.Email != "" {
		return account.Email, nil
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load linked account")
	}
	profile, err := r.Resolve(ctx, ref)
	if err != nil {
		return "", err
	}
	return profile.Email, nil
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
