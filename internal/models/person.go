package models

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// PersonKind names the variants of PersonRef as stored in accounts.person_type.
type PersonKind string

const (
	PersonKindStudent    PersonKind = "student"
	PersonKindFaculty    PersonKind = "faculty"
	PersonKindShsStudent PersonKind = "shs_student"
)

// PersonRef identifies the person behind an account. The set of
// implementations is closed: StudentRef, FacultyRef and ShsStudentRef.
type PersonRef interface {
	Kind() PersonKind
	Key() string
	isPersonRef()
}

// StudentRef points at students.id.
type StudentRef struct{ ID int64 }

// FacultyRef points at faculty.id.
type FacultyRef struct{ ID string }

// ShsStudentRef points at shs_students.lrn.
type ShsStudentRef struct{ LRN string }

func (StudentRef) Kind() PersonKind    { return PersonKindStudent }
func (FacultyRef) Kind() PersonKind    { return PersonKindFaculty }
func (ShsStudentRef) Kind() PersonKind { return PersonKindShsStudent }

func (r StudentRef) Key() string    { return strconv.FormatInt(r.ID, 10) }
func (r FacultyRef) Key() string    { return r.ID }
func (r ShsStudentRef) Key() string { return r.LRN }

func (StudentRef) isPersonRef()    {}
func (FacultyRef) isPersonRef()    {}
func (ShsStudentRef) isPersonRef() {}

// ParsePersonRef builds a PersonRef from the stored type and id pair.
func ParsePersonRef(kind, key string) (PersonRef, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("person key is empty")
	}
	switch PersonKind(strings.ToLower(strings.TrimSpace(kind))) {
	case PersonKindStudent:
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid student id %q", key)
		}
		return StudentRef{ID: id}, nil
	case PersonKindFaculty:
		if _, err := uuid.Parse(key); err != nil {
			return nil, fmt.Errorf("invalid faculty id %q: %w", key, err)
		}
		return FacultyRef{ID: key}, nil
	case PersonKindShsStudent:
		if len(key) != 12 || strings.Trim(key, "0123456789") != "" {
			return nil, fmt.Errorf("invalid learner reference number %q", key)
		}
		return ShsStudentRef{LRN: key}, nil
	default:
		return nil, fmt.Errorf("unknown person type %q", kind)
	}
}

// PersonProfile is the resolved display data for a PersonRef.
type PersonProfile struct {
	Kind  PersonKind `json:"kind"`
	Key   string     `json:"key"`
	Name  string     `json:"name"`
	Email string     `json:"email,omitempty"`
}

// Account is a login-capable record linked to a person.
type Account struct {
	ID         string  `db:"id" json:"id"`
	Email      string  `db:"email" json:"email"`
	Name       string  `db:"name" json:"name"`
	PersonType *string `db:"person_type" json:"person_type,omitempty"`
	PersonID   *string `db:"person_id" json:"person_id,omitempty"`
}

// Person returns the linked PersonRef, or nil when the account is unlinked.
func (a Account) Person() (PersonRef, error) {
	if a.PersonType == nil || a.PersonID == nil {
		return nil, nil
	}
	return ParsePersonRef(*a.PersonType, *a.PersonID)
}

// Faculty is a teaching staff member.
type Faculty struct {
	ID        string  `db:"id" json:"id"`
	FirstName string  `db:"first_name" json:"first_name"`
	LastName  string  `db:"last_name" json:"last_name"`
	Email     *string `db:"email" json:"email,omitempty"`
}

// ShsStudent is a senior high school learner keyed by LRN.
type ShsStudent struct {
	LRN      string  `db:"lrn" json:"lrn"`
	FullName string  `db:"full_name" json:"full_name"`
	Email    *string `db:"email" json:"email,omitempty"`
}
