package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-records-api/internal/models"
)

// PersonRepository reads the person tables behind polymorphic accounts.
type PersonRepository struct {
	db *sqlx.DB
}

// NewPersonRepository constructs the repository.
func NewPersonRepository(db *sqlx.DB) *PersonRepository {
	return &PersonRepository{db: db}
}

// FindFaculty returns a faculty member by uuid.
func (r *PersonRepository) FindFaculty(ctx context.Context, id string) (*models.Faculty, error) {
	const query = `SELECT id, first_name, last_name, email FROM faculty WHERE id = $1`
	var f models.Faculty
	if err := r.db.GetContext(ctx, &f, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find faculty %s: %w", id, err)
	}
	return &f, nil
}

// FindShsStudent returns a senior high learner by LRN.
func (r *PersonRepository) FindShsStudent(ctx context.Context, lrn string) (*models.ShsStudent, error) {
	const query = `SELECT lrn, full_name, email FROM shs_students WHERE lrn = $1`
	var s models.ShsStudent
	if err := r.db.GetContext(ctx, &s, query, lrn); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find shs student %s: %w", lrn, err)
	}
	return &s, nil
}

// FindAccountByPerson returns the account linked to ref, if any.
func (r *PersonRepository) FindAccountByPerson(ctx context.Context, ref models.PersonRef) (*models.Account, error) {
	const query = `SELECT id, email, name, person_type, person_id FROM accounts WHERE person_type = $1 AND person_id = $2 LIMIT 1`
	var a models.Account
	if err := r.db.GetContext(ctx, &a, query, string(ref.Kind()), ref.Key()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find account for %s %s: %w", ref.Kind(), ref.Key(), err)
	}
	return &a, nil
}
