package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-records-api/internal/models"
)

// SettingsRepository reads the general_settings row.
type SettingsRepository struct {
	db *sqlx.DB
}

// NewSettingsRepository constructs the repository.
func NewSettingsRepository(db *sqlx.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// Current returns the most recently updated settings row.
func (r *SettingsRepository) Current(ctx context.Context) (*models.GeneralSettings, error) {
	const query = `SELECT id, school_year, semester, updated_at FROM general_settings ORDER BY updated_at DESC LIMIT 1`
	var settings models.GeneralSettings
	if err := r.db.GetContext(ctx, &settings, query); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("load general settings: %w", err)
	}
	return &settings, nil
}
