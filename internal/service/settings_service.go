package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-records-api/internal/models"
	"github.com/noah-isme/sma-records-api/pkg/cache"
	appErrors "github.com/noah-isme/sma-records-api/pkg/errors"
)

// AcademicPeriodProvider resolves the current school year and semester.
type AcademicPeriodProvider interface {
	Current(ctx context.Context) (models.AcademicPeriod, error)
}

// AcademicPeriodFunc adapts a function to AcademicPeriodProvider.
type AcademicPeriodFunc func(ctx context.Context) (models.AcademicPeriod, error)

// Current implements AcademicPeriodProvider.
func (f AcademicPeriodFunc) Current(ctx context.Context) (models.AcademicPeriod, error) {
	return f(ctx)
}

type settingsReader interface {
	Current(ctx context.Context) (*models.GeneralSettings, error)
}

var academicPeriodKey = cache.Key("settings", "academic_period")

// SettingsService reads general_settings through the cache and falls back
// to the configured period when the row is absent.
type SettingsService struct {
	repo     settingsReader
	cache    *CacheService
	fallback models.AcademicPeriod
	ttl      time.Duration
	logger   *zap.Logger
}

// NewSettingsService constructs the provider.
func NewSettingsService(repo settingsReader, cacheSvc *CacheService, fallback models.AcademicPeriod, ttl time.Duration, logger *zap.Logger) *SettingsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SettingsService{repo: repo, cache: cacheSvc, fallback: fallback, ttl: ttl, logger: logger}
}

// Current implements AcademicPeriodProvider.
func (s *SettingsService) Current(ctx context.Context) (models.AcademicPeriod, error) {
	var period models.AcademicPeriod
	if hit, _ := s.cache.Get(ctx, academicPeriodKey, &period); hit && period.Valid() {
		return period, nil
	}

	settings, err := s.repo.Current(ctx)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if !s.fallback.Valid() {
			return models.AcademicPeriod{}, appErrors.Clone(appErrors.ErrPreconditionFailed, "academic period is not configured")
		}
		s.logger.Debug("general settings missing, using configured period", zap.Stringer("period", s.fallback))
		return s.fallback, nil
	case err != nil:
		return models.AcademicPeriod{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load academic period")
	}

	period = models.AcademicPeriod{SchoolYear: settings.SchoolYear, Semester: settings.Semester}
	if !period.Valid() {
		period = s.fallback
	}
	_ = s.cache.Set(ctx, academicPeriodKey, period, s.ttl)
	return period, nil
}

// Invalidate drops the cached period after settings change.
func (s *SettingsService) Invalidate(ctx context.Context) error {
	return s.cache.Delete(ctx, academicPeriodKey)
}
