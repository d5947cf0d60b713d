package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-records-api/internal/dto"
	"github.com/noah-isme/sma-records-api/internal/models"
	appErrors "github.com/noah-isme/sma-records-api/pkg/errors"
	"github.com/noah-isme/sma-records-api/pkg/mailer"
)

type notificationStore interface {
	Create(ctx context.Context, n *models.Notification) error
	List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error)
	MarkRead(ctx context.Context, id, userID string, readAt time.Time) error
}

type recipientResolver interface {
	Recipient(ctx context.Context, ref models.PersonRef) (string, error)
}

// Notice is a message for an operator, optionally mirrored to email.
type Notice struct {
	Title       string
	Body        string
	Level       models.NotificationLevel
	Data        interface{}
	Email       string
	Person      models.PersonRef
	Attachments []mailer.Attachment
}

// NotificationService stores in-app notifications and sends their email copies.
type NotificationService struct {
	repo          notificationStore
	mail          mailer.Mailer
	recipients    recipientResolver
	subjectPrefix string
	logger        *zap.Logger
	now           func() time.Time
}

// NewNotificationService constructs the service. mail and recipients may be nil.
func NewNotificationService(repo notificationStore, mail mailer.Mailer, recipients recipientResolver, subjectPrefix string, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		repo:          repo,
		mail:          mail,
		recipients:    recipients,
		subjectPrefix: subjectPrefix,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Notify persists a notification for userID. When the notice names an email
// address, or a person whose address can be resolved, a copy is mailed.
// Mail failures are logged and do not fail the call.
func (s *NotificationService) Notify(ctx context.Context, userID string, notice Notice) (*models.Notification, error) {
	if notice.Level == "" {
		notice.Level = models.NotificationInfo
	}
	n := &models.Notification{
		UserID:    userID,
		Title:     notice.Title,
		Body:      notice.Body,
		Level:     notice.Level,
		CreatedAt: s.now(),
	}
	if notice.Data != nil {
		raw, err := json.Marshal(notice.Data)
		if err != nil {
			return nil, internalError(err, "failed to encode notification data")
		}
		n.Data = types.JSONText(raw)
	}
	if userID != "" {
		if err := s.repo.Create(ctx, n); err != nil {
			return nil, internalError(err, "failed to store notification")
		}
	}
	s.email(ctx, notice)
	return n, nil
}

func (s *NotificationService) email(ctx context.Context, notice Notice) {
	if s.mail == nil {
		return
	}
	to := notice.Email
	if to == "" && notice.Person != nil && s.recipients != nil {
		resolved, err := s.recipients.Recipient(ctx, notice.Person)
		if err != nil {
			s.logger.Warn("failed to resolve notification recipient", zap.String("person", notice.Person.Key()), zap.Error(err))
			return
		}
		to = resolved
	}
	if to == "" {
		return
	}
	msg := mailer.Message{
		To:          []mailer.Address{{Email: to}},
		Subject:     s.subjectPrefix + notice.Title,
		Text:        notice.Body,
		Attachments: notice.Attachments,
	}
	if err := s.mail.Send(ctx, msg); err != nil {
		s.logger.Warn("failed to send notification email", zap.String("subject", msg.Subject), zap.Error(err))
	}
}

// List returns the caller's notifications newest first.
func (s *NotificationService) List(ctx context.Context, userID string, query dto.NotificationQuery) ([]models.Notification, *models.Pagination, error) {
	page, size := query.Page, query.PageSize
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}
	items, total, err := s.repo.List(ctx, models.NotificationFilter{UserID: userID, UnreadOnly: query.UnreadOnly, Page: page, PageSize: size})
	if err != nil {
		return nil, nil, internalError(err, "failed to list notifications")
	}
	if items == nil {
		items = []models.Notification{}
	}
	return items, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// MarkRead marks one of the caller's notifications as read.
func (s *NotificationService) MarkRead(ctx context.Context, id, userID string) error {
	if err := s.repo.MarkRead(ctx, id, userID, s.now()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clonef(appErrors.ErrNotFound, "notification %s not found", id)
		}
		return internalError(err, "failed to mark notification %s read", id)
	}
	return nil
}
