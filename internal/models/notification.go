package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// NotificationLevel conveys the tone of a notification.
type NotificationLevel string

const (
	NotificationInfo    NotificationLevel = "info"
	NotificationSuccess NotificationLevel = "success"
	NotificationError   NotificationLevel = "error"
)

// Notification is an in-app message for an operator.
type Notification struct {
	ID        string            `db:"id" json:"id"`
	UserID    string            `db:"user_id" json:"user_id"`
	Title     string            `db:"title" json:"title"`
	Body      string            `db:"body" json:"body"`
	Level     NotificationLevel `db:"level" json:"level"`
	Data      types.JSONText    `db:"data" json:"data,omitempty"`
	CreatedAt time.Time         `db:"created_at" json:"created_at"`
	ReadAt    *time.Time        `db:"read_at" json:"read_at,omitempty"`
}

// NotificationFilter narrows notification listings.
type NotificationFilter struct {
	UserID     string
	UnreadOnly bool
	Page       int
	PageSize   int
}
