package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pharmstock/pharmstock-backend/pkg/database"
	"github.com/pharmstock/pharmstock-backend/pkg/errors"
)

// Severity levels
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Notification is a persisted, role-targeted message derived from a
// pharmacy event
type Notification struct {
	ID         string          `db:"id" json:"id"`
	EventType  string          `db:"event_type" json:"event_type"`
	TargetRole string          `db:"target_role" json:"target_role"`
	Subject    string          `db:"subject" json:"subject"`
	Body       string          `db:"body" json:"body"`
	Severity   string          `db:"severity" json:"severity"`
	Read       bool            `db:"read" json:"read"`
	Payload    json.RawMessage `db:"payload" json:"payload,omitempty"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}

// NotificationRepository handles notification persistence
type NotificationRepository struct {
	db *database.DB
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(db *database.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create persists a notification
func (r *NotificationRepository) Create(ctx context.Context, n *Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.Severity == "" {
		n.Severity = SeverityInfo
	}

	query := `
		INSERT INTO notifications (id, event_type, target_role, subject, body, severity, read, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`

	return r.db.QueryRowxContext(ctx, query,
		n.ID, n.EventType, n.TargetRole, n.Subject, n.Body, n.Severity, n.Read, n.Payload,
	).Scan(&n.CreatedAt)
}

// List lists notifications, optionally filtered by role and unread only
func (r *NotificationRepository) List(ctx context.Context, role string, unreadOnly bool, page, perPage int) ([]*Notification, int64, error) {
	offset := (page - 1) * perPage

	where := `WHERE 1=1`
	args := []interface{}{}
	if role != "" {
		args = append(args, role)
		where += ` AND target_role = $1`
	}
	if unreadOnly {
		where += ` AND read = false`
	}

	var total int64
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM notifications `+where, args...); err != nil {
		return nil, 0, err
	}

	query := `SELECT * FROM notifications ` + where + ` ORDER BY created_at DESC LIMIT $` +
		strconv.Itoa(len(args)+1) + ` OFFSET $` + strconv.Itoa(len(args)+2)
	args = append(args, perPage, offset)

	var notifications []*Notification
	if err := r.db.SelectContext(ctx, &notifications, query, args...); err != nil {
		return nil, 0, err
	}
	return notifications, total, nil
}

// MarkRead acknowledges a notification
func (r *NotificationRepository) MarkRead(ctx context.Context, id string) error {
	query := `UPDATE notifications SET read = true WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("notification")
	}
	return nil
}

// GetByID gets a notification by ID
func (r *NotificationRepository) GetByID(ctx context.Context, id string) (*Notification, error) {
	var n Notification
	query := `SELECT * FROM notifications WHERE id = $1`
	if err := r.db.GetContext(ctx, &n, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("notification")
		}
		return nil, err
	}
	return &n, nil
}
