// Package notify renders and delivers SMS and email notifications. Sending
// is always asynchronous: Send stores the notification and enqueues a job.
package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hireflow/hireflow/internal/ats/candidates"
	"github.com/hireflow/hireflow/internal/store"
	"github.com/hireflow/hireflow/internal/validation"
	"github.com/hireflow/hireflow/internal/web/jobs"
)

// Queue is the job queue notifications are delivered from
const Queue = "notifications"

// TypeDeliver is the job type that sends one notification
const TypeDeliver = "notify.deliver"

// Status is the delivery state of a notification
type Status string

const (
	StatusQueued Status = "queued"
	StatusSent   Status = "sent"
	StatusFailed Status = "failed"
)

// Notification is a request to message someone
type Notification struct {
	Channel   Channel                `json:"channel"`
	Recipient string                 `json:"recipient"`
	Template  string                 `json:"template"`
	Data      map[string]interface{} `json:"data"`
}

// Record is a stored notification
type Record struct {
	ID        uuid.UUID       `json:"id"`
	TenantID  uuid.UUID       `json:"tenant_id"`
	Channel   Channel         `json:"channel"`
	Recipient string          `json:"recipient"`
	Template  string          `json:"template"`
	Data      json.RawMessage `json:"data"`
	Status    Status          `json:"status"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	SentAt    *time.Time      `json:"sent_at,omitempty"`
}

type deliverPayload struct {
	NotificationID uuid.UUID `json:"notification_id"`
	TenantID       uuid.UUID `json:"tenant_id"`
}

// Notifier queues notifications and delivers them from jobs
type Notifier struct {
	db        *sql.DB
	tx        *store.TxManager
	queue     jobs.Enqueuer
	templates *Templates
	senders   map[Channel]Sender
	logger    *zap.Logger
	now       func() time.Time
}

// NewNotifier creates a notifier with no senders
func NewNotifier(db *sql.DB, tx *store.TxManager, queue jobs.Enqueuer, templates *Templates, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if templates == nil {
		templates = DefaultTemplates()
	}
	return &Notifier{
		db:        db,
		tx:        tx,
		queue:     queue,
		templates: templates,
		senders:   make(map[Channel]Sender),
		logger:    logger,
		now:       time.Now,
	}
}

// Register sets the sender for a channel
func (n *Notifier) Register(channel Channel, sender Sender) {
	n.senders[channel] = sender
}

// Templates returns the templates notifications are rendered with
func (n *Notifier) Templates() *Templates {
	return n.templates
}

func (n *Notifier) validate(notification *Notification) error {
	notification.Recipient = strings.TrimSpace(notification.Recipient)

	errs := validation.New()
	switch notification.Channel {
	case ChannelEmail:
		notification.Recipient = strings.ToLower(notification.Recipient)
		errs.Email("recipient", notification.Recipient)
	case ChannelSMS:
		phone, err := candidates.NormalizePhone(notification.Recipient)
		if err != nil || phone == "" {
			errs.Add("recipient", "must be a phone number with country code")
		}
		notification.Recipient = phone
	default:
		errs.Add("channel", "must be one of: sms, email")
	}

	if !n.templates.Has(notification.Template) {
		errs.Add("template", "must be one of: "+strings.Join(n.templates.Names(), ", "))
	} else {
		_, body, err := n.templates.Render(notification.Template, notification.Data)
		if err != nil {
			errs.Add("data", err.Error())
		} else if notification.Channel == ChannelSMS && len([]rune(body)) > MaxSMSLength {
			errs.Add("data", ErrMessageTooLong.Error())
		}
	}
	return errs.Err()
}

// Send validates and stores a notification and enqueues its delivery. It
// joins the transaction carried by ctx.
func (n *Notifier) Send(ctx context.Context, tenantID uuid.UUID, notification Notification) (*Record, error) {
	if err := n.validate(&notification); err != nil {
		return nil, err
	}

	data, err := json.Marshal(notification.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode notification data: %w", err)
	}
	if notification.Data == nil {
		data = []byte("{}")
	}

	rec := &Record{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Channel:   notification.Channel,
		Recipient: notification.Recipient,
		Template:  notification.Template,
		Data:      data,
		Status:    StatusQueued,
		CreatedAt: n.now().UTC(),
	}

	err = n.tx.WithTx(ctx, func(ctx context.Context) error {
		_, err := store.Conn(ctx, n.db).ExecContext(ctx, `
			INSERT INTO notifications (id, tenant_id, channel, recipient, template, data, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			rec.ID, rec.TenantID, rec.Channel, rec.Recipient, rec.Template, []byte(rec.Data), rec.Status, rec.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to store notification: %w", store.ConvertDBError(err))
		}

		job, err := jobs.NewJob(Queue, TypeDeliver, deliverPayload{NotificationID: rec.ID, TenantID: tenantID})
		if err != nil {
			return err
		}
		return n.queue.Enqueue(ctx, job)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Get returns a stored notification
func (n *Notifier) Get(ctx context.Context, tenantID, id uuid.UUID) (*Record, error) {
	var rec Record
	var data []byte
	var sent sql.NullTime
	err := n.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, channel, recipient, template, data, status, error, created_at, sent_at
		FROM notifications WHERE tenant_id = $1 AND id = $2`,
		tenantID, id,
	).Scan(&rec.ID, &rec.TenantID, &rec.Channel, &rec.Recipient, &rec.Template, &data,
		&rec.Status, &rec.Error, &rec.CreatedAt, &sent)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("notification %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}
	rec.Data = data
	if sent.Valid {
		t := sent.Time
		rec.SentAt = &t
	}
	return &rec, nil
}

func (n *Notifier) mark(ctx context.Context, id uuid.UUID, status Status, errMsg string) error {
	var sentAt interface{}
	if status == StatusSent {
		sentAt = n.now().UTC()
	}
	_, err := n.db.ExecContext(ctx,
		`UPDATE notifications SET status = $1, error = $2, sent_at = $3 WHERE id = $4`,
		status, errMsg, sentAt, id)
	if err != nil {
		return fmt.Errorf("failed to update notification: %w", err)
	}
	return nil
}

// Deliver is the notify.deliver job handler. Template and configuration
// problems fail the job at once; gateway errors retry until the job's last
// attempt, which marks the notification failed.
func (n *Notifier) Deliver(ctx context.Context, job *jobs.Job) error {
	var payload deliverPayload
	if err := job.Decode(&payload); err != nil {
		return err
	}

	rec, err := n.Get(ctx, payload.TenantID, payload.NotificationID)
	if err != nil {
		if store.IsNotFound(err) {
			return jobs.Permanent(err)
		}
		return err
	}
	if rec.Status != StatusQueued {
		return nil
	}

	logger := n.logger.With(
		zap.String("notification_id", rec.ID.String()),
		zap.String("channel", string(rec.Channel)))

	fail := func(err error) error {
		if merr := n.mark(ctx, rec.ID, StatusFailed, err.Error()); merr != nil {
			logger.Error("failed to record notification failure", zap.Error(merr))
		}
		return jobs.Permanent(err)
	}

	var data map[string]interface{}
	if err := json.Unmarshal(rec.Data, &data); err != nil {
		return fail(fmt.Errorf("invalid notification data: %w", err))
	}
	subject, body, err := n.templates.Render(rec.Template, data)
	if err != nil {
		return fail(err)
	}
	sender, ok := n.senders[rec.Channel]
	if !ok {
		return fail(fmt.Errorf("no sender configured for %s", rec.Channel))
	}

	err = sender.Send(ctx, Message{To: rec.Recipient, Subject: subject, Body: body})
	if err != nil {
		var se *StatusError
		permanent := errors.Is(err, ErrMessageTooLong) || errors.Is(err, errHeaderInjection) ||
			(errors.As(err, &se) && !se.Temporary())
		if permanent || !job.IsRetryable() {
			logger.Warn("notification failed", zap.Error(err))
			return fail(err)
		}
		return err
	}

	if err := n.mark(ctx, rec.ID, StatusSent, ""); err != nil {
		return err
	}
	logger.Info("notification sent")
	return nil
}

// RegisterHandlers adds the delivery handler to registry
func (n *Notifier) RegisterHandlers(registry *jobs.HandlerRegistry) {
	registry.Register(TypeDeliver, n.Deliver)
}
