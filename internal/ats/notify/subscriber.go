package notify

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/hireflow/hireflow/internal/ats/documents"
	"github.com/hireflow/hireflow/internal/ats/events"
	"github.com/hireflow/hireflow/internal/ats/pipeline"
	"github.com/hireflow/hireflow/internal/store"
)

// Contact is the candidate behind an application
type Contact struct {
	FirstName    string
	Email        string
	Phone        string
	PostingTitle string
}

// ContactFor loads the candidate and posting of an application
func (n *Notifier) ContactFor(ctx context.Context, tenantID, applicationID uuid.UUID) (*Contact, error) {
	var c Contact
	err := store.Conn(ctx, n.db).QueryRowContext(ctx, `
		SELECT c.first_name, c.email, c.phone, p.title
		FROM applications a
		JOIN candidates c ON c.id = a.candidate_id
		JOIN postings p ON p.id = a.posting_id
		WHERE a.tenant_id = $1 AND a.id = $2`,
		tenantID, applicationID,
	).Scan(&c.FirstName, &c.Email, &c.Phone, &c.PostingTitle)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("application %s: %w", applicationID, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load contact: %w", err)
	}
	return &c, nil
}

// SendToApplication notifies the candidate of an application. FirstName and
// PostingTitle are added to data.
func (n *Notifier) SendToApplication(ctx context.Context, tenantID, applicationID uuid.UUID, channel Channel, template string, data map[string]interface{}) (*Record, error) {
	contact, err := n.ContactFor(ctx, tenantID, applicationID)
	if err != nil {
		return nil, err
	}

	recipient := contact.Email
	if channel == ChannelSMS {
		if contact.Phone == "" {
			return nil, fmt.Errorf("candidate has no phone number: %w", errNoRecipient)
		}
		recipient = contact.Phone
	}

	merged := map[string]interface{}{
		"FirstName":    contact.FirstName,
		"PostingTitle": contact.PostingTitle,
	}
	for k, v := range data {
		merged[k] = v
	}
	return n.Send(ctx, tenantID, Notification{Channel: channel, Recipient: recipient, Template: template, Data: merged})
}

var errNoRecipient = errors.New("no recipient")

// Subscriber is a durable event sink that emails candidates about their
// applications
type Subscriber struct {
	notifier *Notifier
	channel  Channel
}

// NewSubscriber creates a subscriber sending over channel
func NewSubscriber(notifier *Notifier, channel Channel) *Subscriber {
	return &Subscriber{notifier: notifier, channel: channel}
}

// Publish queues the candidate notification for ev, if any
func (s *Subscriber) Publish(ctx context.Context, ev events.Event) error {
	var (
		appID    uuid.UUID
		template string
		data     map[string]interface{}
	)

	switch p := ev.Payload.(type) {
	case pipeline.StageChange:
		appID = p.ApplicationID
		switch {
		case ev.Type == events.ApplicationCreated:
			template = TemplateApplicationReceived
		case p.To == pipeline.StageWithdrawn:
			return nil
		default:
			template = TemplateStageChanged
			data = map[string]interface{}{"Stage": string(p.To)}
		}
	case documents.ReviewResult:
		if p.Status != documents.StatusRejected {
			return nil
		}
		appID = p.ApplicationID
		template = TemplateDocumentRejected
		data = map[string]interface{}{"DocumentType": p.Type, "Note": p.Note}
	default:
		return nil
	}

	_, err := s.notifier.SendToApplication(ctx, ev.TenantID, appID, s.channel, template, data)
	if errors.Is(err, errNoRecipient) {
		return nil
	}
	return err
}
