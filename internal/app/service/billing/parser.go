package billing

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v76"
)

// eventObject is the slice of a Stripe webhook object this service reads.
// Customer comes through as a bare id string in webhook payloads.
type eventObject struct {
	ID                  string            `json:"id"`
	Customer            string            `json:"customer"`
	Metadata            map[string]string `json:"metadata"`
	CancelAtPeriodEnd   bool              `json:"cancel_at_period_end"`
	SubscriptionDetails *struct {
		Metadata map[string]string `json:"metadata"`
	} `json:"subscription_details"`
}

// EventParser extracts the fields this service needs from a verified
// Stripe event.
type EventParser struct {
	event stripe.Event
	obj   eventObject
}

func NewEventParser(event stripe.Event) (*EventParser, error) {
	var obj eventObject
	if err := json.Unmarshal(event.Data.Raw, &obj); err != nil {
		return nil, fmt.Errorf("failed to decode event object: %w", err)
	}
	return &EventParser{event: event, obj: obj}, nil
}

func (p *EventParser) EventID() string   { return p.event.ID }
func (p *EventParser) EventType() string { return string(p.event.Type) }
func (p *EventParser) ObjectID() string  { return p.obj.ID }

func (p *EventParser) EventTime() time.Time {
	if p.event.Created > 0 {
		return time.Unix(p.event.Created, 0)
	}
	return time.Now()
}

// UserID resolves the user from object metadata, falling back to the
// subscription metadata invoices carry.
func (p *EventParser) UserID() (string, error) {
	if id := p.obj.Metadata["user_id"]; id != "" {
		return id, nil
	}
	if p.obj.SubscriptionDetails != nil {
		if id := p.obj.SubscriptionDetails.Metadata["user_id"]; id != "" {
			return id, nil
		}
	}
	return "", fmt.Errorf("event %s carries no user_id metadata", p.event.ID)
}

func (p *EventParser) PlanID() string {
	if id := p.obj.Metadata["plan_id"]; id != "" {
		return id
	}
	if p.obj.SubscriptionDetails != nil {
		return p.obj.SubscriptionDetails.Metadata["plan_id"]
	}
	return ""
}

func (p *EventParser) CustomerRef() string { return p.obj.Customer }

func (p *EventParser) CancelAtPeriodEnd() bool { return p.obj.CancelAtPeriodEnd }
