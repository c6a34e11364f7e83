package billing

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
)

func newEvent(t *testing.T, eventType string, obj map[string]any) stripe.Event {
	t.Helper()
	raw, err := json.Marshal(obj)
	require.NoError(t, err)
	return stripe.Event{
		ID:      "evt_1",
		Type:    stripe.EventType(eventType),
		Created: 1741608000,
		Data:    &stripe.EventData{Raw: raw},
	}
}

func TestEventParser_Basics(t *testing.T) {
	p, err := NewEventParser(newEvent(t, "checkout.session.completed", map[string]any{
		"id":       "cs_1",
		"customer": "cus_1",
		"metadata": map[string]string{"user_id": "u1", "plan_id": "pro"},
	}))
	require.NoError(t, err)

	assert.Equal(t, "evt_1", p.EventID())
	assert.Equal(t, "checkout.session.completed", p.EventType())
	assert.Equal(t, "cs_1", p.ObjectID())
	assert.Equal(t, "cus_1", p.CustomerRef())
	assert.Equal(t, time.Unix(1741608000, 0), p.EventTime())

	userID, err := p.UserID()
	require.NoError(t, err)
	assert.Equal(t, "u1", userID)
	assert.Equal(t, "pro", p.PlanID())
}

func TestEventParser_SubscriptionDetailsFallback(t *testing.T) {
	p, err := NewEventParser(newEvent(t, "invoice.paid", map[string]any{
		"id":       "in_1",
		"customer": "cus_1",
		"subscription_details": map[string]any{
			"metadata": map[string]string{"user_id": "u2", "plan_id": "basic"},
		},
	}))
	require.NoError(t, err)

	userID, err := p.UserID()
	require.NoError(t, err)
	assert.Equal(t, "u2", userID)
	assert.Equal(t, "basic", p.PlanID())
}

func TestEventParser_MissingUserID(t *testing.T) {
	p, err := NewEventParser(newEvent(t, "invoice.paid", map[string]any{"id": "in_1"}))
	require.NoError(t, err)

	_, err = p.UserID()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no user_id metadata")
	assert.Equal(t, "", p.PlanID())
}

func TestEventParser_CancelAtPeriodEnd(t *testing.T) {
	p, err := NewEventParser(newEvent(t, "customer.subscription.updated", map[string]any{
		"id":                   "sub_1",
		"cancel_at_period_end": true,
		"metadata":             map[string]string{"user_id": "u1"},
	}))
	require.NoError(t, err)
	assert.True(t, p.CancelAtPeriodEnd())
}

func TestEventParser_BadPayload(t *testing.T) {
	_, err := NewEventParser(stripe.Event{
		ID:   "evt_2",
		Data: &stripe.EventData{Raw: json.RawMessage(`not json`)},
	})
	require.Error(t, err)
}
