package creem

import (
	"errors"
	"testing"
	"time"

	"github.com/entitle-dev/entitle/pkg/billing"
)

func TestParseEvent_SubscriptionEvent(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	body := subscriptionPayload{
		eventType:   "subscription.active",
		eventID:     "evt_1",
		subID:       "sub_1",
		customerID:  "cus_1",
		productID:   "prod_1",
		status:      "active",
		referenceID: "user_1",
		periodStart: &start,
		periodEnd:   &end,
	}.body(t)

	ev := parse(t, body)

	if ev.ID != "evt_1" || ev.Type != EventSubscriptionActive || ev.ObjectKind != "subscription" {
		t.Errorf("unexpected envelope: %+v", ev)
	}
	sub := ev.Subscription
	if sub == nil {
		t.Fatal("expected subscription entity")
	}
	if sub.ID != "sub_1" || sub.Status != "active" {
		t.Errorf("unexpected subscription: %+v", sub)
	}
	if sub.Customer == nil || sub.Customer.ID != "cus_1" || !sub.Customer.Expanded() {
		t.Errorf("expected expanded customer, got %+v", sub.Customer)
	}
	if sub.Product == nil || sub.Product.ID != "prod_1" {
		t.Errorf("expected product, got %+v", sub.Product)
	}
	if sub.CurrentPeriodStartDate == nil || !sub.CurrentPeriodStartDate.Equal(start) {
		t.Errorf("expected period start %v, got %v", start, sub.CurrentPeriodStartDate)
	}
	if got := metadataReference(sub.Metadata); got != "user_1" {
		t.Errorf("expected reference id user_1, got %q", got)
	}
}

func TestParseEvent_BareReferenceTolerated(t *testing.T) {
	body := []byte(`{
		"id": "evt_2",
		"eventType": "subscription.active",
		"created_at": 1767225600000,
		"object": {
			"id": "sub_2",
			"object": "subscription",
			"status": "active",
			"customer": "cus_raw",
			"product": "prod_raw"
		}
	}`)

	ev := parse(t, body)
	sub := ev.Subscription
	if sub.Customer == nil || sub.Customer.ID != "cus_raw" {
		t.Fatalf("expected bare customer id to be kept, got %+v", sub.Customer)
	}
	if sub.Customer.Expanded() {
		t.Error("bare customer reference should not report as expanded")
	}
	if sub.Product.Expanded() {
		t.Error("bare product reference should not report as expanded")
	}
}

func TestParseEvent_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"eventType": `},
		{"missing eventType", `{"id":"e","created_at":1,"object":{"object":"customer"}}`},
		{"non-numeric created_at", `{"id":"e","eventType":"subscription.active","created_at":"now","object":{"object":"subscription"}}`},
		{"missing created_at", `{"id":"e","eventType":"subscription.active","object":{"object":"subscription"}}`},
		{"missing object", `{"id":"e","eventType":"subscription.active","created_at":1}`},
		{"null object", `{"id":"e","eventType":"subscription.active","created_at":1,"object":null}`},
		{"object not an entity", `{"id":"e","eventType":"subscription.active","created_at":1,"object":[1,2]}`},
		{"unknown entity kind", `{"id":"e","eventType":"subscription.active","created_at":1,"object":{"object":"invoice"}}`},
		{"non-string id", `{"id":5,"eventType":"subscription.active","created_at":1,"object":{"object":"subscription"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseEvent([]byte(tt.body))
			if err == nil {
				t.Fatal("expected parse error")
			}
			if !errors.Is(err, billing.ErrInvalidWebhookPayload) {
				t.Errorf("expected ErrInvalidWebhookPayload, got %v", err)
			}
		})
	}
}

func TestParseEvent_EntityKinds(t *testing.T) {
	kinds := []string{"checkout", "customer", "order", "product", "subscription", "refund", "dispute", "transaction"}
	for _, kind := range kinds {
		t.Run(kind, func(t *testing.T) {
			body := []byte(`{"id":"e","eventType":"some.event","created_at":1,"object":{"id":"x","object":"` + kind + `"}}`)
			ev, err := ParseEvent(body)
			if err != nil {
				t.Fatalf("ParseEvent failed for %s: %v", kind, err)
			}
			if ev.ObjectKind != kind {
				t.Errorf("expected object kind %s, got %s", kind, ev.ObjectKind)
			}
		})
	}
}

func TestFlatten(t *testing.T) {
	body := subscriptionPayload{
		eventType: "subscription.paid",
		eventID:   "evt_9",
		subID:     "sub_9",
		status:    "paid",
	}.body(t)
	ev := parse(t, body)

	flat := ev.Flatten()
	if flat["eventType"] != "subscription.paid" {
		t.Errorf("expected envelope eventType at top level, got %v", flat["eventType"])
	}
	// Entity fields win on collision: "id" is the entity's id, the
	// envelope id moves to event_id.
	if flat["id"] != "sub_9" {
		t.Errorf("expected entity id at top level, got %v", flat["id"])
	}
	if flat["event_id"] != "evt_9" {
		t.Errorf("expected envelope id as event_id, got %v", flat["event_id"])
	}
	if flat["status"] != "paid" {
		t.Errorf("expected entity status at top level, got %v", flat["status"])
	}
}

func TestMetadataReference(t *testing.T) {
	if got := metadataReference(map[string]interface{}{"referenceId": "u1"}); got != "u1" {
		t.Errorf("expected u1, got %q", got)
	}
	if got := metadataReference(map[string]interface{}{"reference_id": "u2"}); got != "u2" {
		t.Errorf("expected snake_case fallback, got %q", got)
	}
	if got := metadataReference(map[string]interface{}{"referenceId": 42}); got != "" {
		t.Errorf("non-string reference should be ignored, got %q", got)
	}
	if got := metadataReference(nil); got != "" {
		t.Errorf("nil metadata should yield empty, got %q", got)
	}
}
