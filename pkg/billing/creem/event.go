package creem

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/entitle-dev/entitle/pkg/billing"
)

// EventType identifies one of the provider's webhook event types. The set
// is closed: routing is exhaustive over these constants and anything else is
// acknowledged without effect.
type EventType string

const (
	EventCheckoutCompleted    EventType = "checkout.completed"
	EventSubscriptionActive   EventType = "subscription.active"
	EventSubscriptionTrialing EventType = "subscription.trialing"
	EventSubscriptionPaid     EventType = "subscription.paid"
	EventSubscriptionCanceled EventType = "subscription.canceled"
	EventSubscriptionExpired  EventType = "subscription.expired"
	EventSubscriptionUnpaid   EventType = "subscription.unpaid"
	EventSubscriptionPastDue  EventType = "subscription.past_due"
	EventSubscriptionPaused   EventType = "subscription.paused"
	EventSubscriptionUpdate   EventType = "subscription.update"
	EventRefundCreated        EventType = "refund.created"
	EventDisputeCreated       EventType = "dispute.created"
)

// Entity discriminator values carried in the payload's "object" field.
const (
	objectCheckout     = "checkout"
	objectCustomer     = "customer"
	objectOrder        = "order"
	objectProduct      = "product"
	objectSubscription = "subscription"
	objectRefund       = "refund"
	objectDispute      = "dispute"
	objectTransaction  = "transaction"
)

// Customer is the provider's customer entity. The provider contract
// promises customer references inside other entities arrive expanded; a bare
// id string is tolerated at parse time and flagged via Expanded.
type Customer struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Country string `json:"country"`

	expanded bool
}

// Expanded reports whether the customer arrived as a full object rather
// than a bare id reference.
func (c *Customer) Expanded() bool { return c != nil && c.expanded }

func (c *Customer) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		*c = Customer{ID: id}
		return nil
	}
	type alias Customer
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*c = Customer(a)
	c.expanded = true
	return nil
}

// Product is the provider's product entity.
type Product struct {
	ID          string `json:"id"`
	Object      string `json:"object"`
	Name        string `json:"name"`
	BillingType string `json:"billing_type"`
	Price       int64  `json:"price"`
	Currency    string `json:"currency"`

	expanded bool
}

// Expanded reports whether the product arrived as a full object rather than
// a bare id reference.
func (p *Product) Expanded() bool { return p != nil && p.expanded }

func (p *Product) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		*p = Product{ID: id}
		return nil
	}
	type alias Product
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*p = Product(a)
	p.expanded = true
	return nil
}

// Order is the provider's order entity.
type Order struct {
	ID       string `json:"id"`
	Object   string `json:"object"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
	Type     string `json:"type"`
}

// Subscription is the provider's subscription entity as delivered in
// subscription.* events and embedded in checkout.completed.
type Subscription struct {
	ID                     string                 `json:"id"`
	Object                 string                 `json:"object"`
	Status                 string                 `json:"status"`
	Customer               *Customer              `json:"customer"`
	Product                *Product               `json:"product"`
	CurrentPeriodStartDate *time.Time             `json:"current_period_start_date"`
	CurrentPeriodEndDate   *time.Time             `json:"current_period_end_date"`
	CanceledAt             *time.Time             `json:"canceled_at"`
	Metadata               map[string]interface{} `json:"metadata"`
}

// Checkout is the provider's checkout session entity. A completed checkout
// for a recurring product embeds the created subscription and order.
type Checkout struct {
	ID           string                 `json:"id"`
	Object       string                 `json:"object"`
	RequestID    string                 `json:"request_id"`
	Status       string                 `json:"status"`
	Customer     *Customer              `json:"customer"`
	Product      *Product               `json:"product"`
	Order        *Order                 `json:"order"`
	Subscription *Subscription          `json:"subscription"`
	Metadata     map[string]interface{} `json:"metadata"`
}

// Refund is the provider's refund entity.
type Refund struct {
	ID           string        `json:"id"`
	Object       string        `json:"object"`
	Status       string        `json:"status"`
	RefundAmount int64         `json:"refund_amount"`
	Currency     string        `json:"refund_currency"`
	Reason       string        `json:"reason"`
	Customer     *Customer     `json:"customer"`
	Order        *Order        `json:"order"`
	Subscription *Subscription `json:"subscription"`
}

// Dispute is the provider's dispute entity.
type Dispute struct {
	ID           string        `json:"id"`
	Object       string        `json:"object"`
	Amount       int64         `json:"amount"`
	Currency     string        `json:"currency"`
	Customer     *Customer     `json:"customer"`
	Order        *Order        `json:"order"`
	Subscription *Subscription `json:"subscription"`
}

// Transaction is the provider's transaction entity.
type Transaction struct {
	ID          string `json:"id"`
	Object      string `json:"object"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Status      string `json:"status"`
	Description string `json:"description"`
}

// Event is a parsed and shape-validated webhook event. Exactly one of the
// entity pointers is set, according to ObjectKind.
type Event struct {
	ID        string
	Type      EventType
	CreatedAt time.Time

	// ObjectKind is the payload's entity discriminator.
	ObjectKind string

	Checkout     *Checkout
	Customer     *Customer
	Order        *Order
	Product      *Product
	Subscription *Subscription
	Refund       *Refund
	Dispute      *Dispute
	Transaction  *Transaction

	raw json.RawMessage
}

// envelope is the outer webhook payload shape.
type envelope struct {
	ID        string          `json:"id"`
	EventType string          `json:"eventType"`
	CreatedAt *int64          `json:"created_at"`
	Object    json.RawMessage `json:"object"`
}

// ParseEvent deserializes and shape-validates a raw webhook body. The
// envelope must carry a non-empty eventType, a string id, a numeric
// created_at (epoch milliseconds), and an object with a recognized entity
// discriminator. Any violation returns an error wrapping
// billing.ErrInvalidWebhookPayload; callers translate that into a rejected
// request with zero state changes.
func ParseEvent(body []byte) (*Event, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", billing.ErrInvalidWebhookPayload, err)
	}
	if env.EventType == "" {
		return nil, fmt.Errorf("%w: missing eventType", billing.ErrInvalidWebhookPayload)
	}
	if env.CreatedAt == nil {
		return nil, fmt.Errorf("%w: missing created_at", billing.ErrInvalidWebhookPayload)
	}
	if len(env.Object) == 0 || string(env.Object) == "null" {
		return nil, fmt.Errorf("%w: missing object", billing.ErrInvalidWebhookPayload)
	}

	var discriminator struct {
		Object string `json:"object"`
	}
	if err := json.Unmarshal(env.Object, &discriminator); err != nil {
		return nil, fmt.Errorf("%w: object is not an entity: %v", billing.ErrInvalidWebhookPayload, err)
	}

	ev := &Event{
		ID:         env.ID,
		Type:       EventType(env.EventType),
		CreatedAt:  time.Unix(0, *env.CreatedAt*int64(time.Millisecond)).UTC(),
		ObjectKind: discriminator.Object,
		raw:        env.Object,
	}

	var err error
	switch discriminator.Object {
	case objectCheckout:
		ev.Checkout = &Checkout{}
		err = json.Unmarshal(env.Object, ev.Checkout)
	case objectCustomer:
		ev.Customer = &Customer{}
		err = json.Unmarshal(env.Object, ev.Customer)
	case objectOrder:
		ev.Order = &Order{}
		err = json.Unmarshal(env.Object, ev.Order)
	case objectProduct:
		ev.Product = &Product{}
		err = json.Unmarshal(env.Object, ev.Product)
	case objectSubscription:
		ev.Subscription = &Subscription{}
		err = json.Unmarshal(env.Object, ev.Subscription)
	case objectRefund:
		ev.Refund = &Refund{}
		err = json.Unmarshal(env.Object, ev.Refund)
	case objectDispute:
		ev.Dispute = &Dispute{}
		err = json.Unmarshal(env.Object, ev.Dispute)
	case objectTransaction:
		ev.Transaction = &Transaction{}
		err = json.Unmarshal(env.Object, ev.Transaction)
	default:
		return nil, fmt.Errorf("%w: unknown entity kind %q", billing.ErrInvalidWebhookPayload, discriminator.Object)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", billing.ErrInvalidWebhookPayload, err)
	}

	return ev, nil
}

// Flatten merges the envelope fields with the nested entity's fields at the
// top level, the shape user callbacks receive. Entity fields win on key
// collision (notably "id"); the envelope id stays available as "event_id".
func (e *Event) Flatten() map[string]interface{} {
	out := map[string]interface{}{
		"event_id":   e.ID,
		"eventType":  string(e.Type),
		"created_at": e.CreatedAt.UnixMilli(),
	}

	var entity map[string]interface{}
	if err := json.Unmarshal(e.raw, &entity); err != nil {
		return out
	}
	for k, v := range entity {
		out[k] = v
	}
	return out
}

// metadataReference extracts the host application's reference id from
// entity metadata. The id is supplied at checkout creation time and echoed
// back by the provider; it is never inferred from other fields.
func metadataReference(metadata map[string]interface{}) string {
	if metadata == nil {
		return ""
	}
	for _, key := range []string{"referenceId", "reference_id"} {
		if v, ok := metadata[key]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}
