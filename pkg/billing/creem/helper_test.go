package creem

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/entitle-dev/entitle/pkg/billing"
	"github.com/entitle-dev/entitle/pkg/entitle"
)

// fakeStore is an in-memory entitle.Store that counts writes, so tests can
// assert idempotence (a replay that performs zero writes) and best-effort
// isolation (one failing sub-step not blocking the other).
type fakeStore struct {
	mu     sync.Mutex
	subs   map[string]*entitle.Subscription
	users  map[string]*entitle.User
	nextID int

	createCalls      int
	updateCalls      int
	setCustomerCalls int
	markTrialCalls   int

	failUsers bool
	failSubs  bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		subs:  make(map[string]*entitle.Subscription),
		users: make(map[string]*entitle.User),
	}
}

func (s *fakeStore) SubscriptionByProviderID(_ context.Context, providerSubscriptionID string) (*entitle.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSubs {
		return nil, fmt.Errorf("store down")
	}
	for _, sub := range s.subs {
		if sub.ProviderSubscriptionID == providerSubscriptionID {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, entitle.ErrSubscriptionNotFound
}

func (s *fakeStore) SubscriptionsByCustomer(_ context.Context, providerCustomerID string) ([]*entitle.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSubs {
		return nil, fmt.Errorf("store down")
	}
	var out []*entitle.Subscription
	for _, sub := range s.subs {
		if sub.ProviderCustomerID == providerCustomerID {
			cp := *sub
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeStore) CreateSubscription(_ context.Context, sub *entitle.Subscription) (*entitle.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSubs {
		return nil, fmt.Errorf("store down")
	}
	s.createCalls++
	s.nextID++
	cp := *sub
	cp.ID = fmt.Sprintf("local_%d", s.nextID)
	if cp.Status == "" {
		cp.Status = entitle.StatusPending
	}
	s.subs[cp.ID] = &cp
	stored := cp
	return &stored, nil
}

func (s *fakeStore) UpdateSubscription(_ context.Context, id string, upd entitle.SubscriptionUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSubs {
		return fmt.Errorf("store down")
	}
	s.updateCalls++
	sub, ok := s.subs[id]
	if !ok {
		return entitle.ErrSubscriptionNotFound
	}
	if upd.Status != nil {
		sub.Status = *upd.Status
	}
	if upd.PeriodStart != nil {
		sub.PeriodStart = upd.PeriodStart
	}
	if upd.PeriodEnd != nil {
		sub.PeriodEnd = upd.PeriodEnd
	}
	if upd.CancelAtPeriodEnd != nil {
		sub.CancelAtPeriodEnd = *upd.CancelAtPeriodEnd
	}
	return nil
}

func (s *fakeStore) UserByReference(_ context.Context, referenceID string) (*entitle.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUsers {
		return nil, fmt.Errorf("user store down")
	}
	user, ok := s.users[referenceID]
	if !ok {
		return nil, entitle.ErrUserNotFound
	}
	cp := *user
	return &cp, nil
}

func (s *fakeStore) SetUserCustomerID(_ context.Context, referenceID, providerCustomerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUsers {
		return fmt.Errorf("user store down")
	}
	s.setCustomerCalls++
	user, ok := s.users[referenceID]
	if !ok {
		return entitle.ErrUserNotFound
	}
	if user.ProviderCustomerID == "" {
		user.ProviderCustomerID = providerCustomerID
	}
	return nil
}

func (s *fakeStore) MarkUserTrialed(_ context.Context, referenceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUsers {
		return fmt.Errorf("user store down")
	}
	s.markTrialCalls++
	user, ok := s.users[referenceID]
	if !ok {
		return entitle.ErrUserNotFound
	}
	user.HadTrial = true
	return nil
}

func (s *fakeStore) subscription(t *testing.T, id string) *entitle.Subscription {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok {
		t.Fatalf("no subscription with id %s", id)
	}
	cp := *sub
	return &cp
}

func (s *fakeStore) addSubscription(sub *entitle.Subscription) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := fmt.Sprintf("local_%d", s.nextID)
	cp := *sub
	cp.ID = id
	s.subs[id] = &cp
	return id
}

func (s *fakeStore) addUser(user *entitle.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *user
	s.users[user.ReferenceID] = &cp
}

const testSecret = "whk_test_secret"

// Common fixtures matching the payload builders' identifiers.
var (
	subSub1 = entitle.Subscription{
		ProductID:              "prod_1",
		ReferenceID:            "user_1",
		ProviderCustomerID:     "cus_1",
		ProviderSubscriptionID: "sub_1",
		Status:                 entitle.StatusPending,
	}
	userU1 = entitle.User{ReferenceID: "user_1"}
)

func configWithStore(store *fakeStore) billing.Config {
	return billing.Config{Store: store, WebhookSecret: testSecret}
}

func testProvider(t *testing.T, store *fakeStore) *Provider {
	t.Helper()
	provider, err := NewProvider(Config{
		Config: configWithStore(store),
	})
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}
	return provider
}

// subscriptionPayload builds a subscription.* event body. Optional fields
// are included only when non-zero so tests can exercise null-preserving
// updates.
type subscriptionPayload struct {
	eventType   string
	eventID     string
	subID       string
	customerID  string
	productID   string
	status      string
	referenceID string
	periodStart *time.Time
	periodEnd   *time.Time
	canceledAt  *time.Time
}

func (sp subscriptionPayload) body(t *testing.T) []byte {
	t.Helper()
	sub := map[string]interface{}{
		"id":     sp.subID,
		"object": "subscription",
		"status": sp.status,
	}
	if sp.customerID != "" {
		sub["customer"] = map[string]interface{}{"id": sp.customerID, "object": "customer"}
	}
	if sp.productID != "" {
		sub["product"] = map[string]interface{}{"id": sp.productID, "object": "product"}
	}
	if sp.referenceID != "" {
		sub["metadata"] = map[string]interface{}{"referenceId": sp.referenceID}
	}
	if sp.periodStart != nil {
		sub["current_period_start_date"] = sp.periodStart.Format(time.RFC3339)
	}
	if sp.periodEnd != nil {
		sub["current_period_end_date"] = sp.periodEnd.Format(time.RFC3339)
	}
	if sp.canceledAt != nil {
		sub["canceled_at"] = sp.canceledAt.Format(time.RFC3339)
	}

	eventID := sp.eventID
	if eventID == "" {
		eventID = "evt_test"
	}
	body, err := json.Marshal(map[string]interface{}{
		"id":         eventID,
		"eventType":  sp.eventType,
		"created_at": time.Now().UnixMilli(),
		"object":     sub,
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return body
}

func checkoutBody(t *testing.T, referenceID string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"id":         "evt_checkout",
		"eventType":  "checkout.completed",
		"created_at": time.Now().UnixMilli(),
		"object": map[string]interface{}{
			"id":       "ch_1",
			"object":   "checkout",
			"status":   "completed",
			"customer": map[string]interface{}{"id": "cus_1", "object": "customer"},
			"product":  map[string]interface{}{"id": "prod_1", "object": "product"},
			"order":    map[string]interface{}{"id": "ord_1", "object": "order"},
			"subscription": map[string]interface{}{
				"id":     "sub_1",
				"object": "subscription",
				"status": "trialing",
			},
			"metadata": map[string]interface{}{"referenceId": referenceID},
		},
	})
	if err != nil {
		t.Fatalf("marshal checkout payload: %v", err)
	}
	return body
}

func parse(t *testing.T, body []byte) *Event {
	t.Helper()
	ev, err := ParseEvent(body)
	if err != nil {
		t.Fatalf("ParseEvent failed: %v", err)
	}
	return ev
}

func timePtr(t time.Time) *time.Time {
	return &t
}
