package firestore

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/entitle-dev/entitle/pkg/entitle"
)

const (
	testProjectID = "test-project"
	emulatorHost  = "localhost:8080"
)

// setupTestStore connects to the Firestore emulator and builds a store with
// per-test collection names so runs do not interfere with each other.
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		os.Setenv("FIRESTORE_EMULATOR_HOST", emulatorHost)
	}

	ctx := context.Background()
	client, err := firestore.NewClient(ctx, testProjectID)
	if err != nil {
		t.Skipf("Firestore emulator not available: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	// Probe the emulator; NewClient succeeds even when nothing listens.
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	probe := client.Collection("probe").Doc("probe")
	if _, err := probe.Set(probeCtx, map[string]interface{}{"ok": true}); err != nil {
		t.Skipf("Firestore emulator not available: %v", err)
	}
	_, _ = probe.Delete(ctx)

	suffix := time.Now().UnixNano()
	store, err := New(client, Config{
		SubscriptionsCollection: fmt.Sprintf("test_subs_%d", suffix),
		UsersCollection:         fmt.Sprintf("test_users_%d", suffix),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return store
}

func TestNew(t *testing.T) {
	if _, err := New(nil, Config{}); err == nil {
		t.Error("expected error for nil client")
	}
}

func TestStore_SubscriptionLifecycle(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if _, err := store.SubscriptionByProviderID(ctx, "sub_1"); err != entitle.ErrSubscriptionNotFound {
		t.Errorf("expected ErrSubscriptionNotFound, got %v", err)
	}

	created, err := store.CreateSubscription(ctx, &entitle.Subscription{
		ProductID:              "prod_1",
		ReferenceID:            "user_1",
		ProviderCustomerID:     "cus_1",
		ProviderSubscriptionID: "sub_1",
		Status:                 entitle.StatusTrialing,
	})
	if err != nil {
		t.Fatalf("CreateSubscription failed: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected generated id")
	}

	got, err := store.SubscriptionByProviderID(ctx, "sub_1")
	if err != nil {
		t.Fatalf("SubscriptionByProviderID failed: %v", err)
	}
	if got.Status != entitle.StatusTrialing || got.ReferenceID != "user_1" {
		t.Errorf("unexpected record: %+v", got)
	}

	end := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	status := entitle.StatusActive
	if err := store.UpdateSubscription(ctx, created.ID, entitle.SubscriptionUpdate{
		Status:    &status,
		PeriodEnd: &end,
	}); err != nil {
		t.Fatalf("UpdateSubscription failed: %v", err)
	}

	got, _ = store.SubscriptionByProviderID(ctx, "sub_1")
	if got.Status != entitle.StatusActive || got.PeriodEnd == nil || !got.PeriodEnd.Equal(end) {
		t.Errorf("unexpected record after update: %+v", got)
	}

	if err := store.UpdateSubscription(ctx, "missing", entitle.SubscriptionUpdate{}); err != entitle.ErrSubscriptionNotFound {
		t.Errorf("expected ErrSubscriptionNotFound, got %v", err)
	}
}

func TestStore_SubscriptionsByCustomer(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, sub := range []*entitle.Subscription{
		{ProductID: "prod_1", ReferenceID: "user_1", ProviderCustomerID: "cus_1", ProviderSubscriptionID: "sub_1"},
		{ProductID: "prod_2", ReferenceID: "user_1", ProviderCustomerID: "cus_1", ProviderSubscriptionID: "sub_2"},
		{ProductID: "prod_1", ReferenceID: "user_2", ProviderCustomerID: "cus_2", ProviderSubscriptionID: "sub_3"},
	} {
		if _, err := store.CreateSubscription(ctx, sub); err != nil {
			t.Fatalf("CreateSubscription failed: %v", err)
		}
	}

	subs, err := store.SubscriptionsByCustomer(ctx, "cus_1")
	if err != nil {
		t.Fatalf("SubscriptionsByCustomer failed: %v", err)
	}
	if len(subs) != 2 {
		t.Errorf("expected 2 records, got %d", len(subs))
	}
}

func TestStore_UserOperations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if _, err := store.UserByReference(ctx, "user_1"); err != entitle.ErrUserNotFound {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
	if err := store.SetUserCustomerID(ctx, "user_1", "cus_1"); err != entitle.ErrUserNotFound {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}

	if err := store.PutUser(ctx, &entitle.User{ReferenceID: "user_1"}); err != nil {
		t.Fatalf("PutUser failed: %v", err)
	}

	if err := store.SetUserCustomerID(ctx, "user_1", "cus_1"); err != nil {
		t.Fatalf("SetUserCustomerID failed: %v", err)
	}
	// First write wins.
	if err := store.SetUserCustomerID(ctx, "user_1", "cus_2"); err != nil {
		t.Fatalf("SetUserCustomerID failed: %v", err)
	}
	user, err := store.UserByReference(ctx, "user_1")
	if err != nil {
		t.Fatalf("UserByReference failed: %v", err)
	}
	if user.ProviderCustomerID != "cus_1" {
		t.Errorf("expected first customer id to stick, got %q", user.ProviderCustomerID)
	}

	if err := store.MarkUserTrialed(ctx, "user_1"); err != nil {
		t.Fatalf("MarkUserTrialed failed: %v", err)
	}
	user, _ = store.UserByReference(ctx, "user_1")
	if !user.HadTrial {
		t.Error("expected hadTrial to be set")
	}
}
