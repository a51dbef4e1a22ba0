package notifications

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sokohub/sokohub-backend/pkg/config"
	"github.com/sokohub/sokohub-backend/pkg/enums"
	"github.com/sokohub/sokohub-backend/pkg/types"
)

func TestHTTPNotifierPostsEvents(t *testing.T) {
	t.Parallel()

	var received notificationEvent
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/notifications" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer relay-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode event: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(server.Close)

	notifier := NewHTTPNotifier(config.NotifierConfig{BaseURL: server.URL, APIKey: "relay-key"}, nil)

	contact := types.Contact{FullName: "Amina Otieno", Phone: "254712345678"}
	if err := notifier.NotifyOrderConfirmed(context.Background(), contact, "ORD-20260828-4F2A1B", 45000); err != nil {
		t.Fatalf("notify order confirmed: %v", err)
	}
	if received.Kind != "order_confirmed" || received.TotalCents != 45000 {
		t.Fatalf("unexpected event %+v", received)
	}

	if err := notifier.NotifyDeliveryUpdate(context.Background(), contact, "ORD-20260828-4F2A1B", enums.DeliveryStatusOutForDelivery); err != nil {
		t.Fatalf("notify delivery update: %v", err)
	}
	if received.Kind != "delivery_update" || received.Status != "out_for_delivery" {
		t.Fatalf("unexpected event %+v", received)
	}
}

func TestHTTPNotifierSurfacesRelayErrors(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "relay on fire", http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	notifier := NewHTTPNotifier(config.NotifierConfig{BaseURL: server.URL}, nil)
	err := notifier.NotifyOrderConfirmed(context.Background(), types.Contact{Phone: "254700000000"}, "ORD-X", 100)
	if err == nil {
		t.Fatal("expected relay error")
	}
}

func TestEmptyBaseURLFallsBackToNop(t *testing.T) {
	t.Parallel()

	notifier := NewHTTPNotifier(config.NotifierConfig{}, nil)
	if _, ok := notifier.(Nop); !ok {
		t.Fatalf("expected Nop notifier, got %T", notifier)
	}
	if err := notifier.NotifyOrderConfirmed(context.Background(), types.Contact{}, "", 0); err != nil {
		t.Fatalf("nop notifier errored: %v", err)
	}
}
