package rabbitmq

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/DesignerDev23/MiiMii-sub002/internal/domain"
)

func TestDispatchReconcileEventDecodesPayload(t *testing.T) {
	userID := uuid.New()
	body, err := json.Marshal(domain.ReconcileWalletEvent{
		UserID:    userID,
		Reason:    "post_credit",
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}

	var got domain.ReconcileWalletEvent
	handlers := WalletEventHandlers{
		Reconcile: func(event domain.ReconcileWalletEvent) bool {
			got = event
			return true
		},
	}

	if !dispatchWalletEvent(handlers, domain.EventWalletReconcile, body) {
		t.Fatal("expected delivery to be acknowledged")
	}
	if got.UserID != userID {
		t.Fatalf("expected user %s, got %s", userID, got.UserID)
	}
	if got.Reason != "post_credit" {
		t.Fatalf("expected reason post_credit, got %q", got.Reason)
	}
}

func TestDispatchSettledEventCoversBothTerminalKeys(t *testing.T) {
	body, err := json.Marshal(domain.TransactionEvent{
		UserID:    uuid.New(),
		Reference: "TRF-1",
		Status:    domain.StatusCompleted,
		Amount:    5000,
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}

	for _, key := range []string{domain.EventTransactionCompleted, domain.EventTransactionFailed} {
		var got domain.TransactionEvent
		handlers := WalletEventHandlers{
			TransactionSettled: func(event domain.TransactionEvent) bool {
				got = event
				return true
			},
		}
		if !dispatchWalletEvent(handlers, key, body) {
			t.Fatalf("expected ack for routing key %s", key)
		}
		if got.Reference != "TRF-1" {
			t.Fatalf("key %s: expected reference TRF-1, got %q", key, got.Reference)
		}
	}
}

func TestDispatchMalformedPayloadAckedWithoutHandler(t *testing.T) {
	called := false
	handlers := WalletEventHandlers{
		Credited: func(event domain.WalletCreditedEvent) bool {
			called = true
			return true
		},
	}

	if !dispatchWalletEvent(handlers, domain.EventWalletCredited, []byte("{not json")) {
		t.Fatal("malformed payload should be acknowledged and dropped")
	}
	if called {
		t.Fatal("handler must not run for a malformed payload")
	}
}

func TestDispatchUnroutableKeyAcked(t *testing.T) {
	handlers := WalletEventHandlers{
		Reconcile: func(event domain.ReconcileWalletEvent) bool { return true },
	}
	if !dispatchWalletEvent(handlers, "wallet.unknown", []byte(`{}`)) {
		t.Fatal("unroutable delivery should be acknowledged and dropped")
	}
}

func TestDispatchHandlerFailureRequeues(t *testing.T) {
	body, err := json.Marshal(domain.WalletCreditedEvent{
		UserID:    uuid.New(),
		Reference: "SESSION-9",
		Amount:    12000,
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}

	handlers := WalletEventHandlers{
		Credited: func(event domain.WalletCreditedEvent) bool { return false },
	}
	if dispatchWalletEvent(handlers, domain.EventWalletCredited, body) {
		t.Fatal("handler returning false must propagate for re-queue")
	}
}

func TestBoundKeysFollowHandlers(t *testing.T) {
	keys := boundKeys(WalletEventHandlers{
		Reconcile:          func(domain.ReconcileWalletEvent) bool { return true },
		TransactionSettled: func(domain.TransactionEvent) bool { return true },
	})

	want := map[string]bool{
		domain.EventWalletReconcile:      true,
		domain.EventTransactionCompleted: true,
		domain.EventTransactionFailed:    true,
	}
	if len(keys) != len(want) {
		t.Fatalf("expected %d bound keys, got %v", len(want), keys)
	}
	for _, key := range keys {
		if !want[key] {
			t.Fatalf("unexpected bound key %s", key)
		}
	}
}
