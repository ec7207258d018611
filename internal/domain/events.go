package domain

import (
	"time"

	"github.com/google/uuid"
)

// Event routing keys published to the topic exchange.
const (
	EventTransactionCompleted = "transaction.completed"
	EventTransactionFailed    = "transaction.failed"
	EventWalletCredited       = "wallet.credited"
	EventWalletReconcile      = "wallet.reconcile"
)

// TransactionEvent is published when an outbound transaction reaches a
// terminal status. The notification layer turns it into a receipt.
type TransactionEvent struct {
	UserID      uuid.UUID           `json:"user_id"`
	Reference   string              `json:"reference"`
	Category    TransactionCategory `json:"category"`
	Status      TransactionStatus   `json:"status"`
	Amount      int64               `json:"amount"`
	Fee         int64               `json:"fee"`
	TotalAmount int64               `json:"total_amount"`
	Recipient   *Recipient          `json:"recipient,omitempty"`
	Timestamp   time.Time           `json:"timestamp"`
}

// WalletCreditedEvent is published after an inbound credit lands.
type WalletCreditedEvent struct {
	UserID     uuid.UUID `json:"user_id"`
	Reference  string    `json:"reference"`
	Amount     int64     `json:"amount"`
	SenderName string    `json:"sender_name,omitempty"`
	SenderBank string    `json:"sender_bank,omitempty"`
	NewBalance int64     `json:"new_balance"`
	Timestamp  time.Time `json:"timestamp"`
}

// ReconcileWalletEvent asks the reconciliation worker to diff one wallet
// against the sponsor balance. Best effort; losing one is harmless because
// the hourly sync covers every wallet.
type ReconcileWalletEvent struct {
	UserID    uuid.UUID `json:"user_id"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
