package domain

import "encoding/json"

// InboundCredit is the parsed sponsor-bank webhook for money arriving at a
// user's virtual account. The raw payload is kept opaquely for audit.
type InboundCredit struct {
	Source            string          `json:"source"`
	ProviderReference string          `json:"reference"`
	CustomerID        string          `json:"customer_id"`
	AccountNumber     string          `json:"account_number"`
	GrossAmount       int64           `json:"amount"`
	SenderName        string          `json:"sender_name"`
	SenderBank        string          `json:"sender_bank"`
	Narration         string          `json:"narration,omitempty"`
	RawPayload        json.RawMessage `json:"-"`
}

// TransferStatus is the parsed sponsor-bank webhook reporting the settlement
// state of an outbound transfer we initiated.
type TransferStatus struct {
	Source            string `json:"source"`
	ProviderReference string `json:"provider_reference"`
	PlatformReference string `json:"platform_reference"`
	Successful        bool   `json:"successful"`
	Reason            string `json:"reason,omitempty"`
}
