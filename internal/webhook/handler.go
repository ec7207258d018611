/**
 * @description
 * HTTP entry point for sponsor-bank webhooks. The raw body is read once,
 * verified against the provider signature, then routed to the pipeline by
 * event name. The sponsor retries on any non-2xx, so transient processing
 * failures return 500 and permanent ones acknowledge with 200.
 */
package webhook

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/DesignerDev23/MiiMii-sub002/internal/domain"
)

const maxWebhookBody = 1 << 20 // 1 MiB

// Verifier checks the provider signature over the raw payload.
type Verifier interface {
	VerifyWebhook(rawBody []byte, headers http.Header) error
}

// Handler is the http.Handler mounted at the webhook endpoint.
type Handler struct {
	service  *Service
	verifier Verifier
	source   string
}

func NewHandler(service *Service, verifier Verifier, source string) *Handler {
	return &Handler{service: service, verifier: verifier, source: source}
}

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "cannot read request body", http.StatusBadRequest)
		return
	}

	if err := h.verifier.VerifyWebhook(body, r.Header); err != nil {
		h.service.logger.Warn("webhook signature rejected", "source", h.source, "error", err)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var event envelope
	if err := json.Unmarshal(body, &event); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}

	switch event.Event {
	case "account.credited":
		var credit domain.InboundCredit
		if err := json.Unmarshal(event.Data, &credit); err != nil {
			http.Error(w, "invalid credit payload", http.StatusBadRequest)
			return
		}
		credit.Source = h.source
		credit.RawPayload = body
		err = h.service.HandleInboundCredit(r.Context(), &credit)
	case "transfer.settled":
		var status domain.TransferStatus
		if err := json.Unmarshal(event.Data, &status); err != nil {
			http.Error(w, "invalid transfer payload", http.StatusBadRequest)
			return
		}
		status.Source = h.source
		err = h.service.HandleTransferStatus(r.Context(), &status)
	default:
		// Unknown event families are acknowledged so the sponsor can add
		// event types without breaking us.
		h.service.logger.Info("unhandled webhook event", "source", h.source, "event", event.Event)
	}

	if err != nil {
		var de *domain.Error
		if errors.As(err, &de) && de.Kind == domain.KindValidation {
			http.Error(w, de.Message, http.StatusBadRequest)
			return
		}
		h.service.logger.Error("webhook processing failed", "event", event.Event, "error", err)
		http.Error(w, "processing failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
