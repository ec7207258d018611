/**
 * @description
 * HTTP router for the wallet engine, built on go-chi. Applies logging,
 * recovery, timeout and CORS middleware, and groups routes by authentication
 * requirement: the webhook endpoint authenticates by provider signature, the
 * caller routes by bearer token.
 */
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func pathParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

// NewRouter creates the Chi router and registers all routes.
func NewRouter(h *Handlers, webhookHandler http.Handler, jwtSecret string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any major browsers
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	// Authenticated by provider signature, not bearer token.
	r.Post("/webhooks/sterling", webhookHandler.ServeHTTP)

	// Registration happens before the caller has a token.
	r.Post("/onboarding/register", h.handleRegister)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwtSecret))

		r.Route("/onboarding", func(r chi.Router) {
			r.Get("/status", h.handleOnboardingStatus)
			r.Post("/profile", h.handleSubmitProfile)
			r.Post("/kyc", h.handleSubmitKYC)
			r.Post("/pin", h.handleSetPIN)
			r.Post("/virtual-account/retry", h.handleRetryVirtualAccount)
		})

		r.Route("/wallet", func(r chi.Router) {
			r.Get("/balance", h.handleGetBalance)
			r.Get("/transactions", h.handleListTransactions)
			r.Get("/transactions/{reference}", h.handleGetTransaction)
		})

		r.Route("/transfers", func(r chi.Router) {
			r.Post("/bank", h.handleBankTransfer)
			r.Post("/wallet", h.handleWalletTransfer)
		})

		r.Route("/vas", func(r chi.Router) {
			r.Post("/airtime", h.handleAirtime)
			r.Post("/data", h.handleData)
			r.Post("/electricity", h.handleUtility)
			r.Post("/cable", h.handleCable)
		})

		r.Route("/beneficiaries", func(r chi.Router) {
			r.Get("/", h.handleListBeneficiaries)
			r.Post("/", h.handleSaveBeneficiary)
			r.Put("/{id}", h.handleUpdateBeneficiary)
			r.Delete("/{id}", h.handleDeleteBeneficiary)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/pricing/override", h.handleSetPriceOverride)
			r.Post("/wallets/freeze", h.handleFreezeWallet)
			r.Post("/wallets/unfreeze", h.handleUnfreezeWallet)
			r.Post("/wallets/clear-review", h.handleClearReviewFlag)
		})
	})

	return r
}
