// Package server exposes the fulfillment core's operations as a thin
// HTTP JSON API. Handlers decode, delegate, and map error codes to
// statuses; all business rules live in the domain packages.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"CourierLedger/internal/hold"
	"CourierLedger/internal/ledger"
	"CourierLedger/internal/order"
	"CourierLedger/internal/reconcile"
	"CourierLedger/internal/slot"
)

type Server struct {
	orders    *order.Service
	holds     *hold.Manager
	slots     *slot.Manager
	ledger    *ledger.Store
	reconcile *reconcile.Adapter
	log       zerolog.Logger

	http *http.Server
}

func New(
	addr string,
	orders *order.Service,
	holds *hold.Manager,
	slots *slot.Manager,
	ledgerStore *ledger.Store,
	adapter *reconcile.Adapter,
	log zerolog.Logger,
) *Server {
	s := &Server{
		orders:    orders,
		holds:     holds,
		slots:     slots,
		ledger:    ledgerStore,
		reconcile: adapter,
		log:       log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/orders", s.handleCreateOrder)
	mux.HandleFunc("GET /v1/orders/{id}", s.handleGetOrder)
	mux.HandleFunc("GET /v1/orders/{id}/history", s.handleOrderHistory)
	mux.HandleFunc("GET /v1/orders/{id}/hold", s.handleOrderHold)
	mux.HandleFunc("POST /v1/orders/{id}/transition", s.handleTransition)

	mux.HandleFunc("POST /v1/holds", s.handlePlaceHold)
	mux.HandleFunc("POST /v1/holds/{id}/resolve", s.handleResolveHold)

	mux.HandleFunc("POST /v1/slots/{slot}/reserve", s.handleReserveSlot)
	mux.HandleFunc("GET /v1/slots/available", s.handleAvailableSlots)
	mux.HandleFunc("POST /v1/windows/{id}/confirm", s.handleConfirmWindow)
	mux.HandleFunc("POST /v1/windows/{id}/release", s.handleReleaseWindow)

	mux.HandleFunc("POST /v1/accounts", s.handleCreateAccount)
	mux.HandleFunc("GET /v1/accounts/{id}/balances", s.handleBalances)
	mux.HandleFunc("GET /v1/accounts/{id}/transactions", s.handleTransactions)
	mux.HandleFunc("POST /v1/accounts/{id}/transactions", s.handleRecordTransaction)

	mux.HandleFunc("POST /v1/payments/callback", s.handlePaymentCallback)

	s.http = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	return s
}

// ListenAndServe blocks until the listener fails or Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server listening")
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
