package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"CourierLedger/internal/errs"
	"CourierLedger/internal/hold"
	"CourierLedger/internal/ledger"
	"CourierLedger/internal/order"
	"CourierLedger/internal/reconcile"
	"CourierLedger/internal/slot"
)

const dateLayout = "2006-01-02"

// --- orders ---

type createOrderRequest struct {
	ClientID           uuid.UUID `json:"client_id"`
	BusinessID         uuid.UUID `json:"business_id"`
	BusinessLocationID uuid.UUID `json:"business_location_id"`
	DeliveryAddressID  uuid.UUID `json:"delivery_address_id"`
	Subtotal           int64     `json:"subtotal"`
	BaseDeliveryFee    int64     `json:"base_delivery_fee"`
	PerKmDeliveryFee   int64     `json:"per_km_delivery_fee"`
	TaxAmount          int64     `json:"tax_amount"`
	TotalAmount        int64     `json:"total_amount"`
	Currency           string    `json:"currency"`
}

type orderResponse struct {
	ID               uuid.UUID  `json:"id"`
	OrderNumber      string     `json:"order_number"`
	ClientID         uuid.UUID  `json:"client_id"`
	BusinessID       uuid.UUID  `json:"business_id"`
	AssignedAgentID  *uuid.UUID `json:"assigned_agent_id,omitempty"`
	Subtotal         int64      `json:"subtotal"`
	BaseDeliveryFee  int64      `json:"base_delivery_fee"`
	PerKmDeliveryFee int64      `json:"per_km_delivery_fee"`
	TaxAmount        int64      `json:"tax_amount"`
	TotalAmount      int64      `json:"total_amount"`
	Currency         string     `json:"currency"`
	Status           string     `json:"status"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func toOrderResponse(o *order.Order) orderResponse {
	return orderResponse{
		ID:               o.ID,
		OrderNumber:      o.OrderNumber,
		ClientID:         o.ClientID,
		BusinessID:       o.BusinessID,
		AssignedAgentID:  o.AssignedAgentID,
		Subtotal:         o.Subtotal,
		BaseDeliveryFee:  o.BaseDeliveryFee,
		PerKmDeliveryFee: o.PerKmDeliveryFee,
		TaxAmount:        o.TaxAmount,
		TotalAmount:      o.TotalAmount,
		Currency:         o.Currency,
		Status:           string(o.CurrentStatus),
		CreatedAt:        o.CreatedAt,
		UpdatedAt:        o.UpdatedAt,
	}
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondErr(w, r, err)
		return
	}
	o, err := s.orders.CreateOrder(r.Context(), order.CreateOrderParams{
		ClientID:           req.ClientID,
		BusinessID:         req.BusinessID,
		BusinessLocationID: req.BusinessLocationID,
		DeliveryAddressID:  req.DeliveryAddressID,
		Subtotal:           req.Subtotal,
		BaseDeliveryFee:    req.BaseDeliveryFee,
		PerKmDeliveryFee:   req.PerKmDeliveryFee,
		TaxAmount:          req.TaxAmount,
		TotalAmount:        req.TotalAmount,
		Currency:           req.Currency,
	})
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResponse(o))
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	o, err := s.orders.Get(r.Context(), id)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func (s *Server) handleOrderHistory(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	history, err := s.orders.History(r.Context(), id)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

func (s *Server) handleOrderHold(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	h, err := s.holds.HoldForOrder(r.Context(), id)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

type transitionRequest struct {
	Target    string    `json:"target"`
	ActorType string    `json:"actor_type"`
	ActorID   uuid.UUID `json:"actor_id"`
	Notes     string    `json:"notes"`
	Location  *struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"location"`
	Window *struct {
		SlotID              uuid.UUID `json:"slot_id"`
		PreferredDate       string    `json:"preferred_date"`
		SpecialInstructions string    `json:"special_instructions"`
	} `json:"window"`
	Agent *struct {
		AgentID uuid.UUID `json:"agent_id"`
		Tier    string    `json:"tier"`
	} `json:"agent"`
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	var req transitionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondErr(w, r, err)
		return
	}

	p := order.TransitionParams{
		OrderID: id,
		Target:  order.Status(req.Target),
		Actor: order.Actor{
			Type: order.ActorType(req.ActorType),
			ID:   req.ActorID,
		},
		Notes: req.Notes,
	}
	if req.Location != nil {
		p.Location = &order.Geo{Latitude: req.Location.Latitude, Longitude: req.Location.Longitude}
	}
	if req.Window != nil {
		date, err := time.Parse(dateLayout, req.Window.PreferredDate)
		if err != nil {
			s.respondErr(w, r, errs.Newf("http.transition", errs.CodeInvalid,
				"preferred_date %q is not YYYY-MM-DD", req.Window.PreferredDate))
			return
		}
		p.Window = &order.WindowRequest{
			SlotID:              req.Window.SlotID,
			PreferredDate:       date,
			SpecialInstructions: req.Window.SpecialInstructions,
		}
	}
	if req.Agent != nil {
		p.Agent = &order.AgentAssignment{
			AgentID: req.Agent.AgentID,
			Tier:    hold.AgentTier(req.Agent.Tier),
		}
	}

	o, err := s.orders.Transition(r.Context(), p)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

// --- holds ---

type placeHoldRequest struct {
	OrderID         uuid.UUID  `json:"order_id"`
	ClientAccountID uuid.UUID  `json:"client_account_id"`
	ClientAmount    int64      `json:"client_amount"`
	AgentAccountID  *uuid.UUID `json:"agent_account_id"`
	AgentAmount     int64      `json:"agent_amount"`
	DeliveryFees    int64      `json:"delivery_fees"`
	Currency        string     `json:"currency"`
}

func (s *Server) handlePlaceHold(w http.ResponseWriter, r *http.Request) {
	var req placeHoldRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondErr(w, r, err)
		return
	}
	h, err := s.holds.PlaceHold(r.Context(), hold.PlaceHoldParams{
		OrderID:         req.OrderID,
		ClientAccountID: req.ClientAccountID,
		ClientAmount:    req.ClientAmount,
		AgentAccountID:  req.AgentAccountID,
		AgentAmount:     req.AgentAmount,
		DeliveryFees:    req.DeliveryFees,
		Currency:        req.Currency,
	})
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, h)
}

func (s *Server) handleResolveHold(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	var req struct {
		Outcome string `json:"outcome"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.respondErr(w, r, err)
		return
	}
	outcome := hold.Outcome(req.Outcome)
	if outcome != hold.OutcomeCapture && outcome != hold.OutcomeRelease {
		s.respondErr(w, r, errs.Newf("http.resolve", errs.CodeInvalid,
			"outcome must be capture or release, got %q", req.Outcome))
		return
	}
	h, err := s.holds.ResolveHold(r.Context(), id, outcome)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

// --- slots & windows ---

type reserveSlotRequest struct {
	OrderID             uuid.UUID `json:"order_id"`
	Date                string    `json:"date"`
	SpecialInstructions string    `json:"special_instructions"`
}

func (s *Server) handleReserveSlot(w http.ResponseWriter, r *http.Request) {
	slotID, err := pathUUID(r, "slot")
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	var req reserveSlotRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondErr(w, r, err)
		return
	}
	date, err := time.Parse(dateLayout, req.Date)
	if err != nil {
		s.respondErr(w, r, errs.Newf("http.reserve", errs.CodeInvalid,
			"date %q is not YYYY-MM-DD", req.Date))
		return
	}
	win, err := s.slots.Reserve(r.Context(), slotID, date, req.OrderID, req.SpecialInstructions)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, win)
}

func (s *Server) handleConfirmWindow(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	var req struct {
		ConfirmedBy uuid.UUID `json:"confirmed_by"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.respondErr(w, r, err)
		return
	}
	win, err := s.slots.Confirm(r.Context(), id, req.ConfirmedBy)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, win)
}

func (s *Server) handleReleaseWindow(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	if err := s.slots.Release(r.Context(), id); err != nil {
		s.respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAvailableSlots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	date, err := time.Parse(dateLayout, q.Get("date"))
	if err != nil {
		s.respondErr(w, r, errs.Newf("http.slots", errs.CodeInvalid,
			"date %q is not YYYY-MM-DD", q.Get("date")))
		return
	}
	slots, err := s.slots.AvailableSlots(r.Context(), slot.AvailabilityQuery{
		CountryCode:  q.Get("country"),
		State:        q.Get("state"),
		Date:         date,
		FastDelivery: q.Get("fast") == "true",
	})
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"slots": slots})
}

// --- accounts & ledger ---

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID   uuid.UUID `json:"user_id"`
		Currency string    `json:"currency"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.respondErr(w, r, err)
		return
	}
	acct, err := s.ledger.CreateAccount(r.Context(), req.UserID, req.Currency)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, acct)
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	available, withheld, err := s.ledger.Balances(r.Context(), id)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account_id": id,
		"available":  available,
		"withheld":   withheld,
		"total":      available + withheld,
	})
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	txs, err := s.ledger.Transactions(r.Context(), id, limit, offset)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}

type recordTransactionRequest struct {
	Amount       int64      `json:"amount"`
	Type         string     `json:"type"`
	FromWithheld bool       `json:"from_withheld"`
	ReferenceID  *uuid.UUID `json:"reference_id"`
	Memo         string     `json:"memo"`
}

func (s *Server) handleRecordTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	var req recordTransactionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondErr(w, r, err)
		return
	}
	t, err := s.ledger.RecordTransaction(r.Context(), ledger.TransactionParams{
		AccountID:    id,
		Amount:       req.Amount,
		Type:         ledger.TransactionType(req.Type),
		FromWithheld: req.FromWithheld,
		ReferenceID:  req.ReferenceID,
		Memo:         req.Memo,
	})
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// --- payments ---

type paymentCallbackRequest struct {
	ProviderReference string    `json:"provider_reference"`
	AccountID         uuid.UUID `json:"account_id"`
	Amount            int64     `json:"amount"`
	Type              string    `json:"type"`
}

func (s *Server) handlePaymentCallback(w http.ResponseWriter, r *http.Request) {
	var req paymentCallbackRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondErr(w, r, err)
		return
	}
	t, err := s.reconcile.ApplyExternalPayment(r.Context(), reconcile.ExternalPayment{
		ProviderReference: req.ProviderReference,
		AccountID:         req.AccountID,
		Amount:            req.Amount,
		Type:              ledger.TransactionType(req.Type),
	})
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// --- helpers ---

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		return uuid.Nil, errs.Newf("http.path", errs.CodeInvalid, "%s is not a uuid", name)
	}
	return id, nil
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
