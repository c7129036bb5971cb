package order

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/telemetry"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const MaxBodyBytes = 1 << 20

const defaultActor = "staff"

type Handler struct {
	logger  apt.Logger
	tlm     *telemetry.HTTP
	service *Service
	repos   Repos
}

func NewHandler(service *Service, repos Repos, logger apt.Logger) *Handler {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}

	return &Handler{
		logger:  logger,
		tlm:     telemetry.NewHTTP(),
		service: service,
		repos:   repos,
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.PlaceOrder)
		r.Get("/", h.ListOrders)
		r.Get("/{id}", h.GetOrder)
		r.Get("/{id}/eta", h.GetETA)
		r.Put("/{id}/status", h.TransitionOrder)
		r.Post("/{id}/cancel", h.CancelOrder)
		r.Post("/{id}/payment/complete", h.CompletePayment)
	})

	r.Get("/tables/{id}/occupancy", h.GetTableOccupancy)
}

func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.PlaceOrder")
	defer finish()

	log := h.log(r)

	var req PlaceOrderRequest
	if !h.decodePayload(w, r, log, &req) {
		return
	}
	req.Actor = actorFrom(r)

	view, err := h.service.PlaceOrder(r.Context(), req)
	if err != nil {
		h.respondServiceError(w, log, "cannot place order", err)
		return
	}

	links := apt.RESTfulLinksFor(view.Order)
	w.WriteHeader(http.StatusCreated)
	apt.RespondSuccess(w, view, links...)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.GetOrder")
	defer finish()

	log := h.log(r)

	id, ok := h.parseIDParam(w, r, log)
	if !ok {
		return
	}

	view, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, log, "cannot load order", err)
		return
	}

	links := apt.RESTfulLinksFor(view.Order)
	apt.RespondSuccess(w, view, links...)
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ListOrders")
	defer finish()

	log := h.log(r)
	ctx := r.Context()

	tableIDStr := r.URL.Query().Get("table_id")
	status := r.URL.Query().Get("status")

	var orders []*Order
	var err error

	if tableIDStr != "" {
		tableID, parseErr := uuid.Parse(tableIDStr)
		if parseErr != nil {
			log.Debug("invalid table_id parameter", "table_id", tableIDStr)
			apt.RespondError(w, http.StatusBadRequest, "Invalid table_id parameter")
			return
		}
		orders, err = h.repos.OrderRepo.ListByTable(ctx, tableID)
	} else if status != "" {
		orders, err = h.repos.OrderRepo.ListByStatus(ctx, status)
	} else {
		orders, err = h.repos.OrderRepo.List(ctx)
	}

	if err != nil {
		log.Error("error retrieving orders", "error", err)
		apt.RespondError(w, http.StatusInternalServerError, "Could not retrieve orders")
		return
	}

	apt.RespondCollection(w, orders, "order")
}

func (h *Handler) GetETA(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.GetETA")
	defer finish()

	log := h.log(r)

	id, ok := h.parseIDParam(w, r, log)
	if !ok {
		return
	}

	minutes, err := h.service.ETA(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, log, "cannot estimate order", err)
		return
	}

	apt.Respond(w, http.StatusOK, map[string]interface{}{
		"order_id":    id,
		"eta_minutes": minutes,
	}, nil)
}

type TransitionRequest struct {
	Status string `json:"status"`
	// Reason is recorded when the status is cancelled.
	Reason string `json:"reason,omitempty"`
}

func (h *Handler) TransitionOrder(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.TransitionOrder")
	defer finish()

	log := h.log(r)

	id, ok := h.parseIDParam(w, r, log)
	if !ok {
		return
	}

	var req TransitionRequest
	if !h.decodePayload(w, r, log, &req) {
		return
	}
	if req.Status == "" {
		apt.RespondError(w, http.StatusBadRequest, "status is required")
		return
	}

	o, err := h.service.Transition(r.Context(), id, req.Status, actorFrom(r), req.Reason)
	if err != nil {
		h.respondServiceError(w, log, "cannot transition order", err)
		return
	}

	links := apt.RESTfulLinksFor(o)
	apt.RespondSuccess(w, o, links...)
}

type CancelOrderRequest struct {
	Reason string `json:"reason"`
	// RefundTimeout is a Go duration such as "5s".
	RefundTimeout string `json:"refund_timeout,omitempty"`
}

func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.CancelOrder")
	defer finish()

	log := h.log(r)

	id, ok := h.parseIDParam(w, r, log)
	if !ok {
		return
	}

	var req CancelOrderRequest
	if !h.decodePayload(w, r, log, &req) {
		return
	}

	var timeout time.Duration
	if req.RefundTimeout != "" {
		parsed, err := time.ParseDuration(req.RefundTimeout)
		if err != nil || parsed <= 0 {
			apt.RespondError(w, http.StatusBadRequest, "Invalid refund_timeout")
			return
		}
		timeout = parsed
	}

	res, err := h.service.Cancel(r.Context(), CancelRequest{
		OrderID:       id,
		Reason:        req.Reason,
		Actor:         actorFrom(r),
		RefundTimeout: timeout,
	})
	if err != nil {
		h.respondServiceError(w, log, "cannot cancel order", err)
		return
	}

	apt.Respond(w, http.StatusOK, res, nil)
}

func (h *Handler) CompletePayment(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.CompletePayment")
	defer finish()

	log := h.log(r)

	id, ok := h.parseIDParam(w, r, log)
	if !ok {
		return
	}

	view, err := h.service.CompletePayment(r.Context(), id, actorFrom(r))
	if err != nil {
		h.respondServiceError(w, log, "cannot complete payment", err)
		return
	}

	links := apt.RESTfulLinksFor(view.Order)
	apt.RespondSuccess(w, view, links...)
}

func (h *Handler) GetTableOccupancy(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.GetTableOccupancy")
	defer finish()

	log := h.log(r)

	id, ok := h.parseIDParam(w, r, log)
	if !ok {
		return
	}

	status, active, err := h.service.TableOccupancy(r.Context(), id)
	if err != nil {
		log.Error("cannot compute table occupancy", "error", err, "table_id", id.String())
		apt.RespondError(w, http.StatusInternalServerError, "Could not compute table occupancy")
		return
	}

	apt.Respond(w, http.StatusOK, map[string]interface{}{
		"table_id":      id,
		"status":        status,
		"active_orders": active,
	}, nil)
}

// respondServiceError maps the error taxonomy onto status codes.
func (h *Handler) respondServiceError(w http.ResponseWriter, log apt.Logger, msg string, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		log.Error(msg, "error", err)
		apt.RespondError(w, status, "Internal error")
		return
	}
	log.Info(msg, "error", err, "status", status)
	apt.RespondError(w, status, err.Error())
}

// StatusFor returns the HTTP status for a service error.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyCancelled), errors.Is(err, ErrAlreadyTerminal):
		return http.StatusConflict
	case errors.Is(err, ErrConcurrentModification):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidTransition):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrInvalidOrder):
		return http.StatusBadRequest
	case errors.Is(err, ErrRefundFailed):
		return http.StatusBadGateway
	case errors.Is(err, ErrRefundUnsettled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) parseIDParam(w http.ResponseWriter, r *http.Request, log apt.Logger) (uuid.UUID, bool) {
	idStr := chi.URLParam(r, "id")
	if idStr == "" {
		log.Debug("missing id parameter")
		apt.RespondError(w, http.StatusBadRequest, "Missing id parameter")
		return uuid.Nil, false
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		log.Debug("invalid id parameter", "id", idStr)
		apt.RespondError(w, http.StatusBadRequest, "Invalid id parameter")
		return uuid.Nil, false
	}

	return id, true
}

func (h *Handler) decodePayload(w http.ResponseWriter, r *http.Request, log apt.Logger, out interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Debug("failed to read request body", "error", err)
		apt.RespondError(w, http.StatusBadRequest, "Failed to read request body")
		return false
	}
	if len(body) == 0 {
		return true
	}

	if err := json.Unmarshal(body, out); err != nil {
		log.Debug("failed to decode request body", "error", err)
		apt.RespondError(w, http.StatusBadRequest, "Invalid JSON in request body")
		return false
	}

	return true
}

// actorFrom names who is acting. Authentication lives upstream and forwards
// the identity in X-Actor.
func actorFrom(r *http.Request) string {
	if actor := r.Header.Get("X-Actor"); actor != "" {
		return actor
	}
	return defaultActor
}

func (h *Handler) log(r *http.Request) apt.Logger {
	return h.logger.With("request_id", r.Context().Value("request_id"))
}
