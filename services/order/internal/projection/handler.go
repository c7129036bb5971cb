package projection

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/telemetry"
	"github.com/appetiteclub/orderflow/pkg"
	"github.com/appetiteclub/orderflow/pkg/enums/orderstatus"
	"github.com/appetiteclub/orderflow/services/order/internal/realtime"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Stream is the realtime surface the SSE endpoint needs.
type Stream interface {
	Source
	Watch() (<-chan realtime.State, func())
}

// ETASource estimates minutes until an order is ready.
type ETASource interface {
	ETA(ctx context.Context, id uuid.UUID) (int, error)
}

type StaffBoard struct {
	Orders []OrderCard `json:"orders"`
	Stale  bool        `json:"stale"`
}

type KitchenBoard struct {
	KitchenColumns
	Stale bool `json:"stale"`
}

type Handler struct {
	board     *Board
	stream    Stream
	eta       ETASource
	logger    apt.Logger
	tlm       *telemetry.HTTP
	keepalive time.Duration
	buffer    int
}

func NewHandler(board *Board, stream Stream, eta ETASource, logger apt.Logger) *Handler {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &Handler{
		board:     board,
		stream:    stream,
		eta:       eta,
		logger:    logger,
		tlm:       telemetry.NewHTTP(),
		keepalive: 30 * time.Second,
		buffer:    32,
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/board/orders", h.StaffOrders)
	r.Get("/board/kitchen", h.KitchenColumns)
	r.Get("/tracking/{id}", h.Tracking)
	r.Get("/stream", h.ServeStream)
}

func (h *Handler) StaffOrders(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.StaffOrders")
	defer finish()

	apt.RespondSuccess(w, StaffBoard{Orders: h.board.Orders(), Stale: h.board.Stale()})
}

func (h *Handler) KitchenColumns(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.KitchenColumns")
	defer finish()

	apt.RespondSuccess(w, KitchenBoard{KitchenColumns: h.board.Kitchen(), Stale: h.board.Stale()})
}

func (h *Handler) Tracking(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.Tracking")
	defer finish()

	idStr := chi.URLParam(r, "id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		apt.RespondError(w, http.StatusBadRequest, "Invalid order ID")
		return
	}

	tracking, ok := h.board.Tracking(id.String())
	if !ok {
		apt.RespondError(w, http.StatusNotFound, "Order not found")
		return
	}

	if h.eta != nil && awaitingKitchen(tracking.Order.Status) {
		minutes, err := h.eta.ETA(r.Context(), id)
		if err != nil {
			h.logger.Debug("eta unavailable for tracking", "order_id", idStr, "error", err)
		} else {
			tracking.ETA = &minutes
		}
	}

	apt.RespondSuccess(w, tracking)
}

// ServeStream streams changes for one topic as server-sent events, narrowed
// by order_id and restaurant_id when given. The stream ends when the
// realtime channel goes offline.
func (h *Handler) ServeStream(w http.ResponseWriter, r *http.Request) {
	log := h.logger.With("request_id", r.Header.Get("X-Request-ID"))

	if h.stream == nil {
		apt.RespondError(w, http.StatusServiceUnavailable, "Realtime channel unavailable")
		return
	}
	if err := h.stream.Err(); err != nil {
		log.Info("rejecting stream, channel offline", "error", err)
		apt.RespondError(w, http.StatusServiceUnavailable, "Realtime channel offline")
		return
	}

	q := r.URL.Query()
	topic := q.Get("topic")
	if topic == "" {
		topic = pkg.OrdersTopic
	}
	if !pkg.IsChangeTopic(topic) {
		apt.RespondError(w, http.StatusBadRequest, "Unknown topic")
		return
	}

	var predicates []realtime.Predicate
	if orderID := q.Get("order_id"); orderID != "" {
		if _, err := uuid.Parse(orderID); err != nil {
			apt.RespondError(w, http.StatusBadRequest, "Invalid order_id parameter")
			return
		}
		predicates = append(predicates, realtime.MatchOrder(orderID))
	}
	if restaurantID := q.Get("restaurant_id"); restaurantID != "" {
		predicates = append(predicates, realtime.MatchField("restaurant_id", restaurantID))
	}

	flusher, _ := w.(http.Flusher)
	flush := func() {
		if flusher != nil {
			flusher.Flush()
		}
	}

	states, stopWatching := h.stream.Watch()
	defer stopWatching()

	subscriberID := uuid.New().String()
	events := make(chan realtime.Event, h.buffer)
	unsubscribe := h.stream.Subscribe(topic, realtime.All(predicates...), func(evt realtime.Event) {
		if evt.State != "" {
			// State changes reach the client through the watch channel.
			return
		}
		select {
		case events <- evt:
		default:
			log.Info("subscriber channel full, dropping event", "subscriber_id", subscriberID, "change_id", evt.Change.ID)
		}
	})
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, ": connected\n\n")
	fmt.Fprintf(w, "retry: 2000\n\n")
	flush()

	log.Info("new SSE connection", "subscriber_id", subscriberID, "topic", topic)

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			log.Info("SSE client disconnected", "subscriber_id", subscriberID)
			return

		case <-ticker.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flush()

		case state, ok := <-states:
			if !ok {
				return
			}
			sendSSEEvent(w, "state", string(state))
			flush()
			if state == realtime.StateOffline {
				log.Info("closing SSE stream, channel offline", "subscriber_id", subscriberID)
				return
			}

		case evt := <-events:
			data, err := json.Marshal(evt.Change)
			if err != nil {
				log.Error("cannot encode change", "change_id", evt.Change.ID, "error", err)
				continue
			}
			sendSSEEvent(w, evt.Topic, string(data))
			flush()
		}
	}
}

// sendSSEEvent writes one event, prefixing each data line.
func sendSSEEvent(w http.ResponseWriter, eventType string, data string) {
	fmt.Fprintf(w, "event: %s\n", eventType)
	for _, line := range strings.Split(strings.TrimSpace(data), "\n") {
		fmt.Fprintf(w, "data: %s\n", line)
	}
	fmt.Fprintf(w, "\n")
}

func awaitingKitchen(status string) bool {
	return status == orderstatus.Statuses.Pending.Code() || status == orderstatus.Statuses.Preparing.Code()
}
