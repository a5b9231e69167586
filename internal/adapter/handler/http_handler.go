package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/rl1809/inventory-service/internal/core/domain"
	"github.com/rl1809/inventory-service/internal/core/service"
)

const CorrelationHeader = "X-Correlation-ID"

type HTTPHandler struct {
	stock        *service.StockService
	reservations *service.ReservationService
	events       *service.EventService
	validate     *validator.Validate
	log          zerolog.Logger
}

type CreateStockRequest struct {
	ProductID    string `json:"productId" validate:"required"`
	StoreID      string `json:"storeId" validate:"required"`
	CurrentStock *int   `json:"currentStock" validate:"required,min=0"`
}

type StockUpdateRequest struct {
	ProductID     string `json:"productId" validate:"required"`
	StoreID       string `json:"storeId" validate:"required"`
	Quantity      *int   `json:"quantity" validate:"required"`
	UpdateType    string `json:"updateType" validate:"required,oneof=PURCHASE SALE ADJUSTMENT RESTOCK"`
	CorrelationID string `json:"correlationId"`
}

type ReservationRequest struct {
	ProductID     string `json:"productId" validate:"required"`
	StoreID       string `json:"storeId" validate:"required"`
	Quantity      int    `json:"quantity" validate:"required,gt=0"`
	CorrelationID string `json:"correlationId"`
}

type StockResponse struct {
	ID                string    `json:"id"`
	ProductID         string    `json:"productId"`
	StoreID           string    `json:"storeId"`
	CurrentStock      int       `json:"currentStock"`
	ReservedStock     int       `json:"reservedStock"`
	AvailableStock    int       `json:"availableStock"`
	MinimumStockLevel int       `json:"minimumStockLevel"`
	MaximumStockLevel *int      `json:"maximumStockLevel,omitempty"`
	LowStock          bool      `json:"lowStock"`
	Version           int64     `json:"version"`
	LastUpdated       time.Time `json:"lastUpdated"`
}

type ReservationResponse struct {
	ReservationID string    `json:"reservationId"`
	ProductID     string    `json:"productId"`
	StoreID       string    `json:"storeId"`
	Quantity      int       `json:"quantity"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"createdAt"`
	ExpiresAt     time.Time `json:"expiresAt"`
	CorrelationID string    `json:"correlationId,omitempty"`
}

type EventResponse struct {
	EventID       string    `json:"eventId"`
	ProductID     string    `json:"productId"`
	StoreID       string    `json:"storeId"`
	Quantity      int       `json:"quantity"`
	MutationType  string    `json:"updateType"`
	Source        string    `json:"source"`
	CorrelationID string    `json:"correlationId,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	Status        string    `json:"status"`
	ErrorDetails  *string   `json:"errorDetails,omitempty"`
}

type ErrorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func NewHTTPHandler(stock *service.StockService, reservations *service.ReservationService, events *service.EventService, log zerolog.Logger) *HTTPHandler {
	return &HTTPHandler{
		stock:        stock,
		reservations: reservations,
		events:       events,
		validate:     validator.New(),
		log:          log.With().Str("component", "http").Logger(),
	}
}

// Routes registers every endpoint on a new mux wrapped in the request middleware.
func (h *HTTPHandler) Routes(metrics http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.HealthCheck)
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}

	mux.HandleFunc("GET /api/v1/inventory", h.ListStock)
	mux.HandleFunc("POST /api/v1/inventory", h.CreateStock)
	mux.HandleFunc("GET /api/v1/inventory/low-stock", h.ListLowStock)
	mux.HandleFunc("PUT /api/v1/inventory/stock", h.UpdateStock)
	mux.HandleFunc("GET /api/v1/inventory/store/{storeId}", h.ListByStore)
	mux.HandleFunc("GET /api/v1/inventory/product/{productId}", h.ListByProduct)
	mux.HandleFunc("GET /api/v1/inventory/{id}", h.GetStock)
	mux.HandleFunc("DELETE /api/v1/inventory/{id}", h.DeleteStock)
	mux.HandleFunc("POST /api/v1/inventory/{productId}/{storeId}/reserve", h.ReserveStock)
	mux.HandleFunc("POST /api/v1/inventory/{productId}/{storeId}/release", h.ReleaseStock)
	mux.HandleFunc("GET /api/v1/inventory/{productId}/{storeId}/available", h.AvailableStock)
	mux.HandleFunc("GET /api/v1/inventory/{productId}/{storeId}/can-fulfill", h.CanFulfill)

	mux.HandleFunc("GET /api/v1/reservations", h.ListReservations)
	mux.HandleFunc("POST /api/v1/reservations", h.CreateReservation)
	mux.HandleFunc("GET /api/v1/reservations/{id}", h.GetReservation)
	mux.HandleFunc("DELETE /api/v1/reservations/{id}", h.ReleaseReservation)
	mux.HandleFunc("PATCH /api/v1/reservations/{id}/confirm", h.ConfirmReservation)
	mux.HandleFunc("GET /api/v1/reservations/{id}/validate", h.ValidateReservation)

	mux.HandleFunc("GET /api/v1/events", h.ListEvents)
	mux.HandleFunc("GET /api/v1/events/{id}", h.GetEvent)
	mux.HandleFunc("GET /api/v1/events/status/{status}", h.ListEventsByStatus)
	mux.HandleFunc("GET /api/v1/events/correlation/{correlationId}", h.ListEventsByCorrelation)
	mux.HandleFunc("POST /api/v1/events/{id}/compensate", h.CompensateEvent)

	return h.middleware(mux)
}

// middleware carries the correlation id and trace context into the request
// context and logs each request.
func (h *HTTPHandler) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

		correlationID := r.Header.Get(CorrelationHeader)
		if correlationID == "" {
			correlationID = uuid.NewString()
		}
		w.Header().Set(CorrelationHeader, correlationID)
		ctx = service.WithCorrelationID(ctx, correlationID)

		logger := h.log.With().Str("correlation_id", correlationID).Logger()
		ctx = logger.WithContext(ctx)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("elapsed", time.Since(start)).
			Msg("request handled")
	})
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) ListStock(w http.ResponseWriter, r *http.Request) {
	records, err := h.stock.ListStock(r.Context())
	h.respondStockList(w, r, records, err)
}

func (h *HTTPHandler) ListLowStock(w http.ResponseWriter, r *http.Request) {
	records, err := h.stock.ListLowStock(r.Context())
	h.respondStockList(w, r, records, err)
}

func (h *HTTPHandler) ListByStore(w http.ResponseWriter, r *http.Request) {
	records, err := h.stock.ListByStore(r.Context(), r.PathValue("storeId"))
	h.respondStockList(w, r, records, err)
}

func (h *HTTPHandler) ListByProduct(w http.ResponseWriter, r *http.Request) {
	records, err := h.stock.ListByProduct(r.Context(), r.PathValue("productId"))
	h.respondStockList(w, r, records, err)
}

func (h *HTTPHandler) GetStock(w http.ResponseWriter, r *http.Request) {
	rec, err := h.stock.GetStock(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStockResponse(rec))
}

func (h *HTTPHandler) CreateStock(w http.ResponseWriter, r *http.Request) {
	var req CreateStockRequest
	if !h.decode(w, r, &req) {
		return
	}

	rec, err := h.stock.CreateStock(r.Context(), req.ProductID, req.StoreID, *req.CurrentStock)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toStockResponse(rec))
}

func (h *HTTPHandler) UpdateStock(w http.ResponseWriter, r *http.Request) {
	var req StockUpdateRequest
	if !h.decode(w, r, &req) {
		return
	}

	ctx := r.Context()
	if req.CorrelationID != "" && r.Header.Get(CorrelationHeader) == "" {
		ctx = service.WithCorrelationID(ctx, req.CorrelationID)
	}
	rec, err := h.stock.UpdateStock(ctx, req.ProductID, req.StoreID, *req.Quantity, domain.MutationType(req.UpdateType))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStockResponse(rec))
}

func (h *HTTPHandler) DeleteStock(w http.ResponseWriter, r *http.Request) {
	if err := h.stock.DeleteStock(r.Context(), r.PathValue("id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) ReserveStock(w http.ResponseWriter, r *http.Request) {
	qty, ok := h.quantityParam(w, r)
	if !ok {
		return
	}
	rec, err := h.stock.ReserveStock(r.Context(), r.PathValue("productId"), r.PathValue("storeId"), qty)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStockResponse(rec))
}

func (h *HTTPHandler) ReleaseStock(w http.ResponseWriter, r *http.Request) {
	qty, ok := h.quantityParam(w, r)
	if !ok {
		return
	}
	rec, err := h.stock.ReleaseReservedStock(r.Context(), r.PathValue("productId"), r.PathValue("storeId"), qty)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStockResponse(rec))
}

func (h *HTTPHandler) AvailableStock(w http.ResponseWriter, r *http.Request) {
	n, err := h.stock.GetAvailableStock(r.Context(), r.PathValue("productId"), r.PathValue("storeId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (h *HTTPHandler) CanFulfill(w http.ResponseWriter, r *http.Request) {
	qty, ok := h.quantityParam(w, r)
	if !ok {
		return
	}
	can, err := h.stock.CanFulfill(r.Context(), r.PathValue("productId"), r.PathValue("storeId"), qty)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, can)
}

func (h *HTTPHandler) CreateReservation(w http.ResponseWriter, r *http.Request) {
	var req ReservationRequest
	if !h.decode(w, r, &req) {
		return
	}

	ctx := r.Context()
	if req.CorrelationID != "" && r.Header.Get(CorrelationHeader) == "" {
		ctx = service.WithCorrelationID(ctx, req.CorrelationID)
	}
	res, err := h.reservations.CreateReservation(ctx, req.ProductID, req.StoreID, req.Quantity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toReservationResponse(res))
}

func (h *HTTPHandler) ListReservations(w http.ResponseWriter, r *http.Request) {
	list, err := h.reservations.ListReservations(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]ReservationResponse, 0, len(list))
	for _, res := range list {
		out = append(out, toReservationResponse(res))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *HTTPHandler) GetReservation(w http.ResponseWriter, r *http.Request) {
	res, err := h.reservations.GetReservation(r.Context(), r.PathValue("id"))
	h.respondReservation(w, r, res, err)
}

func (h *HTTPHandler) ConfirmReservation(w http.ResponseWriter, r *http.Request) {
	res, err := h.reservations.ConfirmReservation(r.Context(), r.PathValue("id"))
	h.respondReservation(w, r, res, err)
}

func (h *HTTPHandler) ReleaseReservation(w http.ResponseWriter, r *http.Request) {
	res, err := h.reservations.ReleaseReservation(r.Context(), r.PathValue("id"))
	h.respondReservation(w, r, res, err)
}

func (h *HTTPHandler) ValidateReservation(w http.ResponseWriter, r *http.Request) {
	valid, err := h.reservations.IsReservationValid(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, valid)
}

func (h *HTTPHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.events.ListEvents(r.Context())
	h.respondEventList(w, r, events, err)
}

func (h *HTTPHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := h.events.GetEvent(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEventResponse(ev))
}

func (h *HTTPHandler) ListEventsByStatus(w http.ResponseWriter, r *http.Request) {
	status, err := domain.ParseEventStatus(r.PathValue("status"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	events, err := h.events.ListEventsByStatus(r.Context(), status)
	h.respondEventList(w, r, events, err)
}

func (h *HTTPHandler) ListEventsByCorrelation(w http.ResponseWriter, r *http.Request) {
	events, err := h.events.ListEventsByCorrelationID(r.Context(), r.PathValue("correlationId"))
	h.respondEventList(w, r, events, err)
}

func (h *HTTPHandler) CompensateEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := h.events.CompensateEvent(r.Context(), r.PathValue("id"), r.URL.Query().Get("reason"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEventResponse(ev))
}

func (h *HTTPHandler) respondStockList(w http.ResponseWriter, r *http.Request, records []domain.StockRecord, err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]StockResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, toStockResponse(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *HTTPHandler) respondReservation(w http.ResponseWriter, r *http.Request, res domain.Reservation, err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationResponse(res))
}

func (h *HTTPHandler) respondEventList(w http.ResponseWriter, r *http.Request, events []domain.MutationEvent, err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]EventResponse, 0, len(events))
	for _, ev := range events {
		out = append(out, toEventResponse(ev))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "invalid request body"})
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		fields := map[string]string{}
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				fields[fe.Field()] = fe.Tag()
			}
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: "missing or invalid fields", Fields: fields})
		return false
	}
	return true
}

func (h *HTTPHandler) quantityParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	qty, err := strconv.Atoi(r.URL.Query().Get("quantity"))
	if err != nil || qty <= 0 {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "quantity must be a positive integer",
			Fields:  map[string]string{"quantity": "gt"},
		})
		return 0, false
	}
	return qty, true
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, status, ErrorResponse{Error: code, Message: err.Error()})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, domain.ErrStockNotFound),
		errors.Is(err, domain.ErrReservationNotFound),
		errors.Is(err, domain.ErrEventNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrInsufficientStock):
		return http.StatusConflict, "insufficient_stock"
	case errors.Is(err, domain.ErrConcurrentUpdate):
		return http.StatusConflict, "concurrent_update"
	case errors.Is(err, domain.ErrReservationExpired):
		return http.StatusConflict, "reservation_expired"
	case errors.Is(err, domain.ErrInvalidStateTransition):
		return http.StatusConflict, "invalid_state_transition"
	case errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict, "already_exists"
	case errors.Is(err, domain.ErrNotCompensatable):
		return http.StatusConflict, "not_compensatable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "cancelled"
	}
	return http.StatusInternalServerError, "internal_error"
}

func toStockResponse(rec domain.StockRecord) StockResponse {
	return StockResponse{
		ID:                rec.ID,
		ProductID:         rec.ProductID,
		StoreID:           rec.StoreID,
		CurrentStock:      rec.CurrentStock,
		ReservedStock:     rec.ReservedStock,
		AvailableStock:    rec.Available(),
		MinimumStockLevel: rec.MinimumStockLevel,
		MaximumStockLevel: rec.MaximumStockLevel,
		LowStock:          rec.IsLowStock(),
		Version:           rec.Version,
		LastUpdated:       rec.LastUpdated,
	}
}

func toReservationResponse(res domain.Reservation) ReservationResponse {
	return ReservationResponse{
		ReservationID: res.ReservationID,
		ProductID:     res.ProductID,
		StoreID:       res.StoreID,
		Quantity:      res.Quantity,
		Status:        string(res.Status),
		CreatedAt:     res.CreatedAt,
		ExpiresAt:     res.ExpiresAt,
		CorrelationID: res.CorrelationID,
	}
}

func toEventResponse(ev domain.MutationEvent) EventResponse {
	return EventResponse{
		EventID:       ev.EventID,
		ProductID:     ev.ProductID,
		StoreID:       ev.StoreID,
		Quantity:      ev.Quantity,
		MutationType:  string(ev.MutationType),
		Source:        ev.Source,
		CorrelationID: ev.CorrelationID,
		Timestamp:     ev.Timestamp,
		Status:        string(ev.Status),
		ErrorDetails:  ev.ErrorDetails,
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
