package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"caphe/internal/config"
	"caphe/internal/database"
	"caphe/internal/domain"
	"caphe/internal/models"
)

// Reporter builds a period report file and returns its path. Optional:
// a server without a reporter answers 404 on the report endpoint.
type Reporter interface {
	PeriodReport(ctx context.Context, startDate, endDate time.Time) (string, error)
}

// HTTPServer exposes the reservation and settlement engine over HTTP.
type HTTPServer struct {
	cfg      config.APIConfig
	engine   domain.Engine
	reporter Reporter
	server   *http.Server
	auth     *HTTPAuth
	logger   *zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, engine domain.Engine, reporter Reporter, state domain.StateRepository, logger *zerolog.Logger) *HTTPServer {
	mux := http.NewServeMux()
	srv := &HTTPServer{cfg: cfg, engine: engine, reporter: reporter, logger: logger}
	srv.auth = NewHTTPAuth(cfg, state)

	mux.HandleFunc("GET /healthz", srv.handleHealth)

	mux.HandleFunc("GET /api/v1/tables", srv.handleListTables)

	mux.HandleFunc("POST /api/v1/bookings", srv.handleCreateBooking)
	mux.HandleFunc("GET /api/v1/bookings", srv.handleListBookings)
	mux.HandleFunc("GET /api/v1/bookings/{id}", srv.handleGetBooking)
	mux.HandleFunc("POST /api/v1/bookings/{id}/confirm", srv.handleConfirmBooking)
	mux.HandleFunc("POST /api/v1/bookings/{id}/cancel", srv.handleCancelBooking)
	mux.HandleFunc("POST /api/v1/bookings/{id}/final-payment", srv.handleFinalPayment)

	mux.HandleFunc("POST /api/v1/settlements", srv.handleStartSettlement)
	mux.HandleFunc("GET /api/v1/settlements/{id}", srv.handleGetSettlement)
	mux.HandleFunc("POST /api/v1/settlements/{id}/poll", srv.handlePollSettlement)
	mux.HandleFunc("POST /api/v1/settlements/{id}/confirm", srv.handleConfirmSettlement)
	mux.HandleFunc("POST /api/v1/settlements/{id}/cancel", srv.handleCancelSettlement)

	mux.HandleFunc("GET /api/v1/reports/period", srv.handlePeriodReport)

	handler := srv.loggingMiddleware(srv.auth.Wrap(mux))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	return srv
}

// Handler returns the configured handler chain, used directly by tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API запущен")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleListTables(w http.ResponseWriter, r *http.Request) {
	tables, err := s.engine.ListTables(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tables": tables})
}

func (s *HTTPServer) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TableID       int64             `json:"table_id"`
		PartySize     int64             `json:"party_size"`
		Date          string            `json:"date"`
		Time          string            `json:"time"`
		DepositAmount int64             `json:"deposit_amount"`
		CustomerName  string            `json:"customer_name"`
		Phone         string            `json:"phone"`
		Email         string            `json:"email"`
		Notes         string            `json:"notes"`
		Items         []models.LineItem `json:"items"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	date, err := time.Parse("2006-01-02", strings.TrimSpace(body.Date))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date format; expected YYYY-MM-DD")
		return
	}

	result, err := s.engine.CreateBooking(r.Context(), domain.CreateBookingRequest{
		TableID:       body.TableID,
		PartySize:     body.PartySize,
		Date:          date,
		Time:          strings.TrimSpace(body.Time),
		DepositAmount: body.DepositAmount,
		CustomerName:  strings.TrimSpace(body.CustomerName),
		Phone:         strings.TrimSpace(body.Phone),
		Email:         strings.TrimSpace(body.Email),
		Notes:         body.Notes,
		Items:         body.Items,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *HTTPServer) handleListBookings(w http.ResponseWriter, r *http.Request) {
	start, end, ok := parseDateRange(w, r)
	if !ok {
		return
	}
	bookings, err := s.engine.GetBookingsByDateRange(r.Context(), start, end)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": bookings})
}

func (s *HTTPServer) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	booking, err := s.engine.GetBooking(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (s *HTTPServer) handleConfirmBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		Actor string `json:"actor"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	booking, err := s.engine.ConfirmBookingManually(r.Context(), id, defaultActor(body.Actor))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (s *HTTPServer) handleCancelBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		Actor  string `json:"actor"`
		Reason string `json:"reason"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	booking, err := s.engine.CancelBooking(r.Context(), id, defaultActor(body.Actor), body.Reason)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (s *HTTPServer) handleFinalPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		Amount int64 `json:"amount"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	settlement, err := s.engine.CompleteBookingViaFinalPayment(r.Context(), id, body.Amount)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, settlement)
}

func (s *HTTPServer) handleStartSettlement(w http.ResponseWriter, r *http.Request) {
	var body struct {
		BookingID int64  `json:"booking_id"`
		Kind      string `json:"kind"`
		Amount    int64  `json:"amount"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	settlement, err := s.engine.StartSettlement(r.Context(), body.BookingID, body.Kind, body.Amount)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, settlement)
}

func (s *HTTPServer) handleGetSettlement(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	settlement, err := s.engine.GetSettlement(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settlement)
}

func (s *HTTPServer) handlePollSettlement(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	settlement, err := s.engine.PollSettlement(r.Context(), id)
	if errors.Is(err, database.ErrPaymentMismatch) && settlement != nil {
		// Расчёт переведён в failed; клиент видит и статус, и причину.
		writeJSON(w, http.StatusConflict, settlement)
		return
	}
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settlement)
}

func (s *HTTPServer) handleConfirmSettlement(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		Actor string `json:"actor"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	settlement, err := s.engine.ConfirmSettlementManually(r.Context(), id, defaultActor(body.Actor))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settlement)
}

func (s *HTTPServer) handleCancelSettlement(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		Actor string `json:"actor"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	settlement, err := s.engine.CancelSettlement(r.Context(), id, defaultActor(body.Actor))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settlement)
}

func (s *HTTPServer) handlePeriodReport(w http.ResponseWriter, r *http.Request) {
	if s.reporter == nil {
		writeError(w, http.StatusNotFound, "reports are not configured")
		return
	}
	start, end, ok := parseDateRange(w, r)
	if !ok {
		return
	}
	path, err := s.reporter.PeriodReport(r.Context(), start, end)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "report generation failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"file": path})
}

// writeDomainError maps the engine's error kinds onto HTTP statuses.
func (s *HTTPServer) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, database.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, database.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, database.ErrTableUnavailable),
		errors.Is(err, database.ErrInvalidTransition),
		errors.Is(err, database.ErrConcurrentModification),
		errors.Is(err, database.ErrPaymentMismatch):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, database.ErrGatewayUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error().Err(err).Msg("Необработанная ошибка API")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func parseDateRange(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	fromStr := strings.TrimSpace(r.URL.Query().Get("from"))
	toStr := strings.TrimSpace(r.URL.Query().Get("to"))
	if fromStr == "" || toStr == "" {
		writeError(w, http.StatusBadRequest, "from and to are required")
		return time.Time{}, time.Time{}, false
	}
	from, err := time.Parse("2006-01-02", fromStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid from date; expected YYYY-MM-DD")
		return time.Time{}, time.Time{}, false
	}
	to, err := time.Parse("2006-01-02", toStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid to date; expected YYYY-MM-DD")
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

// decodeBody reads the JSON body; an empty body decodes to zero values so
// action endpoints can be called without a payload.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return true
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func defaultActor(actor string) string {
	if strings.TrimSpace(actor) == "" {
		return "api"
	}
	return strings.TrimSpace(actor)
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}
