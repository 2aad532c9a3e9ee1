package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caphe/internal/config"
	"caphe/internal/database"
	"caphe/internal/domain"
	"caphe/internal/logging"
	"caphe/internal/models"
	"caphe/internal/service"
)

type stubGateway struct {
	mu        sync.Mutex
	transfers map[string][]domain.Transfer
}

func (g *stubGateway) GenerateQR(_ context.Context, amount int64, reference string) (string, error) {
	return fmt.Sprintf("QR:%s:%d", reference, amount), nil
}

func (g *stubGateway) LookupTransfer(_ context.Context, reference string) ([]domain.Transfer, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.transfers[reference], nil
}

func (g *stubGateway) pay(reference string, amount int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.transfers == nil {
		g.transfers = make(map[string][]domain.Transfer)
	}
	g.transfers[reference] = append(g.transfers[reference], domain.Transfer{Reference: reference, Amount: amount})
}

type stubOrders struct{}

func (stubOrders) GetOrderTotal(context.Context, int64) (int64, error) { return 80000, nil }
func (stubOrders) MarkOrderPaid(context.Context, int64) error         { return nil }

func newTestServer(t *testing.T, cfg config.APIConfig) (*HTTPServer, *stubGateway, *database.DB) {
	t.Helper()

	logger := logging.Nop()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "api.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.SyncTables(context.Background(), []models.Table{
		{Name: "T1", Capacity: 4, IsActive: true},
	}))

	gateway := &stubGateway{}
	engine := service.NewEngine(db, gateway, stubOrders{}, nil, nil,
		config.BookingConfig{MaxBookingDays: 60, AllowSameDay: true}, logger)
	return NewHTTPServer(cfg, engine, nil, nil, logger), gateway, db
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func createBookingBody(deposit int64) map[string]any {
	return map[string]any{
		"table_id":       1,
		"party_size":     2,
		"date":           time.Now().AddDate(0, 0, 2).Format("2006-01-02"),
		"time":           "19:00",
		"deposit_amount": deposit,
		"customer_name":  "Олег",
		"phone":          "+79990000001",
	}
}

func TestBookingLifecycleOverHTTP(t *testing.T) {
	srv, gateway, _ := newTestServer(t, config.APIConfig{})
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/v1/bookings", createBookingBody(50000), nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created domain.CreateBookingResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotNil(t, created.Settlement)
	assert.Equal(t, models.StatusPending, created.Booking.Status)
	assert.Equal(t, models.OutcomeAwaitingPayment, created.Settlement.Outcome)

	// Пустой опрос: расчёт остаётся в ожидании.
	rec = doJSON(t, h, http.MethodPost, fmt.Sprintf("/api/v1/settlements/%d/poll", created.Settlement.ID), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	gateway.pay(created.Settlement.BankReference, 50000)
	rec = doJSON(t, h, http.MethodPost, fmt.Sprintf("/api/v1/settlements/%d/poll", created.Settlement.ID), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var settlement models.Settlement
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &settlement))
	assert.Equal(t, models.OutcomeConfirmed, settlement.Outcome)

	rec = doJSON(t, h, http.MethodGet, fmt.Sprintf("/api/v1/bookings/%d", created.Booking.ID), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var booking models.Booking
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &booking))
	assert.Equal(t, models.StatusConfirmed, booking.Status)
}

func TestCreateBookingConflictOverHTTP(t *testing.T) {
	srv, _, _ := newTestServer(t, config.APIConfig{})
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/v1/bookings", createBookingBody(0), nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/v1/bookings", createBookingBody(0), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCreateBookingValidationOverHTTP(t *testing.T) {
	srv, _, _ := newTestServer(t, config.APIConfig{})
	h := srv.Handler()

	body := createBookingBody(0)
	body["party_size"] = 0
	rec := doJSON(t, h, http.MethodPost, "/api/v1/bookings", body, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body = createBookingBody(0)
	body["date"] = "next friday"
	rec = doJSON(t, h, http.MethodPost, "/api/v1/bookings", body, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPollMismatchReturnsConflict(t *testing.T) {
	srv, gateway, _ := newTestServer(t, config.APIConfig{})
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/v1/bookings", createBookingBody(50000), nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created domain.CreateBookingResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	gateway.pay(created.Settlement.BankReference, 70000)
	rec = doJSON(t, h, http.MethodPost, fmt.Sprintf("/api/v1/settlements/%d/poll", created.Settlement.ID), nil, nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	var settlement models.Settlement
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &settlement))
	assert.Equal(t, models.OutcomeFailed, settlement.Outcome)
}

func TestCancelCompletedBookingConflict(t *testing.T) {
	srv, gateway, _ := newTestServer(t, config.APIConfig{})
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/v1/bookings", createBookingBody(0), nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created domain.CreateBookingResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = doJSON(t, h, http.MethodPost, fmt.Sprintf("/api/v1/bookings/%d/final-payment", created.Booking.ID), map[string]any{"amount": 0}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var settlement models.Settlement
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &settlement))
	assert.Equal(t, int64(80000), settlement.Amount)

	gateway.pay(settlement.BankReference, 80000)
	rec = doJSON(t, h, http.MethodPost, fmt.Sprintf("/api/v1/settlements/%d/poll", settlement.ID), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodPost, fmt.Sprintf("/api/v1/bookings/%d/cancel", created.Booking.ID), map[string]any{"actor": "admin"}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetBookingNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t, config.APIConfig{})
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/bookings/999", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListTables(t *testing.T) {
	srv, _, _ := newTestServer(t, config.APIConfig{})
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/tables", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Tables []models.Table `json:"tables"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Tables, 1)
	assert.Equal(t, models.OccupancyEmpty, resp.Tables[0].OccupancyStatus)
}

func TestListBookingsByDateRange(t *testing.T) {
	srv, _, _ := newTestServer(t, config.APIConfig{})
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/v1/bookings", createBookingBody(0), nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	from := time.Now().Format("2006-01-02")
	to := time.Now().AddDate(0, 0, 7).Format("2006-01-02")
	rec = doJSON(t, h, http.MethodGet, "/api/v1/bookings?from="+from+"&to="+to, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Bookings []models.Booking `json:"bookings"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Bookings, 1)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/bookings?from="+from, nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
