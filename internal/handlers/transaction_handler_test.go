package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spbu-ds-practicum-2025/retail-ledger/internal/domain"
	"github.com/spbu-ds-practicum-2025/retail-ledger/internal/handlers"
	"github.com/spbu-ds-practicum-2025/retail-ledger/internal/kvstore"
	"github.com/spbu-ds-practicum-2025/retail-ledger/internal/logging"
	"github.com/spbu-ds-practicum-2025/retail-ledger/internal/metrics"
	"github.com/spbu-ds-practicum-2025/retail-ledger/internal/ratelimit"
)

// mockTransactionService implements handlers.TransactionService for testing
type mockTransactionService struct {
	createFunc   func(context.Context, domain.CreateTransactionRequest) (*domain.Transaction, error)
	getFunc      func(context.Context, uuid.UUID) (*domain.Transaction, error)
	updateFunc   func(context.Context, uuid.UUID, string) (*domain.Transaction, error)
	isLockedFunc func(context.Context, uuid.UUID) (bool, error)
}

func (m *mockTransactionService) CreateTransaction(ctx context.Context, req domain.CreateTransactionRequest) (*domain.Transaction, error) {
	if m.createFunc != nil {
		return m.createFunc(ctx, req)
	}
	return domain.NewTransaction(req, req.Amount, "USD"), nil
}

func (m *mockTransactionService) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, id)
	}
	return nil, domain.ErrTransactionNotFound
}

func (m *mockTransactionService) UpdateDescription(ctx context.Context, id uuid.UUID, description string) (*domain.Transaction, error) {
	if m.updateFunc != nil {
		return m.updateFunc(ctx, id, description)
	}
	return nil, domain.ErrTransactionNotFound
}

func (m *mockTransactionService) IsStoreLocked(ctx context.Context, storeID uuid.UUID) (bool, error) {
	if m.isLockedFunc != nil {
		return m.isLockedFunc(ctx, storeID)
	}
	return false, nil
}

// mockReportService implements handlers.ReportService for testing
type mockReportService struct {
	generateFunc func(context.Context, domain.ReportRequest) (*domain.Report, error)
}

func (m *mockReportService) GenerateReport(ctx context.Context, req domain.ReportRequest) (*domain.Report, error) {
	if m.generateFunc != nil {
		return m.generateFunc(ctx, req)
	}
	return &domain.Report{StoreID: req.StoreID, StartDate: req.StartDate, GroupBy: req.GroupBy}, nil
}

func newRouter(txs *mockTransactionService, reports *mockReportService, cfg handlers.RouterConfig) http.Handler {
	cfg.Logger = logging.Discard()
	return handlers.NewRouter(handlers.NewHandler(txs, reports, logging.Discard()), cfg)
}

func do(t *testing.T, router http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		payload, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) handlers.BaseError {
	t.Helper()
	var errResp handlers.BaseError
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&errResp))
	return errResp
}

func TestCreateTransaction_Success(t *testing.T) {
	storeID := uuid.New()
	userID := uuid.New()

	var got domain.CreateTransactionRequest
	txs := &mockTransactionService{
		createFunc: func(_ context.Context, req domain.CreateTransactionRequest) (*domain.Transaction, error) {
			got = req
			return domain.NewTransaction(req, decimal.RequireFromString("110.0000"), "USD"), nil
		},
	}
	router := newRouter(txs, &mockReportService{}, handlers.RouterConfig{})

	rr := do(t, router, http.MethodPost, "/v1/stores/"+storeID.String()+"/transactions",
		handlers.CreateTransactionRequest{Amount: "100.50", Currency: "EUR", Type: "credit", Description: "Morning sales"},
		map[string]string{handlers.UserIDHeader: userID.String()})

	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	assert.Equal(t, storeID, got.StoreID)
	assert.Equal(t, userID, got.CreatedBy)
	assert.True(t, decimal.RequireFromString("100.50").Equal(got.Amount))
	assert.Equal(t, "EUR", got.Currency)
	assert.Equal(t, domain.TransactionTypeCredit, got.Type)
	assert.Equal(t, "Morning sales", got.Description)

	var resp handlers.TransactionResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, storeID, resp.StoreId)
	assert.Equal(t, "credit", resp.Type)
	assert.Equal(t, "USD", resp.ReferenceCurrency)
	assert.True(t, decimal.RequireFromString("110").Equal(resp.AmountInReferenceCurrency))
}

func TestCreateTransaction_BadRequests(t *testing.T) {
	storeID := uuid.New().String()
	user := map[string]string{handlers.UserIDHeader: uuid.New().String()}

	tests := []struct {
		name    string
		storeID string
		body    any
		headers map[string]string
	}{
		{
			name:    "store id is not a uuid",
			storeID: "store-1",
			body:    handlers.CreateTransactionRequest{Amount: "1", Currency: "USD", Type: "credit"},
			headers: user,
		},
		{
			name:    "missing user header",
			storeID: storeID,
			body:    handlers.CreateTransactionRequest{Amount: "1", Currency: "USD", Type: "credit"},
		},
		{
			name:    "malformed body",
			storeID: storeID,
			body:    `{"amount":`,
			headers: user,
		},
		{
			name:    "three decimal places",
			storeID: storeID,
			body:    handlers.CreateTransactionRequest{Amount: "1.005", Currency: "USD", Type: "credit"},
			headers: user,
		},
		{
			name:    "negative amount",
			storeID: storeID,
			body:    handlers.CreateTransactionRequest{Amount: "-5", Currency: "USD", Type: "debit"},
			headers: user,
		},
		{
			name:    "unknown type",
			storeID: storeID,
			body:    handlers.CreateTransactionRequest{Amount: "5", Currency: "USD", Type: "refund"},
			headers: user,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			txs := &mockTransactionService{
				createFunc: func(context.Context, domain.CreateTransactionRequest) (*domain.Transaction, error) {
					t.Error("service must not be called for a rejected request")
					return nil, errors.New("unexpected call")
				},
			}
			router := newRouter(txs, &mockReportService{}, handlers.RouterConfig{})

			rr := do(t, router, http.MethodPost, "/v1/stores/"+tt.storeID+"/transactions", tt.body, tt.headers)
			assert.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())

			errResp := decodeError(t, rr)
			assert.NotEmpty(t, errResp.Code)
			require.NotNil(t, errResp.Description)
			assert.NotEqual(t, uuid.Nil, errResp.Id)
		})
	}
}

func TestCreateTransaction_ErrorMapping(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		expectedCode int
		expectedBody string
	}{
		{name: "store busy", err: domain.ErrTransactionInProgress, expectedCode: http.StatusConflict, expectedBody: "TRANSACTION_IN_PROGRESS"},
		{name: "rates unavailable", err: fmt.Errorf("%w: timeout", domain.ErrRatesUnavailable), expectedCode: http.StatusServiceUnavailable, expectedBody: "RATES_UNAVAILABLE"},
		{name: "unsupported currency", err: fmt.Errorf("%w: XYZ", domain.ErrUnsupportedCurrency), expectedCode: http.StatusBadRequest, expectedBody: "INVALID_ARGUMENT"},
		{name: "invalid currency", err: domain.ErrInvalidCurrency, expectedCode: http.StatusBadRequest, expectedBody: "INVALID_ARGUMENT"},
		{name: "storage failure", err: errors.New("connection reset"), expectedCode: http.StatusInternalServerError, expectedBody: "INTERNAL_ERROR"},
		{name: "client went away", err: context.Canceled, expectedCode: handlers.StatusClientClosedRequest, expectedBody: "REQUEST_CANCELED"},
		{name: "deadline exceeded", err: fmt.Errorf("failed to create transaction: %w", context.DeadlineExceeded), expectedCode: http.StatusGatewayTimeout, expectedBody: "TIMEOUT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			txs := &mockTransactionService{
				createFunc: func(context.Context, domain.CreateTransactionRequest) (*domain.Transaction, error) {
					return nil, tt.err
				},
			}
			router := newRouter(txs, &mockReportService{}, handlers.RouterConfig{})

			rr := do(t, router, http.MethodPost, "/v1/stores/"+uuid.New().String()+"/transactions",
				handlers.CreateTransactionRequest{Amount: "10.00", Currency: "EUR", Type: "debit"},
				map[string]string{handlers.UserIDHeader: uuid.New().String()})

			assert.Equal(t, tt.expectedCode, rr.Code)
			assert.Equal(t, tt.expectedBody, decodeError(t, rr).Code)
		})
	}
}

func TestCreateTransaction_InternalErrorIsNotLeaked(t *testing.T) {
	txs := &mockTransactionService{
		createFunc: func(context.Context, domain.CreateTransactionRequest) (*domain.Transaction, error) {
			return nil, errors.New("pq: password authentication failed for user ledger")
		},
	}
	router := newRouter(txs, &mockReportService{}, handlers.RouterConfig{})

	rr := do(t, router, http.MethodPost, "/v1/stores/"+uuid.New().String()+"/transactions",
		handlers.CreateTransactionRequest{Amount: "10.00", Currency: "USD", Type: "debit"},
		map[string]string{handlers.UserIDHeader: uuid.New().String()})

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	errResp := decodeError(t, rr)
	require.NotNil(t, errResp.Description)
	assert.NotContains(t, *errResp.Description, "password")
}

func TestGetTransaction(t *testing.T) {
	id := uuid.New()
	stored := &domain.Transaction{
		ID:                        id,
		StoreID:                   uuid.New(),
		CreatedBy:                 uuid.New(),
		Amount:                    decimal.RequireFromString("15.00"),
		Currency:                  "USD",
		Type:                      domain.TransactionTypeDebit,
		AmountInReferenceCurrency: decimal.RequireFromString("15.00"),
		ReferenceCurrency:         "USD",
		CreatedAt:                 time.Date(2024, 1, 3, 15, 0, 0, 0, time.UTC),
		UpdatedAt:                 time.Date(2024, 1, 3, 15, 0, 0, 0, time.UTC),
	}
	txs := &mockTransactionService{
		getFunc: func(_ context.Context, got uuid.UUID) (*domain.Transaction, error) {
			if got == id {
				return stored, nil
			}
			return nil, domain.ErrTransactionNotFound
		},
	}
	router := newRouter(txs, &mockReportService{}, handlers.RouterConfig{})

	rr := do(t, router, http.MethodGet, "/v1/transactions/"+id.String(), nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var resp handlers.TransactionResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, id, resp.Id)
	assert.Equal(t, "debit", resp.Type)
	assert.True(t, stored.CreatedAt.Equal(resp.CreatedAt))

	rr = do(t, router, http.MethodGet, "/v1/transactions/"+uuid.New().String(), nil, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "NOT_FOUND", decodeError(t, rr).Code)

	rr = do(t, router, http.MethodGet, "/v1/transactions/not-a-uuid", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestUpdateTransaction(t *testing.T) {
	id := uuid.New()
	var gotDescription string
	txs := &mockTransactionService{
		updateFunc: func(_ context.Context, got uuid.UUID, description string) (*domain.Transaction, error) {
			gotDescription = description
			return &domain.Transaction{ID: got, Type: domain.TransactionTypeCredit, Description: description}, nil
		},
	}
	router := newRouter(txs, &mockReportService{}, handlers.RouterConfig{})

	rr := do(t, router, http.MethodPatch, "/v1/transactions/"+id.String(), map[string]string{"description": "corrected"}, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "corrected", gotDescription)

	rr = do(t, router, http.MethodPatch, "/v1/transactions/"+id.String(), map[string]string{}, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code, "description is required")
}

func TestGetStoreLock(t *testing.T) {
	storeID := uuid.New()
	txs := &mockTransactionService{
		isLockedFunc: func(_ context.Context, got uuid.UUID) (bool, error) {
			return got == storeID, nil
		},
	}
	router := newRouter(txs, &mockReportService{}, handlers.RouterConfig{})

	rr := do(t, router, http.MethodGet, "/v1/stores/"+storeID.String()+"/lock", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp handlers.LockStatusResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, storeID, resp.StoreId)
	assert.True(t, resp.Locked)
}

func TestGetReport_Success(t *testing.T) {
	storeID := uuid.New()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	var got domain.ReportRequest
	reports := &mockReportService{
		generateFunc: func(_ context.Context, req domain.ReportRequest) (*domain.Report, error) {
			got = req
			rows := []domain.PeriodTotal{
				{TimePeriod: 2, Type: domain.TransactionTypeCredit, TotalAmount: decimal.NewFromInt(100), Count: 1},
				{TimePeriod: 4, Type: domain.TransactionTypeDebit, TotalAmount: decimal.NewFromInt(40), Count: 1},
			}
			return &domain.Report{
				StoreID:   req.StoreID,
				StartDate: req.StartDate,
				EndDate:   domain.ReportEndDate(req.Duration, req.StartDate),
				GroupBy:   req.GroupBy,
				Buckets:   domain.BuildBuckets(rows, req.GroupBy),
				Summary:   domain.Summarize(rows),
			}, nil
		},
	}
	router := newRouter(&mockTransactionService{}, reports, handlers.RouterConfig{})

	rr := do(t, router, http.MethodGet,
		"/v1/stores/"+storeID.String()+"/reports?durationType=week&startDate=2024-01-01&groupBy=dayOfWeek", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	assert.Equal(t, storeID, got.StoreID)
	assert.Equal(t, domain.ReportDurationWeek, got.Duration)
	assert.True(t, start.Equal(got.StartDate))
	assert.Equal(t, domain.GroupByDayOfWeek, got.GroupBy)

	var resp handlers.ReportResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.True(t, start.Equal(resp.StartDate))
	assert.True(t, start.AddDate(0, 0, 7).Equal(resp.EndDate))

	require.Len(t, resp.Transactions, 2)
	assert.Equal(t, 4, resp.Transactions[0].TimePeriod)
	assert.Equal(t, "Wednesday", resp.Transactions[0].Label)
	require.Len(t, resp.Transactions[0].Transactions, 1)
	assert.Equal(t, "debit", resp.Transactions[0].Transactions[0].Type)
	assert.Equal(t, "Monday", resp.Transactions[1].Label)

	assert.True(t, decimal.NewFromInt(100).Equal(resp.Summary.TotalCredit))
	assert.True(t, decimal.NewFromInt(40).Equal(resp.Summary.TotalDebit))
	assert.True(t, decimal.NewFromInt(60).Equal(resp.Summary.NetFlow))
	assert.Equal(t, int64(2), resp.Summary.TransactionCount)
}

func TestGetReport_InvalidQuery(t *testing.T) {
	storeID := uuid.New().String()
	tests := []struct {
		name  string
		query string
	}{
		{name: "unknown duration", query: "durationType=year&startDate=2024-01-01&groupBy=month"},
		{name: "unknown grouping", query: "durationType=week&startDate=2024-01-01&groupBy=hour"},
		{name: "missing start date", query: "durationType=week&groupBy=month"},
		{name: "bad start date", query: "durationType=week&startDate=01/02/2024&groupBy=month"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reports := &mockReportService{
				generateFunc: func(context.Context, domain.ReportRequest) (*domain.Report, error) {
					t.Error("service must not be called for a rejected request")
					return nil, errors.New("unexpected call")
				},
			}
			router := newRouter(&mockTransactionService{}, reports, handlers.RouterConfig{})

			rr := do(t, router, http.MethodGet, "/v1/stores/"+storeID+"/reports?"+tt.query, nil, nil)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, "INVALID_ARGUMENT", decodeError(t, rr).Code)
		})
	}
}

func doFrom(t *testing.T, router http.Handler, remoteAddr, path string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = remoteAddr
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestRateLimit(t *testing.T) {
	limiter := ratelimit.New(kvstore.NewMemory(), 2, time.Minute, logging.Discard(), nil)
	router := newRouter(&mockTransactionService{}, &mockReportService{}, handlers.RouterConfig{Limiter: limiter})

	path := "/v1/stores/" + uuid.New().String() + "/lock"
	alice := "203.0.113.10:51000"

	for i := 0; i < 2; i++ {
		rr := doFrom(t, router, alice, path, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "2", rr.Header().Get("X-RateLimit-Limit"))
	}

	rr := doFrom(t, router, alice, path, nil)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "RATE_LIMITED", decodeError(t, rr).Code)
	retryAfter, err := strconv.Atoi(rr.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, retryAfter, 1)

	// Another port on the same host is the same client
	assert.Equal(t, http.StatusTooManyRequests, doFrom(t, router, "203.0.113.10:51001", path, nil).Code)

	bob := "198.51.100.7:40000"
	assert.Equal(t, http.StatusOK, doFrom(t, router, bob, path, nil).Code)

	// Health endpoints are not limited
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, doFrom(t, router, alice, "/healthz", nil).Code)
	}
}

func TestRateLimit_RotatingUserHeaderSharesQuota(t *testing.T) {
	limiter := ratelimit.New(kvstore.NewMemory(), 2, time.Minute, logging.Discard(), nil)
	router := newRouter(&mockTransactionService{}, &mockReportService{}, handlers.RouterConfig{Limiter: limiter})

	path := "/v1/stores/" + uuid.New().String() + "/lock"
	allowed := 0
	for i := 0; i < 50; i++ {
		rr := doFrom(t, router, "203.0.113.10:51000", path, map[string]string{
			handlers.UserIDHeader: uuid.New().String(),
		})
		if rr.Code == http.StatusOK {
			allowed++
		}
	}
	assert.Equal(t, 2, allowed, "a new X-User-Id per request must not reset the quota")
}

func TestRateLimit_ForwardedClientAddress(t *testing.T) {
	limiter := ratelimit.New(kvstore.NewMemory(), 1, time.Minute, logging.Discard(), nil)
	router := newRouter(&mockTransactionService{}, &mockReportService{}, handlers.RouterConfig{Limiter: limiter})

	path := "/v1/stores/" + uuid.New().String() + "/lock"
	proxy := "10.0.0.2:8080"

	first := doFrom(t, router, proxy, path, map[string]string{"X-Real-IP": "203.0.113.10"})
	assert.Equal(t, http.StatusOK, first.Code)

	second := doFrom(t, router, proxy, path, map[string]string{"X-Real-IP": "198.51.100.7"})
	assert.Equal(t, http.StatusOK, second.Code, "clients behind one proxy have separate quotas")

	again := doFrom(t, router, proxy, path, map[string]string{"X-Real-IP": "203.0.113.10"})
	assert.Equal(t, http.StatusTooManyRequests, again.Code)
}

func TestReadiness(t *testing.T) {
	healthy := newRouter(&mockTransactionService{}, &mockReportService{}, handlers.RouterConfig{
		Checks: map[string]handlers.ReadinessCheck{
			"postgres": func(context.Context) error { return nil },
		},
	})
	assert.Equal(t, http.StatusOK, do(t, healthy, http.MethodGet, "/readyz", nil, nil).Code)

	degraded := newRouter(&mockTransactionService{}, &mockReportService{}, handlers.RouterConfig{
		Checks: map[string]handlers.ReadinessCheck{
			"postgres": func(context.Context) error { return nil },
			"redis":    func(context.Context) error { return errors.New("connection refused") },
		},
	})
	rr := do(t, degraded, http.MethodGet, "/readyz", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	var status map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&status))
	assert.Equal(t, "ok", status["postgres"])
	assert.Equal(t, "connection refused", status["redis"])
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	met := metrics.New(reg)
	met.TransactionCreated("credit")

	router := newRouter(&mockTransactionService{}, &mockReportService{}, handlers.RouterConfig{Gatherer: reg})

	rr := do(t, router, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `ledger_transactions_created_total{type="credit"} 1`)
}
