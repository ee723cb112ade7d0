package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/spbu-ds-practicum-2025/retail-ledger/internal/domain"
)

// UserIDHeader carries the identifier of the user recording a transaction
const UserIDHeader = "X-User-Id"

// TransactionService is what the HTTP layer needs from the transaction workflow
type TransactionService interface {
	CreateTransaction(ctx context.Context, req domain.CreateTransactionRequest) (*domain.Transaction, error)
	GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	UpdateDescription(ctx context.Context, id uuid.UUID, description string) (*domain.Transaction, error)
	IsStoreLocked(ctx context.Context, storeID uuid.UUID) (bool, error)
}

// ReportService is what the HTTP layer needs from the report aggregator
type ReportService interface {
	GenerateReport(ctx context.Context, req domain.ReportRequest) (*domain.Report, error)
}

// Handler serves the ledger HTTP API
type Handler struct {
	transactions TransactionService
	reports      ReportService
	logger       logrus.FieldLogger
}

// NewHandler creates a new Handler with the given services
func NewHandler(transactions TransactionService, reports ReportService, logger logrus.FieldLogger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{
		transactions: transactions,
		reports:      reports,
		logger:       logger,
	}
}

// CreateTransaction handles POST /v1/stores/{storeId}/transactions
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	storeID, ok := pathUUID(w, r, "storeId")
	if !ok {
		return
	}

	createdBy, err := uuid.Parse(r.Header.Get(UserIDHeader))
	if err != nil {
		sendErrorResponse(w, http.StatusBadRequest, "INVALID_REQUEST", UserIDHeader+" header must be a UUID")
		return
	}

	// Parse request body
	var body CreateTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		sendErrorResponse(w, http.StatusBadRequest, "INVALID_REQUEST", "Failed to parse request body: "+err.Error())
		return
	}

	amount, err := domain.ParseAmount(body.Amount)
	if err != nil {
		handleDomainError(w, h.logger, err)
		return
	}
	txType, err := domain.ParseTransactionType(body.Type)
	if err != nil {
		handleDomainError(w, h.logger, err)
		return
	}

	tx, err := h.transactions.CreateTransaction(r.Context(), domain.CreateTransactionRequest{
		StoreID:     storeID,
		CreatedBy:   createdBy,
		Amount:      amount,
		Currency:    body.Currency,
		Type:        txType,
		Description: body.Description,
	})
	if err != nil {
		handleDomainError(w, h.logger, err)
		return
	}

	sendJSON(w, http.StatusCreated, toTransactionResponse(tx))
}

// GetTransaction handles GET /v1/transactions/{transactionId}
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "transactionId")
	if !ok {
		return
	}

	tx, err := h.transactions.GetTransaction(r.Context(), id)
	if err != nil {
		handleDomainError(w, h.logger, err)
		return
	}

	sendJSON(w, http.StatusOK, toTransactionResponse(tx))
}

// UpdateTransaction handles PATCH /v1/transactions/{transactionId}.
// Only the description is mutable.
func (h *Handler) UpdateTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "transactionId")
	if !ok {
		return
	}

	var body UpdateTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		sendErrorResponse(w, http.StatusBadRequest, "INVALID_REQUEST", "Failed to parse request body: "+err.Error())
		return
	}
	if body.Description == nil {
		sendErrorResponse(w, http.StatusBadRequest, "INVALID_REQUEST", "description is required")
		return
	}

	tx, err := h.transactions.UpdateDescription(r.Context(), id, *body.Description)
	if err != nil {
		handleDomainError(w, h.logger, err)
		return
	}

	sendJSON(w, http.StatusOK, toTransactionResponse(tx))
}

// GetStoreLock handles GET /v1/stores/{storeId}/lock
func (h *Handler) GetStoreLock(w http.ResponseWriter, r *http.Request) {
	storeID, ok := pathUUID(w, r, "storeId")
	if !ok {
		return
	}

	locked, err := h.transactions.IsStoreLocked(r.Context(), storeID)
	if err != nil {
		handleDomainError(w, h.logger, err)
		return
	}

	sendJSON(w, http.StatusOK, LockStatusResponse{StoreId: storeID, Locked: locked})
}

// GetReport handles GET /v1/stores/{storeId}/reports
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	storeID, ok := pathUUID(w, r, "storeId")
	if !ok {
		return
	}

	query := r.URL.Query()
	duration, err := domain.ParseReportDuration(query.Get("durationType"))
	if err != nil {
		handleDomainError(w, h.logger, err)
		return
	}
	startDate, err := domain.ParseStartDate(query.Get("startDate"))
	if err != nil {
		handleDomainError(w, h.logger, err)
		return
	}
	groupBy, err := domain.ParseGroupBy(query.Get("groupBy"))
	if err != nil {
		handleDomainError(w, h.logger, err)
		return
	}

	report, err := h.reports.GenerateReport(r.Context(), domain.ReportRequest{
		StoreID:   storeID,
		Duration:  duration,
		StartDate: startDate,
		GroupBy:   groupBy,
	})
	if err != nil {
		handleDomainError(w, h.logger, err)
		return
	}

	sendJSON(w, http.StatusOK, toReportResponse(report))
}

// pathUUID parses a UUID path parameter, answering 400 when it is malformed
func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		sendErrorResponse(w, http.StatusBadRequest, "INVALID_REQUEST", name+" must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}
