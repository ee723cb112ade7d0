package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/spbu-ds-practicum-2025/retail-ledger/internal/domain"
)

// invalidArgumentErrors map to 400 Bad Request
var invalidArgumentErrors = []error{
	domain.ErrInvalidAmount,
	domain.ErrInvalidCurrency,
	domain.ErrUnsupportedCurrency,
	domain.ErrInvalidTransactionType,
	domain.ErrInvalidStore,
	domain.ErrInvalidDescription,
	domain.ErrInvalidReportRequest,
}

// StatusClientClosedRequest is the non-standard status for a request the
// client abandoned before it completed.
const StatusClientClosedRequest = 499

// handleDomainError converts domain errors to HTTP responses
func handleDomainError(w http.ResponseWriter, logger logrus.FieldLogger, err error) {
	switch {
	case errors.Is(err, context.Canceled):
		logger.WithError(err).Debug("request canceled by client")
		sendErrorResponse(w, StatusClientClosedRequest, "REQUEST_CANCELED", "Request was canceled")
	case errors.Is(err, context.DeadlineExceeded):
		logger.WithError(err).Warn("request deadline exceeded")
		sendErrorResponse(w, http.StatusGatewayTimeout, "TIMEOUT", "Request timed out")
	case errors.Is(err, domain.ErrTransactionInProgress):
		sendErrorResponse(w, http.StatusConflict, "TRANSACTION_IN_PROGRESS", err.Error())
	case errors.Is(err, domain.ErrRatesUnavailable):
		sendErrorResponse(w, http.StatusServiceUnavailable, "RATES_UNAVAILABLE", err.Error())
	case errors.Is(err, domain.ErrTransactionNotFound):
		sendErrorResponse(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case isInvalidArgument(err):
		sendErrorResponse(w, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error())
	default:
		logger.WithError(err).Error("request failed")
		sendErrorResponse(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
	}
}

func isInvalidArgument(err error) bool {
	for _, target := range invalidArgumentErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// sendErrorResponse sends an error response in the expected format
func sendErrorResponse(w http.ResponseWriter, statusCode int, code, details string) {
	errorResp := BaseError{
		Code:        code,
		Description: &details,
		Id:          uuid.New(),
	}
	sendJSON(w, statusCode, errorResp)
}

func sendJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}
