package handlers

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/spbu-ds-practicum-2025/retail-ledger/internal/domain"
)

// BaseError is the body of every error response
type BaseError struct {
	Code        string    `json:"code"`
	Description *string   `json:"description,omitempty"`
	Id          uuid.UUID `json:"id"`
}

// CreateTransactionRequest is the body of POST /v1/stores/{storeId}/transactions
type CreateTransactionRequest struct {
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// UpdateTransactionRequest is the body of PATCH /v1/transactions/{transactionId}
type UpdateTransactionRequest struct {
	Description *string `json:"description"`
}

// TransactionResponse is the API view of a transaction
type TransactionResponse struct {
	Id                        uuid.UUID       `json:"id"`
	StoreId                   uuid.UUID       `json:"storeId"`
	CreatedBy                 uuid.UUID       `json:"createdBy"`
	Amount                    decimal.Decimal `json:"amount"`
	Currency                  string          `json:"currency"`
	Type                      string          `json:"type"`
	AmountInReferenceCurrency decimal.Decimal `json:"amountInReferenceCurrency"`
	ReferenceCurrency         string          `json:"referenceCurrency"`
	Description               string          `json:"description"`
	CreatedAt                 time.Time       `json:"createdAt"`
	UpdatedAt                 time.Time       `json:"updatedAt"`
}

// ReportResponse is the body of GET /v1/stores/{storeId}/reports
type ReportResponse struct {
	StartDate    time.Time        `json:"startDate"`
	EndDate      time.Time        `json:"endDate"`
	Transactions []BucketResponse `json:"transactions"`
	Summary      SummaryResponse  `json:"summary"`
}

// BucketResponse is one time period of a report
type BucketResponse struct {
	TimePeriod   int                 `json:"timePeriod"`
	Label        string              `json:"label"`
	Transactions []TypeTotalResponse `json:"transactions"`
}

// TypeTotalResponse totals one transaction type inside a period
type TypeTotalResponse struct {
	Type        string          `json:"type"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	Count       int64           `json:"count"`
}

// SummaryResponse totals the whole report window
type SummaryResponse struct {
	TotalCredit      decimal.Decimal `json:"totalCredit"`
	TotalDebit       decimal.Decimal `json:"totalDebit"`
	TransactionCount int64           `json:"transactionCount"`
	NetFlow          decimal.Decimal `json:"netFlow"`
}

// LockStatusResponse is the body of GET /v1/stores/{storeId}/lock
type LockStatusResponse struct {
	StoreId uuid.UUID `json:"storeId"`
	Locked  bool      `json:"locked"`
}

func toTransactionResponse(tx *domain.Transaction) TransactionResponse {
	return TransactionResponse{
		Id:                        tx.ID,
		StoreId:                   tx.StoreID,
		CreatedBy:                 tx.CreatedBy,
		Amount:                    tx.Amount,
		Currency:                  tx.Currency,
		Type:                      string(tx.Type),
		AmountInReferenceCurrency: tx.AmountInReferenceCurrency,
		ReferenceCurrency:         tx.ReferenceCurrency,
		Description:               tx.Description,
		CreatedAt:                 tx.CreatedAt,
		UpdatedAt:                 tx.UpdatedAt,
	}
}

func toReportResponse(report *domain.Report) ReportResponse {
	buckets := make([]BucketResponse, 0, len(report.Buckets))
	for _, b := range report.Buckets {
		totals := make([]TypeTotalResponse, 0, len(b.Transactions))
		for _, tt := range b.Transactions {
			totals = append(totals, TypeTotalResponse{
				Type:        string(tt.Type),
				TotalAmount: tt.TotalAmount,
				Count:       tt.Count,
			})
		}
		buckets = append(buckets, BucketResponse{
			TimePeriod:   b.TimePeriod,
			Label:        b.Label,
			Transactions: totals,
		})
	}

	return ReportResponse{
		StartDate:    report.StartDate,
		EndDate:      report.EndDate,
		Transactions: buckets,
		Summary: SummaryResponse{
			TotalCredit:      report.Summary.TotalCredit,
			TotalDebit:       report.Summary.TotalDebit,
			TransactionCount: report.Summary.TransactionCount,
			NetFlow:          report.Summary.NetFlow,
		},
	}
}
