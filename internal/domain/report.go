package domain

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// ReportService aggregates a store's transactions over a window.
type ReportService struct {
	source ReportSource
	logger logrus.FieldLogger
}

// NewReportService creates a ReportService reading from source. When source
// also implements PeriodAggregator the grouping runs on the store side.
func NewReportService(source ReportSource, logger logrus.FieldLogger) *ReportService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ReportService{source: source, logger: logger}
}

// GenerateReport computes per-period totals and a window summary:
// 1. Derive the exclusive end date from the duration
// 2. Group the store's transactions in [start, end) by (period, type)
// 3. Re-group by period into buckets, newest period first
// 4. Total credits, debits and count for the summary
//
// An empty window yields no buckets and a zero summary.
func (s *ReportService) GenerateReport(ctx context.Context, req ReportRequest) (*Report, error) {
	if err := ValidateReportRequest(req); err != nil {
		return nil, err
	}

	start := req.StartDate.UTC()
	end := ReportEndDate(req.Duration, start)

	rows, err := s.periodTotals(ctx, req.StoreID, start, end, req.GroupBy)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate transactions: %w", err)
	}

	report := &Report{
		StoreID:   req.StoreID,
		StartDate: start,
		EndDate:   end,
		GroupBy:   req.GroupBy,
		Buckets:   BuildBuckets(rows, req.GroupBy),
		Summary:   Summarize(rows),
	}

	s.logger.WithFields(logrus.Fields{
		"store_id": req.StoreID,
		"group_by": req.GroupBy,
		"start":    start.Format(time.DateOnly),
		"end":      end.Format(time.DateOnly),
		"buckets":  len(report.Buckets),
	}).Debug("report generated")

	return report, nil
}

func (s *ReportService) periodTotals(ctx context.Context, storeID uuid.UUID, start, end time.Time, groupBy GroupBy) ([]PeriodTotal, error) {
	if agg, ok := s.source.(PeriodAggregator); ok {
		return agg.AggregateByPeriod(ctx, storeID, start, end, groupBy)
	}

	txs, err := s.source.FindByStoreRange(ctx, storeID, start, end)
	if err != nil {
		return nil, err
	}
	return GroupByPeriod(txs, groupBy), nil
}

// ReportEndDate returns the exclusive end of the window starting at start.
// Month windows follow time.AddDate normalization, so Jan 31 ends on Mar 2
// or Mar 3.
func ReportEndDate(duration ReportDuration, start time.Time) time.Time {
	if duration == ReportDurationMonth {
		return start.AddDate(0, 1, 0)
	}
	return start.AddDate(0, 0, 7)
}

// PeriodKey maps t (in UTC) to its bucket number for groupBy.
func PeriodKey(groupBy GroupBy, t time.Time) int {
	t = t.UTC()
	switch groupBy {
	case GroupByMonth:
		return int(t.Month())
	case GroupByYear:
		return t.Year()
	default:
		// time.Sunday is 0
		return int(t.Weekday()) + 1
	}
}

// PeriodLabel names a bucket number: weekday name, month name or year.
func PeriodLabel(groupBy GroupBy, period int) string {
	switch groupBy {
	case GroupByMonth:
		return time.Month(period).String()
	case GroupByYear:
		return strconv.Itoa(period)
	default:
		return time.Weekday(period - 1).String()
	}
}

type periodType struct {
	period int
	txType TransactionType
}

// GroupByPeriod sums AmountInReferenceCurrency and counts transactions per
// (period, type). Rows come out newest period first, credit before debit.
func GroupByPeriod(txs []*Transaction, groupBy GroupBy) []PeriodTotal {
	totals := make(map[periodType]*PeriodTotal)
	for _, tx := range txs {
		k := periodType{period: PeriodKey(groupBy, tx.CreatedAt), txType: tx.Type}
		row, ok := totals[k]
		if !ok {
			row = &PeriodTotal{TimePeriod: k.period, Type: k.txType, TotalAmount: decimal.Zero}
			totals[k] = row
		}
		row.TotalAmount = row.TotalAmount.Add(tx.AmountInReferenceCurrency)
		row.Count++
	}

	rows := make([]PeriodTotal, 0, len(totals))
	for _, row := range totals {
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].TimePeriod != rows[j].TimePeriod {
			return rows[i].TimePeriod > rows[j].TimePeriod
		}
		return rows[i].Type < rows[j].Type
	})
	return rows
}

// BuildBuckets folds (period, type) rows into one bucket per period, sorted
// descending by period. Duplicate rows for the same pair are merged.
func BuildBuckets(rows []PeriodTotal, groupBy GroupBy) []Bucket {
	byPeriod := make(map[int]map[TransactionType]*TypeTotal)
	for _, row := range rows {
		types, ok := byPeriod[row.TimePeriod]
		if !ok {
			types = make(map[TransactionType]*TypeTotal)
			byPeriod[row.TimePeriod] = types
		}
		tt, ok := types[row.Type]
		if !ok {
			tt = &TypeTotal{Type: row.Type, TotalAmount: decimal.Zero}
			types[row.Type] = tt
		}
		tt.TotalAmount = tt.TotalAmount.Add(row.TotalAmount)
		tt.Count += row.Count
	}

	buckets := make([]Bucket, 0, len(byPeriod))
	for period, types := range byPeriod {
		b := Bucket{
			TimePeriod:   period,
			Label:        PeriodLabel(groupBy, period),
			Transactions: make([]TypeTotal, 0, len(types)),
		}
		for _, tt := range types {
			b.Transactions = append(b.Transactions, *tt)
		}
		sort.Slice(b.Transactions, func(i, j int) bool {
			return b.Transactions[i].Type < b.Transactions[j].Type
		})
		buckets = append(buckets, b)
	}
	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].TimePeriod > buckets[j].TimePeriod
	})
	return buckets
}

// Summarize totals rows regardless of period. NetFlow is credits minus debits.
func Summarize(rows []PeriodTotal) Summary {
	sum := Summary{
		TotalCredit: decimal.Zero,
		TotalDebit:  decimal.Zero,
	}
	for _, row := range rows {
		switch row.Type {
		case TransactionTypeCredit:
			sum.TotalCredit = sum.TotalCredit.Add(row.TotalAmount)
		case TransactionTypeDebit:
			sum.TotalDebit = sum.TotalDebit.Add(row.TotalAmount)
		}
		sum.TransactionCount += row.Count
	}
	sum.NetFlow = sum.TotalCredit.Sub(sum.TotalDebit)
	return sum
}
