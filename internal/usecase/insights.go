package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trackify/internal/domain"
)

const (
	insightWindow = 30 * 24 * time.Hour

	// highSpendThreshold is in major units (naira).
	highSpendThreshold = 100000
)

// TransactionReader lists a user's transactions for the insight window.
type TransactionReader interface {
	ListTransactionsSince(ctx context.Context, userID uuid.UUID, since time.Time) ([]domain.Transaction, error)
}

// InsightStore persists and lists derived insights.
type InsightStore interface {
	InsertInsights(ctx context.Context, insights []domain.Insight) error
	ListInsights(ctx context.Context, userID uuid.UUID) ([]domain.Insight, error)
}

// InsightService derives simple spending observations from the last 30 days
// of transactions.
type InsightService struct {
	transactions TransactionReader
	store        InsightStore
	log          *zap.Logger
	now          func() time.Time
}

func NewInsightService(transactions TransactionReader, store InsightStore, log *zap.Logger) (*InsightService, error) {
	if transactions == nil {
		return nil, errors.New("usecase: transaction reader must not be nil")
	}
	if store == nil {
		return nil, errors.New("usecase: insight store must not be nil")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &InsightService{
		transactions: transactions,
		store:        store,
		log:          log,
		now:          time.Now,
	}, nil
}

// Generate computes insights over the trailing window, persists them and
// returns the freshly created set.
func (s *InsightService) Generate(ctx context.Context, userID uuid.UUID) ([]domain.Insight, error) {
	if userID == uuid.Nil {
		return nil, newError(ErrorInvalidInput, "missing_user_id", nil)
	}
	since := s.now().Add(-insightWindow)
	transactions, err := s.transactions.ListTransactionsSince(ctx, userID, since)
	if err != nil {
		return nil, newError(ErrorInternal, "transaction_list_error", err)
	}

	insights := buildInsights(userID, transactions)
	if err := s.store.InsertInsights(ctx, insights); err != nil {
		return nil, newError(ErrorInternal, "insight_write_error", err)
	}
	s.log.Info("insights generated",
		zap.String("user_id", userID.String()), zap.Int("count", len(insights)))
	return insights, nil
}

// List returns all stored insights for a user.
func (s *InsightService) List(ctx context.Context, userID uuid.UUID) ([]domain.Insight, error) {
	if userID == uuid.Nil {
		return nil, newError(ErrorInvalidInput, "missing_user_id", nil)
	}
	insights, err := s.store.ListInsights(ctx, userID)
	if err != nil {
		return nil, newError(ErrorInternal, "insight_list_error", err)
	}
	return insights, nil
}

func buildInsights(userID uuid.UUID, transactions []domain.Transaction) []domain.Insight {
	totalSpent := decimal.Zero
	spentByCategory := make(map[string]decimal.Decimal)
	for _, tx := range transactions {
		if tx.Type != "debit" || tx.Amount <= 0 {
			continue
		}
		amount := domain.MinorToMajor(tx.Amount)
		totalSpent = totalSpent.Add(amount)
		spentByCategory[tx.Category] = spentByCategory[tx.Category].Add(amount)
	}

	insights := []domain.Insight{newInsight(userID, domain.InsightInfo,
		fmt.Sprintf("Total spent in the last 30 days: %s", totalSpent.StringFixed(2)))}

	if top, amount, ok := extremeCategory(spentByCategory, func(a, b decimal.Decimal) bool { return a.GreaterThan(b) }); ok {
		insights = append(insights, newInsight(userID, domain.InsightInfo,
			fmt.Sprintf("Top category in the last 30 days: %s with amount %s", top, amount.StringFixed(2))))
	}
	if bottom, amount, ok := extremeCategory(spentByCategory, func(a, b decimal.Decimal) bool { return a.LessThan(b) }); ok {
		insights = append(insights, newInsight(userID, domain.InsightInfo,
			fmt.Sprintf("Bottom category in the last 30 days: %s with amount %s", bottom, amount.StringFixed(2))))
	}
	if totalSpent.GreaterThan(decimal.NewFromInt(highSpendThreshold)) {
		insights = append(insights, newInsight(userID, domain.InsightWarning,
			"You've spent over 100000 this month. Consider reviewing your habits."))
	}
	return insights
}

// extremeCategory picks the category whose total wins under the given
// comparison, breaking ties by name so output is deterministic.
func extremeCategory(byCategory map[string]decimal.Decimal, wins func(a, b decimal.Decimal) bool) (string, decimal.Decimal, bool) {
	var (
		best       string
		bestAmount decimal.Decimal
		found      bool
	)
	for category, amount := range byCategory {
		if !found || wins(amount, bestAmount) || (amount.Equal(bestAmount) && category < best) {
			best, bestAmount, found = category, amount, true
		}
	}
	return best, bestAmount, found
}

func newInsight(userID uuid.UUID, kind, message string) domain.Insight {
	now := time.Now().UTC()
	return domain.Insight{
		ID:        uuid.New(),
		UserID:    userID,
		Message:   message,
		Type:      kind,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
