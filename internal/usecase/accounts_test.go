package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"trackify/internal/domain"
)

type mockAggregator struct {
	accountID       string
	exchangeErr     error
	account         domain.ProviderAccount
	accountErr      error
	transactions    []domain.ProviderTransaction
	transactionsErr error
	exchangedCode   string
}

func (m *mockAggregator) ExchangeToken(_ context.Context, code string) (string, error) {
	m.exchangedCode = code
	return m.accountID, m.exchangeErr
}

func (m *mockAggregator) FetchAccount(_ context.Context, _ string) (domain.ProviderAccount, error) {
	return m.account, m.accountErr
}

func (m *mockAggregator) FetchTransactions(_ context.Context, _ string) ([]domain.ProviderTransaction, error) {
	return m.transactions, m.transactionsErr
}

type mockAccountStore struct {
	upserted     domain.LinkedAccount
	account      domain.LinkedAccount
	transactions []domain.Transaction
	balance      string
	err          error
}

func (m *mockAccountStore) UpsertLinkedAccount(_ context.Context, a domain.LinkedAccount) (domain.LinkedAccount, error) {
	m.upserted = a
	return a, m.err
}

func (m *mockAccountStore) ListLinkedAccounts(_ context.Context, _ uuid.UUID) ([]domain.LinkedAccount, error) {
	return []domain.LinkedAccount{m.account}, m.err
}

func (m *mockAccountStore) GetLinkedAccount(_ context.Context, _, _ uuid.UUID) (domain.LinkedAccount, error) {
	return m.account, m.err
}

func (m *mockAccountStore) UpdateAccountBalance(_ context.Context, _ string, balance string) error {
	m.balance = balance
	return m.err
}

func (m *mockAccountStore) InsertTransactions(_ context.Context, transactions []domain.Transaction) (int, error) {
	m.transactions = transactions
	return len(transactions), m.err
}

type prefixEncrypter struct{ err error }

func (e *prefixEncrypter) Encrypt(plaintext string) (string, error) {
	if e.err != nil {
		return "", e.err
	}
	return "enc:v1:" + plaintext, nil
}

func TestLink_EncryptsSensitiveFields(t *testing.T) {
	userID := uuid.New()
	aggregator := &mockAggregator{
		accountID: "acc_123",
		account: domain.ProviderAccount{
			ID:            "acc_123",
			Name:          "Ada Obi",
			Type:          "savings",
			AccountNumber: "0123456789",
			Currency:      "NGN",
			Balance:       250000,
			Institution:   map[string]any{"name": "GTBank"},
		},
	}
	store := &mockAccountStore{}
	svc, err := NewAccountService(aggregator, store, &mockTransactionReader{}, &prefixEncrypter{}, nil)
	require.NoError(t, err)

	account, err := svc.Link(context.Background(), userID, "code-1")
	require.NoError(t, err)
	require.Equal(t, "code-1", aggregator.exchangedCode)
	require.Equal(t, "mono", account.Provider)
	require.Equal(t, "enc:v1:250000", store.upserted.Balance)
	require.Equal(t, "enc:v1:0123456789", store.upserted.AccountNumber)
	require.Equal(t, userID, store.upserted.UserID)
	require.Equal(t, "GTBank", store.upserted.Institution["name"])
}

func TestLink_RequiresCode(t *testing.T) {
	svc, err := NewAccountService(&mockAggregator{}, &mockAccountStore{}, &mockTransactionReader{}, &prefixEncrypter{}, nil)
	require.NoError(t, err)

	_, err = svc.Link(context.Background(), uuid.New(), "  ")
	var ucErr *Error
	require.ErrorAs(t, err, &ucErr)
	require.Equal(t, ErrorInvalidInput, ucErr.Code)
}

func TestLink_UpstreamFailure(t *testing.T) {
	svc, err := NewAccountService(
		&mockAggregator{exchangeErr: errors.New("provider down")},
		&mockAccountStore{},
		&mockTransactionReader{},
		&prefixEncrypter{},
		nil,
	)
	require.NoError(t, err)

	_, err = svc.Link(context.Background(), uuid.New(), "code-1")
	var ucErr *Error
	require.ErrorAs(t, err, &ucErr)
	require.Equal(t, ErrorUpstream, ucErr.Code)
}

func TestSync_NormalizesAndCategorizes(t *testing.T) {
	userID := uuid.New()
	accountID := uuid.New()
	aggregator := &mockAggregator{
		transactions: []domain.ProviderTransaction{
			{ID: "tx-1", Amount: 12000, Currency: "NGN", Type: "debit", Narration: "POS PURCHASE SPAR LEKKI", Date: time.Now()},
			{ID: "tx-2", Amount: 450000, Currency: "NGN", Type: "debit", Narration: "NETFLIX.COM SUBSCRIPTION", Date: time.Now()},
		},
	}
	store := &mockAccountStore{account: domain.LinkedAccount{ID: accountID, UserID: userID, ProviderAccountID: "acc_123"}}
	svc, err := NewAccountService(aggregator, store, &mockTransactionReader{}, &prefixEncrypter{}, nil)
	require.NoError(t, err)

	inserted, err := svc.Sync(context.Background(), userID, accountID)
	require.NoError(t, err)
	require.Equal(t, 2, inserted)
	require.Len(t, store.transactions, 2)

	first := store.transactions[0]
	require.Equal(t, "Spar Supermarket", first.NormalizedDescription)
	require.Equal(t, "food & drink", first.Category)
	require.Equal(t, "POS PURCHASE SPAR LEKKI", first.RawDescription)
	require.Equal(t, accountID, first.AccountID)
	require.Equal(t, userID, first.UserID)

	second := store.transactions[1]
	require.Equal(t, "Netflix", second.NormalizedDescription)
	require.Equal(t, "entertainment", second.Category)
}

func TestRefreshBalance_EncryptsBeforeWrite(t *testing.T) {
	store := &mockAccountStore{}
	svc, err := NewAccountService(&mockAggregator{}, store, &mockTransactionReader{}, &prefixEncrypter{}, nil)
	require.NoError(t, err)

	require.NoError(t, svc.RefreshBalance(context.Background(), "acc_123", 990000))
	require.Equal(t, "enc:v1:990000", store.balance)
}

func TestListTransactions_ReturnsFullHistory(t *testing.T) {
	reader := &mockTransactionReader{transactions: []domain.Transaction{
		{ProviderTransactionID: "tx-2", Amount: 450000},
		{ProviderTransactionID: "tx-1", Amount: 12000},
	}}
	svc, err := NewAccountService(&mockAggregator{}, &mockAccountStore{}, reader, &prefixEncrypter{}, nil)
	require.NoError(t, err)

	transactions, err := svc.ListTransactions(context.Background(), uuid.New())
	require.NoError(t, err)
	require.Len(t, transactions, 2)
	require.Equal(t, "tx-2", transactions[0].ProviderTransactionID)
	// Zero lower bound: the full stored history, not a trailing window.
	require.True(t, reader.since.IsZero())
}

func TestListTransactions_RequiresUserID(t *testing.T) {
	svc, err := NewAccountService(&mockAggregator{}, &mockAccountStore{}, &mockTransactionReader{}, &prefixEncrypter{}, nil)
	require.NoError(t, err)

	_, err = svc.ListTransactions(context.Background(), uuid.Nil)
	var ucErr *Error
	require.ErrorAs(t, err, &ucErr)
	require.Equal(t, ErrorInvalidInput, ucErr.Code)
}
