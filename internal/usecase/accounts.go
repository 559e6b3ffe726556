package usecase

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"trackify/internal/domain"
	"trackify/internal/normalizer"
)

// Aggregator is the account-aggregation provider capability: exchange the
// link code, then pull account details and transactions.
type Aggregator interface {
	ExchangeToken(ctx context.Context, code string) (string, error)
	FetchAccount(ctx context.Context, providerAccountID string) (domain.ProviderAccount, error)
	FetchTransactions(ctx context.Context, providerAccountID string) ([]domain.ProviderTransaction, error)
}

// AccountStore persists linked accounts and their transactions.
type AccountStore interface {
	UpsertLinkedAccount(ctx context.Context, account domain.LinkedAccount) (domain.LinkedAccount, error)
	ListLinkedAccounts(ctx context.Context, userID uuid.UUID) ([]domain.LinkedAccount, error)
	GetLinkedAccount(ctx context.Context, userID, accountID uuid.UUID) (domain.LinkedAccount, error)
	UpdateAccountBalance(ctx context.Context, providerAccountID, balance string) error
	InsertTransactions(ctx context.Context, transactions []domain.Transaction) (int, error)
}

// Encrypter seals sensitive field values before they are persisted.
type Encrypter interface {
	Encrypt(plaintext string) (string, error)
}

// AccountService links provider accounts and ingests their transactions.
type AccountService struct {
	aggregator   Aggregator
	store        AccountStore
	transactions TransactionReader
	enc          Encrypter
	log          *zap.Logger
}

func NewAccountService(aggregator Aggregator, store AccountStore, transactions TransactionReader, enc Encrypter, log *zap.Logger) (*AccountService, error) {
	if aggregator == nil {
		return nil, errors.New("usecase: aggregator must not be nil")
	}
	if store == nil {
		return nil, errors.New("usecase: account store must not be nil")
	}
	if transactions == nil {
		return nil, errors.New("usecase: transaction reader must not be nil")
	}
	if enc == nil {
		return nil, errors.New("usecase: encrypter must not be nil")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &AccountService{
		aggregator:   aggregator,
		store:        store,
		transactions: transactions,
		enc:          enc,
		log:          log,
	}, nil
}

// Link exchanges the provider authorization code and stores the account with
// its sensitive fields encrypted.
func (s *AccountService) Link(ctx context.Context, userID uuid.UUID, code string) (domain.LinkedAccount, error) {
	if userID == uuid.Nil {
		return domain.LinkedAccount{}, newError(ErrorInvalidInput, "missing_user_id", nil)
	}
	if strings.TrimSpace(code) == "" {
		return domain.LinkedAccount{}, newError(ErrorInvalidInput, "missing_auth_code", nil)
	}

	providerAccountID, err := s.aggregator.ExchangeToken(ctx, code)
	if err != nil {
		return domain.LinkedAccount{}, newError(ErrorUpstream, "token_exchange_error", err)
	}
	details, err := s.aggregator.FetchAccount(ctx, providerAccountID)
	if err != nil {
		return domain.LinkedAccount{}, newError(ErrorUpstream, "account_fetch_error", err)
	}

	balance, err := s.enc.Encrypt(strconv.FormatInt(details.Balance, 10))
	if err != nil {
		return domain.LinkedAccount{}, newError(ErrorInternal, "balance_encrypt_error", err)
	}
	accountNumber := ""
	if details.AccountNumber != "" {
		accountNumber, err = s.enc.Encrypt(details.AccountNumber)
		if err != nil {
			return domain.LinkedAccount{}, newError(ErrorInternal, "account_number_encrypt_error", err)
		}
	}

	now := time.Now().UTC()
	account := domain.LinkedAccount{
		ID:                uuid.New(),
		UserID:            userID,
		Provider:          "mono",
		ProviderAccountID: details.ID,
		AccountName:       details.Name,
		AccountType:       details.Type,
		AccountNumber:     accountNumber,
		Currency:          details.Currency,
		Balance:           balance,
		Institution:       details.Institution,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	stored, err := s.store.UpsertLinkedAccount(ctx, account)
	if err != nil {
		return domain.LinkedAccount{}, newError(ErrorInternal, "account_write_error", err)
	}
	s.log.Info("account linked",
		zap.String("user_id", userID.String()),
		zap.String("provider_account_id", details.ID))
	return stored, nil
}

// List returns the user's linked accounts.
func (s *AccountService) List(ctx context.Context, userID uuid.UUID) ([]domain.LinkedAccount, error) {
	if userID == uuid.Nil {
		return nil, newError(ErrorInvalidInput, "missing_user_id", nil)
	}
	accounts, err := s.store.ListLinkedAccounts(ctx, userID)
	if err != nil {
		return nil, newError(ErrorInternal, "account_list_error", err)
	}
	return accounts, nil
}

// Sync pulls transactions for a linked account, normalizes and categorizes
// them, and stores new ones. Returns the number of transactions inserted;
// previously seen provider transaction ids are skipped.
func (s *AccountService) Sync(ctx context.Context, userID, accountID uuid.UUID) (int, error) {
	if userID == uuid.Nil || accountID == uuid.Nil {
		return 0, newError(ErrorInvalidInput, "missing_identifier", nil)
	}
	account, err := s.store.GetLinkedAccount(ctx, userID, accountID)
	if err != nil {
		return 0, newError(ErrorInternal, "account_load_error", err)
	}

	raw, err := s.aggregator.FetchTransactions(ctx, account.ProviderAccountID)
	if err != nil {
		return 0, newError(ErrorUpstream, "transaction_fetch_error", err)
	}

	now := time.Now().UTC()
	transactions := make([]domain.Transaction, 0, len(raw))
	for _, tx := range raw {
		transactions = append(transactions, domain.Transaction{
			ID:                    uuid.New(),
			AccountID:             account.ID,
			UserID:                userID,
			ProviderTransactionID: tx.ID,
			Amount:                tx.Amount,
			Currency:              tx.Currency,
			Type:                  tx.Type,
			Category:              normalizer.Categorize(tx.Narration),
			RawDescription:        tx.Narration,
			NormalizedDescription: normalizer.NormalizeDescription(tx.Narration),
			TransactionDate:       tx.Date,
			CreatedAt:             now,
			UpdatedAt:             now,
		})
	}

	inserted, err := s.store.InsertTransactions(ctx, transactions)
	if err != nil {
		return 0, newError(ErrorInternal, "transaction_write_error", err)
	}
	s.log.Info("account synced",
		zap.String("user_id", userID.String()),
		zap.String("account_id", accountID.String()),
		zap.Int("fetched", len(raw)),
		zap.Int("inserted", inserted))
	return inserted, nil
}

// ListTransactions returns all of the user's stored transactions, newest
// first.
func (s *AccountService) ListTransactions(ctx context.Context, userID uuid.UUID) ([]domain.Transaction, error) {
	if userID == uuid.Nil {
		return nil, newError(ErrorInvalidInput, "missing_user_id", nil)
	}
	transactions, err := s.transactions.ListTransactionsSince(ctx, userID, time.Time{})
	if err != nil {
		return nil, newError(ErrorInternal, "transaction_list_error", err)
	}
	return transactions, nil
}

// RefreshBalance re-encrypts and stores an updated balance pushed by the
// provider webhook.
func (s *AccountService) RefreshBalance(ctx context.Context, providerAccountID string, balance int64) error {
	if strings.TrimSpace(providerAccountID) == "" {
		return newError(ErrorInvalidInput, "missing_provider_account_id", nil)
	}
	sealed, err := s.enc.Encrypt(strconv.FormatInt(balance, 10))
	if err != nil {
		return newError(ErrorInternal, "balance_encrypt_error", err)
	}
	if err := s.store.UpdateAccountBalance(ctx, providerAccountID, sealed); err != nil {
		return newError(ErrorInternal, "balance_write_error", err)
	}
	return nil
}
