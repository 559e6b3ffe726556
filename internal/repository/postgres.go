// Package repository holds the persistence layers: the Postgres finance store
// and the DynamoDB conversation-thread store.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"trackify/internal/domain"
)

// defaultMaxResultRows is the fallback cap on rows returned by the read-only
// executor when no limit is configured. The query writer is instructed to
// LIMIT its statements, but the cap here holds regardless of model compliance.
const defaultMaxResultRows = 500

// Postgres is the relational finance store.
type Postgres struct {
	db      *sql.DB
	maxRows int
}

// OpenPostgres opens a connection pool against the given DSN and verifies it.
// maxRows caps the read-only executor; values <= 0 fall back to the default.
func OpenPostgres(ctx context.Context, dsn string, maxOpenConns, maxRows int) (*Postgres, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("repository: database dsn must not be empty")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("repository: open postgres: %w", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("repository: ping postgres: %w", err)
	}
	return NewPostgres(db, maxRows)
}

// NewPostgres wraps an existing handle (tests).
func NewPostgres(db *sql.DB, maxRows int) (*Postgres, error) {
	if db == nil {
		return nil, errors.New("repository: db must not be nil")
	}
	if maxRows <= 0 {
		maxRows = defaultMaxResultRows
	}
	return &Postgres{db: db, maxRows: maxRows}, nil
}

// Close releases the connection pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}

// ExecuteReadOnly runs one statement inside a read-only transaction and
// returns every row as an ordered field map. The database rejects any write
// attempt regardless of the statement's content; results are capped at the
// configured row limit.
func (p *Postgres) ExecuteReadOnly(ctx context.Context, stmt string) ([]domain.Row, error) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("repository: begin read-only tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("repository: execute statement: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("repository: read columns: %w", err)
	}

	var result []domain.Row
	for rows.Next() {
		if len(result) >= p.maxRows {
			break
		}
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, fmt.Errorf("repository: scan row: %w", err)
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		result = append(result, domain.NewRow(columns, values))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: iterate rows: %w", err)
	}
	return result, nil
}

// SchemaDescription builds a textual description of the queryable tables for
// the writer prompt, from information_schema, in ordinal column order.
func (p *Postgres) SchemaDescription(ctx context.Context) (string, error) {
	const q = `
		SELECT table_name, column_name, data_type
		FROM information_schema.columns
		WHERE table_schema = 'public'
		ORDER BY table_name, ordinal_position`

	rows, err := p.db.QueryContext(ctx, q)
	if err != nil {
		return "", fmt.Errorf("repository: describe schema: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var (
		b         strings.Builder
		lastTable string
		first     = true
	)
	for rows.Next() {
		var table, column, dataType string
		if err := rows.Scan(&table, &column, &dataType); err != nil {
			return "", fmt.Errorf("repository: scan schema row: %w", err)
		}
		if table != lastTable {
			if !first {
				b.WriteString("\n")
			}
			fmt.Fprintf(&b, "Table %s:", table)
			lastTable = table
			first = false
		} else {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, " %s (%s)", column, dataType)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("repository: iterate schema rows: %w", err)
	}
	if first {
		return "", errors.New("repository: no tables found in public schema")
	}
	return b.String(), nil
}

// GetUser loads a user by id.
func (p *Postgres) GetUser(ctx context.Context, id uuid.UUID) (domain.User, error) {
	const q = `
		SELECT id, email, first_name, last_name, is_email_verified, created_at, updated_at
		FROM users WHERE id = $1`

	var u domain.User
	err := p.db.QueryRowContext(ctx, q, id).Scan(
		&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.IsEmailVerified, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, fmt.Errorf("repository: user %s not found", id)
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("repository: get user: %w", err)
	}
	return u, nil
}

// UpsertLinkedAccount inserts a linked account or refreshes it when the
// provider account was linked before.
func (p *Postgres) UpsertLinkedAccount(ctx context.Context, a domain.LinkedAccount) (domain.LinkedAccount, error) {
	institution, err := json.Marshal(a.Institution)
	if err != nil {
		return domain.LinkedAccount{}, fmt.Errorf("repository: marshal institution: %w", err)
	}

	const q = `
		INSERT INTO linked_accounts
			(id, user_id, provider, provider_account_id, account_name, account_type,
			 account_number, currency, balance, institution, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (user_id, provider_account_id) DO UPDATE SET
			account_name = EXCLUDED.account_name,
			account_type = EXCLUDED.account_type,
			account_number = EXCLUDED.account_number,
			currency = EXCLUDED.currency,
			balance = EXCLUDED.balance,
			institution = EXCLUDED.institution,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at`

	stored := a
	err = p.db.QueryRowContext(ctx, q,
		a.ID, a.UserID, a.Provider, a.ProviderAccountID, a.AccountName, a.AccountType,
		a.AccountNumber, a.Currency, a.Balance, institution, a.CreatedAt, a.UpdatedAt,
	).Scan(&stored.ID, &stored.CreatedAt)
	if err != nil {
		return domain.LinkedAccount{}, fmt.Errorf("repository: upsert linked account: %w", err)
	}
	return stored, nil
}

// GetLinkedAccount loads one of the user's linked accounts.
func (p *Postgres) GetLinkedAccount(ctx context.Context, userID, accountID uuid.UUID) (domain.LinkedAccount, error) {
	const q = `
		SELECT id, user_id, provider, provider_account_id, account_name, account_type,
		       account_number, currency, balance, institution, created_at, updated_at
		FROM linked_accounts WHERE user_id = $1 AND id = $2`

	a, err := scanLinkedAccount(p.db.QueryRowContext(ctx, q, userID, accountID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.LinkedAccount{}, fmt.Errorf("repository: linked account %s not found", accountID)
	}
	if err != nil {
		return domain.LinkedAccount{}, fmt.Errorf("repository: get linked account: %w", err)
	}
	return a, nil
}

// ListLinkedAccounts returns the user's linked accounts, newest first.
func (p *Postgres) ListLinkedAccounts(ctx context.Context, userID uuid.UUID) ([]domain.LinkedAccount, error) {
	const q = `
		SELECT id, user_id, provider, provider_account_id, account_name, account_type,
		       account_number, currency, balance, institution, created_at, updated_at
		FROM linked_accounts WHERE user_id = $1
		ORDER BY created_at DESC`

	rows, err := p.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("repository: list linked accounts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var accounts []domain.LinkedAccount
	for rows.Next() {
		a, err := scanLinkedAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: scan linked account: %w", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: iterate linked accounts: %w", err)
	}
	return accounts, nil
}

// UpdateAccountBalance stores an updated (already encrypted) balance for a
// provider account.
func (p *Postgres) UpdateAccountBalance(ctx context.Context, providerAccountID, balance string) error {
	const q = `
		UPDATE linked_accounts SET balance = $2, updated_at = $3
		WHERE provider_account_id = $1`

	res, err := p.db.ExecContext(ctx, q, providerAccountID, balance, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("repository: update balance: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("repository: update balance affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("repository: no account with provider id %q", providerAccountID)
	}
	return nil
}

// InsertTransactions stores transactions, skipping provider transaction ids
// already seen. Returns the number inserted.
func (p *Postgres) InsertTransactions(ctx context.Context, transactions []domain.Transaction) (int, error) {
	if len(transactions) == 0 {
		return 0, nil
	}

	const q = `
		INSERT INTO transactions
			(id, account_id, user_id, provider_transaction_id, amount, currency, type,
			 category, raw_description, normalized_description, transaction_date,
			 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (provider_transaction_id) DO NOTHING`

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("repository: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	inserted := 0
	for _, t := range transactions {
		res, err := tx.ExecContext(ctx, q,
			t.ID, t.AccountID, t.UserID, t.ProviderTransactionID, t.Amount, t.Currency,
			t.Type, t.Category, t.RawDescription, t.NormalizedDescription,
			t.TransactionDate, t.CreatedAt, t.UpdatedAt)
		if err != nil {
			return 0, fmt.Errorf("repository: insert transaction %s: %w", t.ProviderTransactionID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("repository: insert transaction affected rows: %w", err)
		}
		inserted += int(affected)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("repository: commit transactions: %w", err)
	}
	return inserted, nil
}

// ListTransactionsSince returns the user's transactions on or after since,
// newest first.
func (p *Postgres) ListTransactionsSince(ctx context.Context, userID uuid.UUID, since time.Time) ([]domain.Transaction, error) {
	const q = `
		SELECT id, account_id, user_id, provider_transaction_id, amount, currency, type,
		       category, raw_description, normalized_description, transaction_date,
		       created_at, updated_at
		FROM transactions
		WHERE user_id = $1 AND transaction_date >= $2
		ORDER BY transaction_date DESC`

	rows, err := p.db.QueryContext(ctx, q, userID, since)
	if err != nil {
		return nil, fmt.Errorf("repository: list transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var transactions []domain.Transaction
	for rows.Next() {
		var t domain.Transaction
		if err := rows.Scan(
			&t.ID, &t.AccountID, &t.UserID, &t.ProviderTransactionID, &t.Amount,
			&t.Currency, &t.Type, &t.Category, &t.RawDescription,
			&t.NormalizedDescription, &t.TransactionDate, &t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("repository: scan transaction: %w", err)
		}
		transactions = append(transactions, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: iterate transactions: %w", err)
	}
	return transactions, nil
}

// InsertInsights stores a batch of derived insights.
func (p *Postgres) InsertInsights(ctx context.Context, insights []domain.Insight) error {
	if len(insights) == 0 {
		return nil
	}

	const q = `
		INSERT INTO insights (id, user_id, message, type, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("repository: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, in := range insights {
		if _, err := tx.ExecContext(ctx, q,
			in.ID, in.UserID, in.Message, in.Type, in.CreatedAt, in.UpdatedAt); err != nil {
			return fmt.Errorf("repository: insert insight: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("repository: commit insights: %w", err)
	}
	return nil
}

// ListInsights returns all insights for a user, newest first.
func (p *Postgres) ListInsights(ctx context.Context, userID uuid.UUID) ([]domain.Insight, error) {
	const q = `
		SELECT id, user_id, message, type, created_at, updated_at
		FROM insights WHERE user_id = $1
		ORDER BY created_at DESC`

	rows, err := p.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("repository: list insights: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var insights []domain.Insight
	for rows.Next() {
		var in domain.Insight
		if err := rows.Scan(&in.ID, &in.UserID, &in.Message, &in.Type, &in.CreatedAt, &in.UpdatedAt); err != nil {
			return nil, fmt.Errorf("repository: scan insight: %w", err)
		}
		insights = append(insights, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: iterate insights: %w", err)
	}
	return insights, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for shared scan helpers.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanLinkedAccount(s rowScanner) (domain.LinkedAccount, error) {
	var (
		a           domain.LinkedAccount
		institution []byte
	)
	if err := s.Scan(
		&a.ID, &a.UserID, &a.Provider, &a.ProviderAccountID, &a.AccountName,
		&a.AccountType, &a.AccountNumber, &a.Currency, &a.Balance, &institution,
		&a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return domain.LinkedAccount{}, err
	}
	if len(institution) > 0 {
		if err := json.Unmarshal(institution, &a.Institution); err != nil {
			return domain.LinkedAccount{}, fmt.Errorf("unmarshal institution: %w", err)
		}
	}
	return a, nil
}
