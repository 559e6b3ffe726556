// Package handler exposes the JSON HTTP API. Authentication is terminated
// upstream; the verified user identity arrives in the X-User-ID header.
package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"trackify/internal/domain"
	"trackify/internal/usecase"
)

const userIDHeader = "X-User-ID"

// AssistantService runs one conversational turn.
type AssistantService interface {
	Answer(ctx context.Context, in usecase.TurnInput) (usecase.TurnOutput, error)
}

// AccountService links provider accounts and ingests transactions.
type AccountService interface {
	Link(ctx context.Context, userID uuid.UUID, code string) (domain.LinkedAccount, error)
	List(ctx context.Context, userID uuid.UUID) ([]domain.LinkedAccount, error)
	Sync(ctx context.Context, userID, accountID uuid.UUID) (int, error)
	ListTransactions(ctx context.Context, userID uuid.UUID) ([]domain.Transaction, error)
	RefreshBalance(ctx context.Context, providerAccountID string, balance int64) error
}

// InsightService derives and lists spending insights.
type InsightService interface {
	Generate(ctx context.Context, userID uuid.UUID) ([]domain.Insight, error)
	List(ctx context.Context, userID uuid.UUID) ([]domain.Insight, error)
}

// UserReader resolves the display data for a verified user id.
type UserReader interface {
	GetUser(ctx context.Context, id uuid.UUID) (domain.User, error)
}

// Handler routes the API.
type Handler struct {
	assistant     AssistantService
	accounts      AccountService
	insights      InsightService
	users         UserReader
	webhookSecret string
	log           *zap.Logger
}

// New creates a Handler.
func New(assistant AssistantService, accounts AccountService, insights InsightService, users UserReader, webhookSecret string, log *zap.Logger) (*Handler, error) {
	if assistant == nil {
		return nil, errors.New("handler: assistant service must not be nil")
	}
	if accounts == nil {
		return nil, errors.New("handler: account service must not be nil")
	}
	if insights == nil {
		return nil, errors.New("handler: insight service must not be nil")
	}
	if users == nil {
		return nil, errors.New("handler: user reader must not be nil")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		assistant:     assistant,
		accounts:      accounts,
		insights:      insights,
		users:         users,
		webhookSecret: webhookSecret,
		log:           log,
	}, nil
}

// Routes registers all endpoints on a fresh mux.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/assistant/query", h.assistantQuery)
	mux.HandleFunc("POST /api/v1/accounts/link", h.linkAccount)
	mux.HandleFunc("GET /api/v1/accounts", h.listAccounts)
	mux.HandleFunc("POST /api/v1/accounts/{id}/sync", h.syncAccount)
	mux.HandleFunc("GET /api/v1/transactions", h.listTransactions)
	mux.HandleFunc("POST /api/v1/insights/generate", h.generateInsights)
	mux.HandleFunc("GET /api/v1/insights", h.listInsights)
	mux.HandleFunc("POST /api/v1/webhooks/mono", h.monoWebhook)
	return mux
}

type envelope struct {
	Success bool   `json:"success"`
	Status  int    `json:"status"`
	Message string `json:"message"`
	Reply   string `json:"reply,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type assistantRequest struct {
	Message  string `json:"message"`
	ThreadID string `json:"thread_id"`
}

func (h *Handler) assistantQuery(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.verifiedUser(w, r)
	if !ok {
		return
	}

	var req assistantRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request format")
		return
	}
	if req.Message == "" {
		h.writeError(w, http.StatusBadRequest, "Invalid request format")
		return
	}
	threadID := req.ThreadID
	if threadID == "" {
		// One default thread per user keeps continuity without a client-side
		// thread concept.
		threadID = userID.String()
	}

	user, err := h.users.GetUser(r.Context(), userID)
	if err != nil {
		h.serveFailure(w, r, err)
		return
	}

	out, err := h.assistant.Answer(r.Context(), usecase.TurnInput{
		UserID:      userID,
		DisplayName: user.DisplayName(),
		Question:    req.Message,
		ThreadID:    threadID,
	})
	if err != nil {
		h.serveFailure(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Status:  http.StatusOK,
		Message: "AI response generated successfully",
		Reply:   out.Answer,
	})
}

type linkRequest struct {
	Code string `json:"code"`
}

func (h *Handler) linkAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.verifiedUser(w, r)
	if !ok {
		return
	}
	var req linkRequest
	if err := decodeJSON(r, &req); err != nil || req.Code == "" {
		h.writeError(w, http.StatusBadRequest, "Authorization code is required")
		return
	}

	account, err := h.accounts.Link(r.Context(), userID, req.Code)
	if err != nil {
		h.serveFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, envelope{
		Success: true,
		Status:  http.StatusCreated,
		Message: "Account linked successfully",
		Data:    accountView(account),
	})
}

func (h *Handler) listAccounts(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.verifiedUser(w, r)
	if !ok {
		return
	}
	accounts, err := h.accounts.List(r.Context(), userID)
	if err != nil {
		h.serveFailure(w, r, err)
		return
	}
	views := make([]map[string]any, 0, len(accounts))
	for _, a := range accounts {
		views = append(views, accountView(a))
	}
	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Status:  http.StatusOK,
		Message: "Accounts fetched successfully",
		Data:    views,
	})
}

func (h *Handler) syncAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.verifiedUser(w, r)
	if !ok {
		return
	}
	accountID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid account id")
		return
	}

	inserted, err := h.accounts.Sync(r.Context(), userID, accountID)
	if err != nil {
		h.serveFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Status:  http.StatusOK,
		Message: "Transactions synced successfully",
		Data:    map[string]int{"inserted": inserted},
	})
}

func (h *Handler) listTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.verifiedUser(w, r)
	if !ok {
		return
	}
	transactions, err := h.accounts.ListTransactions(r.Context(), userID)
	if err != nil {
		h.serveFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Status:  http.StatusOK,
		Message: "Transactions fetched successfully",
		Data:    transactionViews(transactions),
	})
}

func (h *Handler) generateInsights(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.verifiedUser(w, r)
	if !ok {
		return
	}
	insights, err := h.insights.Generate(r.Context(), userID)
	if err != nil {
		h.serveFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, envelope{
		Success: true,
		Status:  http.StatusCreated,
		Message: "Insights generated successfully",
		Data:    insightViews(insights),
	})
}

func (h *Handler) listInsights(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.verifiedUser(w, r)
	if !ok {
		return
	}
	insights, err := h.insights.List(r.Context(), userID)
	if err != nil {
		h.serveFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Status:  http.StatusOK,
		Message: "Insights fetched successfully",
		Data:    insightViews(insights),
	})
}

// webhookEvent is the provider's push payload.
type webhookEvent struct {
	Event string `json:"event"`
	Data  struct {
		Account struct {
			ID      string `json:"_id"`
			Balance int64  `json:"balance"`
		} `json:"account"`
	} `json:"data"`
}

func (h *Handler) monoWebhook(w http.ResponseWriter, r *http.Request) {
	secret := r.Header.Get("mono-webhook-secret")
	if h.webhookSecret == "" ||
		subtle.ConstantTimeCompare([]byte(secret), []byte(h.webhookSecret)) != 1 {
		h.writeError(w, http.StatusForbidden, "Unauthorized request")
		return
	}

	var event webhookEvent
	if err := decodeJSON(r, &event); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid payload")
		return
	}
	h.log.Info("webhook event received", zap.String("event", event.Event))

	if event.Event == "mono.events.account_updated" && event.Data.Account.ID != "" {
		if err := h.accounts.RefreshBalance(r.Context(), event.Data.Account.ID, event.Data.Account.Balance); err != nil {
			h.log.Error("webhook balance refresh failed", zap.Error(err))
			// Acknowledge anyway; the provider retries on non-2xx and the
			// balance converges on the next sync.
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// verifiedUser extracts the upstream-verified user identity.
func (h *Handler) verifiedUser(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := r.Header.Get(userIDHeader)
	if raw == "" {
		h.writeError(w, http.StatusUnauthorized, "Missing user identity")
		return uuid.Nil, false
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "Invalid user identity")
		return uuid.Nil, false
	}
	return userID, true
}

// serveFailure maps a usecase error to an HTTP status. Internal detail is
// logged server-side only; clients get a generic message.
func (h *Handler) serveFailure(w http.ResponseWriter, r *http.Request, err error) {
	var ucErr *usecase.Error
	if errors.As(err, &ucErr) && ucErr.Code == usecase.ErrorInvalidInput {
		h.writeError(w, http.StatusBadRequest, "Invalid request format")
		return
	}
	h.log.Error("request failed",
		zap.String("path", r.URL.Path),
		zap.Error(err))
	h.writeError(w, http.StatusInternalServerError, "Something went wrong. Please try again later.")
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Success: false, Status: status, Message: message})
}

func decodeJSON(r *http.Request, dst any) error {
	defer func() { _, _ = io.Copy(io.Discard, r.Body) }()
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// accountView is the client-facing account shape. Encrypted fields are never
// echoed back.
func accountView(a domain.LinkedAccount) map[string]any {
	return map[string]any{
		"id":           a.ID,
		"provider":     a.Provider,
		"account_name": a.AccountName,
		"account_type": a.AccountType,
		"currency":     a.Currency,
		"institution":  a.Institution,
		"created_at":   a.CreatedAt,
		"updated_at":   a.UpdatedAt,
	}
}

// transactionViews is the client-facing transaction shape. Amounts stay in
// minor units; the client formats currency.
func transactionViews(transactions []domain.Transaction) []map[string]any {
	views := make([]map[string]any, 0, len(transactions))
	for _, t := range transactions {
		views = append(views, map[string]any{
			"id":               t.ID,
			"account_id":       t.AccountID,
			"amount":           t.Amount,
			"currency":         t.Currency,
			"type":             t.Type,
			"category":         t.Category,
			"description":      t.NormalizedDescription,
			"transaction_date": t.TransactionDate,
		})
	}
	return views
}

func insightViews(insights []domain.Insight) []map[string]any {
	views := make([]map[string]any, 0, len(insights))
	for _, in := range insights {
		views = append(views, map[string]any{
			"id":         in.ID,
			"message":    in.Message,
			"type":       in.Type,
			"created_at": in.CreatedAt,
		})
	}
	return views
}
