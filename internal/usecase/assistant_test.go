package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"trackify/internal/domain"
	"trackify/internal/security"
)

const testSchema = "Table linked_accounts: id (uuid), user_id (uuid), balance (text), institution (json)\n" +
	"Table transactions: id (uuid), user_id (uuid), amount (bigint), category (text)"

type mockLLM struct {
	generateResponses []string
	generateErrs      []error
	generateCalls     int
	generatePrompts   []string

	queryResponse string
	queryErr      error
	queryCalls    int
	querySystem   string
	queryPrompt   string
}

func (m *mockLLM) Generate(_ context.Context, prompt string) (string, error) {
	idx := m.generateCalls
	m.generateCalls++
	m.generatePrompts = append(m.generatePrompts, prompt)
	var err error
	if idx < len(m.generateErrs) {
		err = m.generateErrs[idx]
	}
	if err != nil {
		return "", err
	}
	if idx >= len(m.generateResponses) {
		return "", errors.New("no response configured")
	}
	return m.generateResponses[idx], nil
}

func (m *mockLLM) GenerateQuery(_ context.Context, system, prompt string) (string, error) {
	m.queryCalls++
	m.querySystem = system
	m.queryPrompt = prompt
	return m.queryResponse, m.queryErr
}

type mockExecutor struct {
	rows      []domain.Row
	err       error
	calls     int
	lastQuery string
}

func (m *mockExecutor) ExecuteReadOnly(_ context.Context, stmt string) ([]domain.Row, error) {
	m.calls++
	m.lastQuery = stmt
	return m.rows, m.err
}

type mockDecrypter struct {
	plaintexts map[string]string
	err        error
}

func (m *mockDecrypter) IsCiphertext(v string) bool {
	return security.IsCiphertext(v)
}

func (m *mockDecrypter) Decrypt(ciphertext string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	p, ok := m.plaintexts[ciphertext]
	if !ok {
		return "", errors.New("unknown ciphertext")
	}
	return p, nil
}

func newTestAssistant(t *testing.T, llm *mockLLM, exec *mockExecutor, threads ThreadStore) *Assistant {
	t.Helper()
	if threads == nil {
		threads = NewMemoryThreadStore()
	}
	a, err := NewAssistant(llm, exec, threads, &mockDecrypter{plaintexts: map[string]string{}}, testSchema, nil)
	require.NoError(t, err)
	return a
}

func scopedSelect(userID uuid.UUID) string {
	return fmt.Sprintf("SELECT balance FROM linked_accounts WHERE user_id = '%s' LIMIT 100", userID)
}

func TestNewAssistant_ValidatesDependencies(t *testing.T) {
	threads := NewMemoryThreadStore()
	dec := &mockDecrypter{}

	_, err := NewAssistant(nil, &mockExecutor{}, threads, dec, testSchema, nil)
	require.Error(t, err)
	_, err = NewAssistant(&mockLLM{}, nil, threads, dec, testSchema, nil)
	require.Error(t, err)
	_, err = NewAssistant(&mockLLM{}, &mockExecutor{}, nil, dec, testSchema, nil)
	require.Error(t, err)
	_, err = NewAssistant(&mockLLM{}, &mockExecutor{}, threads, dec, "  ", nil)
	require.Error(t, err)
}

func TestAnswer_ValidatesInput(t *testing.T) {
	a := newTestAssistant(t, &mockLLM{}, &mockExecutor{}, nil)

	cases := []struct {
		name string
		in   TurnInput
	}{
		{"empty question", TurnInput{UserID: uuid.New(), ThreadID: "th-1"}},
		{"missing user", TurnInput{Question: "hi", ThreadID: "th-1"}},
		{"missing thread", TurnInput{UserID: uuid.New(), Question: "hi"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := a.Answer(context.Background(), tc.in)
			var ucErr *Error
			require.ErrorAs(t, err, &ucErr)
			require.Equal(t, ErrorInvalidInput, ucErr.Code)
		})
	}
}

func TestAnswer_NonQueryTurnNeverInvokesExecutor(t *testing.T) {
	llm := &mockLLM{generateResponses: []string{"CHAT", "Hello! How can I help with your finances today?"}}
	exec := &mockExecutor{}
	a := newTestAssistant(t, llm, exec, nil)

	out, err := a.Answer(context.Background(), TurnInput{
		UserID:      uuid.New(),
		DisplayName: "Ada",
		Question:    "hello",
		ThreadID:    "th-1",
	})
	require.NoError(t, err)
	require.Zero(t, exec.calls)
	require.Zero(t, llm.queryCalls)
	require.Empty(t, out.Query)
	require.Equal(t, "Hello! How can I help with your finances today?", out.Answer)
}

func TestAnswer_QueryTurnRunsFullChain(t *testing.T) {
	userID := uuid.New()
	stmt := scopedSelect(userID)
	llm := &mockLLM{
		generateResponses: []string{"query", "You have 2,500.00 naira across your accounts."},
		queryResponse:     stmt,
	}
	exec := &mockExecutor{rows: []domain.Row{
		domain.NewRow([]string{"balance"}, []any{"250000"}),
	}}
	threads := NewMemoryThreadStore()
	a := newTestAssistant(t, llm, exec, threads)

	out, err := a.Answer(context.Background(), TurnInput{
		UserID:      userID,
		DisplayName: "Ada",
		Question:    "What's my balance?",
		ThreadID:    "th-1",
	})
	require.NoError(t, err)
	require.Equal(t, 1, exec.calls)
	require.Equal(t, stmt, exec.lastQuery)
	require.Contains(t, exec.lastQuery, userID.String())
	require.Equal(t, stmt, out.Query)
	require.Equal(t, "You have 2,500.00 naira across your accounts.", out.Answer)

	// The router sentinel comparison is case-insensitive after trimming.
	require.Equal(t, 2, llm.generateCalls)

	// Writer got the policy plus the scoping identifier.
	require.Contains(t, llm.querySystem, "PostgreSQL")
	require.Contains(t, llm.querySystem, testSchema)
	require.Contains(t, llm.queryPrompt, userID.String())

	// The completed turn is folded back into thread state.
	turn, ok, err := threads.LastTurn(context.Background(), "th-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "What's my balance?", turn.Question)
	require.Equal(t, stmt, turn.Query)
	require.Equal(t, out.Answer, turn.Answer)
}

func TestAnswer_RouterFailureIsFatal(t *testing.T) {
	llm := &mockLLM{generateErrs: []error{errors.New("model unavailable")}}
	exec := &mockExecutor{}
	a := newTestAssistant(t, llm, exec, nil)

	_, err := a.Answer(context.Background(), TurnInput{
		UserID: uuid.New(), Question: "What's my balance?", ThreadID: "th-1",
	})
	var ucErr *Error
	require.ErrorAs(t, err, &ucErr)
	require.Equal(t, ErrorRoutingFailed, ucErr.Code)
	require.Zero(t, exec.calls)
}

func TestAnswer_UnscopedStatementIsRejectedBeforeExecution(t *testing.T) {
	llm := &mockLLM{
		generateResponses: []string{"QUERY"},
		queryResponse:     "SELECT balance FROM linked_accounts LIMIT 100",
	}
	exec := &mockExecutor{}
	a := newTestAssistant(t, llm, exec, nil)

	_, err := a.Answer(context.Background(), TurnInput{
		UserID: uuid.New(), Question: "show all balances", ThreadID: "th-1",
	})
	var ucErr *Error
	require.ErrorAs(t, err, &ucErr)
	require.Equal(t, ErrorQueryRejected, ucErr.Code)
	require.Zero(t, exec.calls)
}

func TestAnswer_MutatingStatementIsRejectedBeforeExecution(t *testing.T) {
	userID := uuid.New()
	llm := &mockLLM{
		generateResponses: []string{"QUERY"},
		queryResponse:     fmt.Sprintf("DELETE FROM transactions WHERE user_id = '%s'", userID),
	}
	exec := &mockExecutor{}
	a := newTestAssistant(t, llm, exec, nil)

	_, err := a.Answer(context.Background(), TurnInput{
		UserID: userID, Question: "delete everything", ThreadID: "th-1",
	})
	var ucErr *Error
	require.ErrorAs(t, err, &ucErr)
	require.Equal(t, ErrorQueryRejected, ucErr.Code)
	require.Zero(t, exec.calls)
}

func TestAnswer_ExecutionFailureIsFatal(t *testing.T) {
	userID := uuid.New()
	llm := &mockLLM{
		generateResponses: []string{"QUERY"},
		queryResponse:     scopedSelect(userID),
	}
	exec := &mockExecutor{err: errors.New("relation does not exist")}
	a := newTestAssistant(t, llm, exec, nil)

	_, err := a.Answer(context.Background(), TurnInput{
		UserID: userID, Question: "What's my balance?", ThreadID: "th-1",
	})
	var ucErr *Error
	require.ErrorAs(t, err, &ucErr)
	require.Equal(t, ErrorQueryExecution, ucErr.Code)
}

func TestAnswer_AnswerFailureIsFatal(t *testing.T) {
	llm := &mockLLM{
		generateResponses: []string{"CHAT"},
		generateErrs:      []error{nil, errors.New("model unavailable")},
	}
	a := newTestAssistant(t, llm, &mockExecutor{}, nil)

	_, err := a.Answer(context.Background(), TurnInput{
		UserID: uuid.New(), Question: "hello", ThreadID: "th-1",
	})
	var ucErr *Error
	require.ErrorAs(t, err, &ucErr)
	require.Equal(t, ErrorAnswerFailed, ucErr.Code)
}

func TestAnswer_FollowUpCarriesPriorTurnContext(t *testing.T) {
	userID := uuid.New()
	stmt := scopedSelect(userID)

	// Turn 1: query-worthy.
	llm := &mockLLM{
		generateResponses: []string{"QUERY", "You spent 120.00 naira at Spar Supermarket."},
		queryResponse:     stmt,
	}
	exec := &mockExecutor{rows: []domain.Row{
		domain.NewRow([]string{"amount", "normalized_description"}, []any{int64(12000), "Spar Supermarket"}),
	}}
	threads := NewMemoryThreadStore()
	a := newTestAssistant(t, llm, exec, threads)

	in := TurnInput{UserID: userID, DisplayName: "Ada", ThreadID: "th-1"}
	in.Question = "What was my last purchase?"
	_, err := a.Answer(context.Background(), in)
	require.NoError(t, err)

	// Turn 2: non-query follow-up. The generator must receive the prior Q/A
	// and must not fail for lack of fresh rows.
	llm2 := &mockLLM{generateResponses: []string{"CHAT", "That was at Spar Supermarket."}}
	exec2 := &mockExecutor{}
	a2, err := NewAssistant(llm2, exec2, threads, &mockDecrypter{}, testSchema, nil)
	require.NoError(t, err)

	in.Question = "and where was that?"
	out, err := a2.Answer(context.Background(), in)
	require.NoError(t, err)
	require.Zero(t, exec2.calls)
	require.Equal(t, "That was at Spar Supermarket.", out.Answer)

	routed := llm2.generatePrompts[0]
	require.Contains(t, routed, "What was my last purchase?")
	require.Contains(t, routed, "You spent 120.00 naira at Spar Supermarket.")

	final := llm2.generatePrompts[1]
	require.Contains(t, final, "Previous answer you gave was")
	require.Contains(t, final, "You spent 120.00 naira at Spar Supermarket.")
}

func TestAnswer_EndToEndBalanceScenario(t *testing.T) {
	userID := uuid.New()
	cipher, err := security.NewCipher("MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY=")
	require.NoError(t, err)
	sealed, err := cipher.Encrypt("250000")
	require.NoError(t, err)

	stmt := scopedSelect(userID)
	llm := &mockLLM{
		generateResponses: []string{"QUERY", "Hi Ada, you currently have 2,500.00 naira in your GTBank savings account."},
		queryResponse:     stmt,
	}
	exec := &mockExecutor{rows: []domain.Row{
		domain.NewRow([]string{"balance"}, []any{sealed}),
	}}
	a, err := NewAssistant(llm, exec, NewMemoryThreadStore(), cipher, testSchema, nil)
	require.NoError(t, err)

	out, err := a.Answer(context.Background(), TurnInput{
		UserID:      userID,
		DisplayName: "Ada",
		Question:    "What's my balance?",
		ThreadID:    "th-1",
	})
	require.NoError(t, err)

	// The generator saw the decrypted minor-unit amount plus the conversion
	// instruction, and the final answer never echoes the user's identifier.
	finalPrompt := llm.generatePrompts[1]
	require.Contains(t, finalPrompt, "250000")
	require.NotContains(t, finalPrompt, security.Marker)
	require.Contains(t, finalPrompt, "100 kobo = 1 naira")
	require.NotContains(t, out.Answer, userID.String())
	require.Contains(t, out.Answer, "2,500.00")
}

func TestMemoryThreadStore_IsolatesThreads(t *testing.T) {
	store := NewMemoryThreadStore()
	ctx := context.Background()

	require.NoError(t, store.SaveTurn(ctx, "th-1", domain.TurnRecord{Question: "q1", Answer: "a1"}))
	require.NoError(t, store.SaveTurn(ctx, "th-2", domain.TurnRecord{Question: "q2", Answer: "a2"}))

	turn, ok, err := store.LastTurn(ctx, "th-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "q1", turn.Question)

	_, ok, err = store.LastTurn(ctx, "th-missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestWriterPolicy_EncodesConstraints(t *testing.T) {
	policy := writerPolicy(testSchema)
	require.Contains(t, policy, "at most 100 results")
	require.Contains(t, policy, "PostgreSQL")
	require.Contains(t, policy, "institution->>'name'")
	require.Contains(t, policy, "NEVER QUERY ANY OTHER USER'S DATA")
	require.Contains(t, policy, testSchema)
}

func TestAnswerPrompt_SerializesRowsInColumnOrder(t *testing.T) {
	st := &turnState{
		DisplayName: "Ada",
		Question:    "What's my balance?",
		Query:       "SELECT balance, currency FROM linked_accounts",
		Rows: []domain.Row{
			domain.NewRow([]string{"balance", "currency"}, []any{"250000", "NGN"}),
		},
	}
	prompt, err := answerPrompt(st)
	require.NoError(t, err)
	require.Contains(t, prompt, `[{"balance":"250000","currency":"NGN"}]`)
	require.Contains(t, prompt, "Ada")
	require.NotContains(t, prompt, "Previous answer you gave was")
	require.True(t, strings.Contains(prompt, mutationWarning))
}
