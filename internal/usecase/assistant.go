// Package usecase holds the service orchestration layers: the
// conversational-query pipeline, account linking and ingest, and spending
// insights.
package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"trackify/internal/domain"
)

// LLM is the language-model capability consumed by the pipeline: free-text
// completion plus a structured single-field completion that yields exactly
// one SQL statement.
type LLM interface {
	Generate(ctx context.Context, prompt string) (string, error)
	GenerateQuery(ctx context.Context, system, prompt string) (string, error)
}

// QueryExecutor runs one statement on a read-only path and returns all rows
// as ordered field maps.
type QueryExecutor interface {
	ExecuteReadOnly(ctx context.Context, stmt string) ([]domain.Row, error)
}

// ThreadStore keeps per-thread conversation state. Implementations must be
// safe for concurrent use across distinct threads; callers serialize turns
// within one thread.
type ThreadStore interface {
	LastTurn(ctx context.Context, threadID string) (domain.TurnRecord, bool, error)
	SaveTurn(ctx context.Context, threadID string, turn domain.TurnRecord) error
}

// Assistant is the conversational-query pipeline. One call to Answer is one
// synchronous turn; there is no shared mutable pipeline state, all per-turn
// data lives in a turnState owned by the call.
type Assistant struct {
	llm     LLM
	exec    QueryExecutor
	threads ThreadStore
	dec     Decrypter
	schema  string
	log     *zap.Logger
}

// TurnInput is one user turn handed in by the HTTP layer with a verified
// identity.
type TurnInput struct {
	UserID      uuid.UUID
	DisplayName string
	Question    string
	ThreadID    string
}

// TurnOutput is the answer plus the trace data for the turn.
type TurnOutput struct {
	Answer string
	Query  string
	Rows   []domain.Row
}

// NewAssistant wires the pipeline. schema is the textual description of the
// queryable tables, produced once at boot and interpolated into the writer
// prompt.
func NewAssistant(llm LLM, exec QueryExecutor, threads ThreadStore, dec Decrypter, schema string, log *zap.Logger) (*Assistant, error) {
	if llm == nil {
		return nil, errors.New("usecase: llm must not be nil")
	}
	if exec == nil {
		return nil, errors.New("usecase: query executor must not be nil")
	}
	if threads == nil {
		return nil, errors.New("usecase: thread store must not be nil")
	}
	if strings.TrimSpace(schema) == "" {
		return nil, errors.New("usecase: schema description must not be empty")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Assistant{
		llm:     llm,
		exec:    exec,
		threads: threads,
		dec:     dec,
		schema:  schema,
		log:     log,
	}, nil
}

// step names a pipeline node. Each node function returns the next step, so
// the control flow stays inspectable without a graph framework.
type step int

const (
	stepRoute step = iota
	stepWriteQuery
	stepExecute
	stepRedact
	stepAnswer
	stepDone
)

// turnState is the per-turn working state. Last carries the prior completed
// turn for continuity.
type turnState struct {
	UserID      uuid.UUID
	DisplayName string
	ThreadID    string
	Question    string
	Query       string
	Rows        []domain.Row
	Answer      string
	Last        domain.TurnRecord
}

// Answer runs one turn: route, then either the query chain or a direct
// answer. Every node failure is fatal for the turn.
func (a *Assistant) Answer(ctx context.Context, in TurnInput) (TurnOutput, error) {
	question := strings.TrimSpace(in.Question)
	if question == "" {
		return TurnOutput{}, newError(ErrorInvalidInput, "empty_question", nil)
	}
	if in.UserID == uuid.Nil {
		return TurnOutput{}, newError(ErrorInvalidInput, "missing_user_id", nil)
	}
	threadID := strings.TrimSpace(in.ThreadID)
	if threadID == "" {
		return TurnOutput{}, newError(ErrorInvalidInput, "missing_thread_id", nil)
	}

	last, _, err := a.threads.LastTurn(ctx, threadID)
	if err != nil {
		return TurnOutput{}, newError(ErrorInternal, "thread_load_error", err)
	}

	st := &turnState{
		UserID:      in.UserID,
		DisplayName: in.DisplayName,
		ThreadID:    threadID,
		Question:    question,
		Last:        last,
	}

	for s := stepRoute; s != stepDone; {
		var next step
		var stepErr error
		switch s {
		case stepRoute:
			next, stepErr = a.route(ctx, st)
		case stepWriteQuery:
			next, stepErr = a.writeQuery(ctx, st)
		case stepExecute:
			next, stepErr = a.execute(ctx, st)
		case stepRedact:
			next, stepErr = a.redact(st)
		case stepAnswer:
			next, stepErr = a.generateAnswer(ctx, st)
		default:
			return TurnOutput{}, newError(ErrorInternal, "unknown_step", nil)
		}
		if stepErr != nil {
			return TurnOutput{}, stepErr
		}
		s = next
	}

	turn := domain.TurnRecord{
		Question: st.Question,
		Answer:   st.Answer,
		Query:    st.Query,
		At:       time.Now().UTC(),
	}
	if err := a.threads.SaveTurn(ctx, threadID, turn); err != nil {
		return TurnOutput{}, newError(ErrorInternal, "thread_save_error", err)
	}

	return TurnOutput{Answer: st.Answer, Query: st.Query, Rows: st.Rows}, nil
}

// route decides whether the turn needs a query at all. A failed model call is
// a hard failure for the turn, never a silent default to either branch.
func (a *Assistant) route(ctx context.Context, st *turnState) (step, error) {
	verdict, err := a.llm.Generate(ctx, routerPrompt(st.Question, st.Last))
	if err != nil {
		return stepDone, newError(ErrorRoutingFailed, "router_model_error", err)
	}
	if strings.EqualFold(strings.TrimSpace(verdict), routeSentinel) {
		a.log.Debug("turn routed to query chain", zap.String("thread_id", st.ThreadID))
		return stepWriteQuery, nil
	}
	a.log.Debug("turn routed to direct answer", zap.String("thread_id", st.ThreadID))
	return stepAnswer, nil
}

// writeQuery asks the model for exactly one statement and validates it
// against the scoping and read-only rules before it can reach the executor.
func (a *Assistant) writeQuery(ctx context.Context, st *turnState) (step, error) {
	stmt, err := a.llm.GenerateQuery(ctx, writerPolicy(a.schema), writerPrompt(st.Question, st.UserID.String(), st.Last))
	if err != nil {
		return stepDone, newError(ErrorQueryWriter, "writer_model_error", err)
	}
	stmt = SanitizeStatement(stmt)
	if stmt == "" {
		return stepDone, newError(ErrorQueryWriter, "writer_empty_statement", nil)
	}
	if err := ValidateStatement(stmt, st.UserID); err != nil {
		a.log.Warn("generated statement rejected",
			zap.String("thread_id", st.ThreadID), zap.Error(err))
		return stepDone, newError(ErrorQueryRejected, "statement_rejected", err)
	}
	st.Query = stmt
	return stepExecute, nil
}

// execute runs the validated statement. A malformed or rejected statement
// surfaces as an error, never as an empty result.
func (a *Assistant) execute(ctx context.Context, st *turnState) (step, error) {
	rows, err := a.exec.ExecuteReadOnly(ctx, st.Query)
	if err != nil {
		return stepDone, newError(ErrorQueryExecution, "execution_error", err)
	}
	st.Rows = rows
	return stepRedact, nil
}

// redact reverses field-level encryption in the result rows, best effort.
func (a *Assistant) redact(st *turnState) (step, error) {
	decryptRows(st.Rows, a.dec, a.log)
	return stepAnswer, nil
}

// generateAnswer phrases the final reply from the full turn context.
func (a *Assistant) generateAnswer(ctx context.Context, st *turnState) (step, error) {
	prompt, err := answerPrompt(st)
	if err != nil {
		return stepDone, newError(ErrorInternal, "answer_prompt_error", err)
	}
	answer, err := a.llm.Generate(ctx, prompt)
	if err != nil {
		return stepDone, newError(ErrorAnswerFailed, "answer_model_error", err)
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return stepDone, newError(ErrorAnswerFailed, "answer_empty", nil)
	}
	st.Answer = answer
	return stepDone, nil
}
