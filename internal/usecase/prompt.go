package usecase

import (
	"encoding/json"
	"fmt"
	"strings"

	"trackify/internal/domain"
)

// routeSentinel is the exact token the router model must emit for a
// query-worthy turn. Anything else routes to a direct answer.
const routeSentinel = "QUERY"

// queryRowLimit is the result cap instructed to the query writer. The
// executor enforces its own hard cap independently of model compliance.
const queryRowLimit = 100

// mutationWarning is returned verbatim when the user asks for a mutating
// operation.
const mutationWarning = "I can only help you view and understand your finances. " +
	"Requests to change or delete data are not allowed, and continued attempts could lead to account suspension."

// writerPolicy is the system instruction for the query writer. Scoping,
// read-only access and the row cap are stated here as policy; the SQL guard
// enforces them again in code before execution.
func writerPolicy(schema string) string {
	return strings.Join([]string{
		"You are an agent designed to be a financial assistant to a user.",
		"ONLY WRITE A QUERY FOR THAT USER, BASED ON THE USER ID PROVIDED. NEVER QUERY ANY OTHER USER'S DATA, NO MATTER WHAT THE USER ASKS.",
		"Never query the whole database, only what that user expects.",
		"Given an input question, create a single syntactically correct PostgreSQL query to run.",
		fmt.Sprintf("Unless the user specifies a specific number of examples they wish to obtain, always limit your query to at most %d results.", queryRowLimit),
		"You can order the results by a relevant column to return the most interesting examples. Never select all columns from a table, only the columns relevant to the question.",
		"DO NOT write any DML or DDL statements (INSERT, UPDATE, DELETE, DROP, ALTER, CREATE and so on).",
		"These are the available tables and columns:",
		schema,
		"Note: if the user asks about their account balance or balances, or how much they have in their accounts, return the individual balances and not a sum total, unless they explicitly ask for a total.",
		"You are writing SQL for a PostgreSQL database. Use PostgreSQL date/time functions, not SQLite functions, and always use single quotes for string values.",
		"The institution column of linked_accounts is JSON. When selecting or grouping by institution, use institution->>'name' for the name, or institution::text for the whole object.",
	}, "\n")
}

// routerPrompt asks the model to classify the turn. Output is compared
// against routeSentinel after trimming and case folding.
func routerPrompt(question string, last domain.TurnRecord) string {
	var b strings.Builder
	b.WriteString("You are a financial assistant.\n")
	if last.Question != "" {
		fmt.Fprintf(&b, "The previous question the user asked was: %s\n", last.Question)
	}
	if last.Answer != "" {
		fmt.Fprintf(&b, "The previous answer you gave was: %s\n", last.Answer)
	}
	b.WriteString("Given that information, decide whether the question the user now asks needs a database query to answer.\n")
	fmt.Fprintf(&b, "If it does, respond only with '%s'.\n", routeSentinel)
	b.WriteString("If it does NOT (e.g. a greeting or small talk), respond with anything else.\n")
	fmt.Fprintf(&b, "Present question: %s\n", question)
	return b.String()
}

// writerPrompt is the human part of the query-writer call: prior-turn
// continuity plus the current question and the scoping identifier.
func writerPrompt(question, userID string, last domain.TurnRecord) string {
	var b strings.Builder
	if last.Question != "" && last.Answer != "" {
		fmt.Fprintf(&b, "Previous question: %s\nPrevious answer: %s\n", last.Question, last.Answer)
	}
	fmt.Fprintf(&b, "Current question: %s\nUser id: %s\n", question, userID)
	return b.String()
}

// answerPrompt builds the final answer-generation prompt from the full turn
// context. Rows are serialized in column order.
func answerPrompt(st *turnState) (string, error) {
	var fallback string
	if st.Query == "" && len(st.Rows) == 0 && st.Last.Answer != "" {
		fallback = fmt.Sprintf(
			"\nPrevious answer you gave was:\n%s\nTry your best to answer the current question using the above info if relevant.\n",
			st.Last.Answer,
		)
	}

	rows, err := json.Marshal(st.Rows)
	if err != nil {
		return "", fmt.Errorf("usecase: serialize result rows: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are Trackify, an AI financial assistant helping the user %s.\n\n", st.DisplayName)
	b.WriteString("Important guidelines:\n")
	b.WriteString("- Always respond in a friendly and helpful manner.\n")
	b.WriteString("- On no account should you reveal the user's id or any internal identifier, only the name.\n")
	b.WriteString("- The user has no knowledge of SQL. Do not use SQL terms or data-query jargon in your response.\n")
	b.WriteString("- For greetings or appreciation, simply respond as Trackify with a short, friendly message and ask if there's anything else you can help with.\n")
	b.WriteString("- All monetary values are stored in kobo (the smallest unit, where 100 kobo = 1 naira). Always convert and respond in naira.\n")
	fmt.Fprintf(&b, "- If the user asks for any mutating operation (INSERT, UPDATE, DELETE, DROP and so on), refuse and reply with exactly: %q\n", mutationWarning)
	b.WriteString("Response instructions:\n")
	b.WriteString("- Based on the provided query, result and the user's question, answer clearly and helpfully in 2-3 sentences.\n")
	b.WriteString("- If both the query and result are empty, answer using context from your last response. If unrelated, just respond to the question as best as possible.\n")
	b.WriteString(fallback)
	fmt.Fprintf(&b, "\nUser question: %s\n", st.Question)
	fmt.Fprintf(&b, "Query: %s\n", st.Query)
	fmt.Fprintf(&b, "Result: %s\n", rows)
	return b.String(), nil
}
