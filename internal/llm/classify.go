package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/finq/internal/model"
)

// FactSummary is the catalogue entry shown to the model: enough to pick a
// fact and fill its context, nothing more.
type FactSummary struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Schema      string `json:"parameters_schema,omitempty"`
}

// Intent is a classified question: which fact answers it and with what
// context. Confidence is the model's own 0-1 estimate.
type Intent struct {
	FactID     string         `json:"fact_id"`
	Context    map[string]any `json:"context"`
	Confidence float64        `json:"confidence"`
}

const classifySystem = `You route user questions about personal finances to named facts.
Given the fact catalogue and a question, reply with JSON only:
{"fact_id": "<id or empty string if no fact fits>", "context": {<parameters extracted from the question>}, "confidence": <0..1>}
Extract only parameters the fact's schema mentions. Dates are ISO (2006-01-02). Do not invent facts.`

// ClassifyIntent asks the model which catalogued fact answers the
// question. Returns nil when the model declines to pick one.
func ClassifyIntent(ctx context.Context, c Client, question string, facts []FactSummary) (*Intent, error) {
	catalogue, err := json.Marshal(facts)
	if err != nil {
		return nil, eris.Wrap(err, "llm: marshal catalogue")
	}

	user := fmt.Sprintf("Fact catalogue:\n%s\n\nQuestion: %s", catalogue, question)
	raw, err := c.Complete(ctx, classifySystem, user)
	if err != nil {
		return nil, err
	}

	var intent Intent
	if err := json.Unmarshal([]byte(extractJSON(raw)), &intent); err != nil {
		return nil, eris.Wrap(err, "llm: parse intent")
	}
	if intent.FactID == "" || strings.EqualFold(intent.FactID, "none") {
		zap.L().Debug("llm: no fact selected", zap.String("question", question))
		return nil, nil
	}
	if intent.Context == nil {
		intent.Context = map[string]any{}
	}
	return &intent, nil
}

// Draft is a model-proposed fact definition. Untrusted until the approval
// workflow has compiled it and run its test cases.
type Draft struct {
	Feasibility string           `json:"feasibility_analysis"`
	FactID      string           `json:"fact_id"`
	LogicType   string           `json:"logic_type"`
	Logic       string           `json:"logic"`
	Schema      string           `json:"parameters_schema,omitempty"`
	Template    string           `json:"output_template,omitempty"`
	TestCases   []model.TestCase `json:"test_cases,omitempty"`
}

const proposeSystem = `You design new facts for a personal-finance fact engine.
Facts reference dependency values as deps["<fact id>"] and context parameters by name.
Logic is either a single expression ("logic_type": "expression") or a short script
assigning the variable output ("logic_type": "code"). The base fact
ledger.all_transactions yields records with date, description, amount, account, category.
Reply with JSON only:
{"feasibility_analysis": "...", "fact_id": "<dotted id>", "logic_type": "expression|code",
 "logic": "...", "parameters_schema": "<JSON Schema or empty>", "output_template": "<or empty>",
 "test_cases": [{"context": {...}, "expected": ...}]}
If the question cannot be answered from the ledger, say so in feasibility_analysis and leave fact_id empty.`

// ProposeFact asks the model to draft a fact definition answering a
// question the catalogue cannot.
func ProposeFact(ctx context.Context, c Client, question string, facts []FactSummary) (*Draft, error) {
	catalogue, err := json.Marshal(facts)
	if err != nil {
		return nil, eris.Wrap(err, "llm: marshal catalogue")
	}

	user := fmt.Sprintf("Existing facts:\n%s\n\nUnanswered question: %s", catalogue, question)
	raw, err := c.Complete(ctx, proposeSystem, user)
	if err != nil {
		return nil, err
	}

	var draft Draft
	if err := json.Unmarshal([]byte(extractJSON(raw)), &draft); err != nil {
		return nil, eris.Wrap(err, "llm: parse draft")
	}
	return &draft, nil
}
