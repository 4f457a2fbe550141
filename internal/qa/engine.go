// Package qa turns questions into answers: route to a fact, resolve it,
// format the value, and persist the question/answer pair with links to
// the fact instances behind it.
package qa

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/finq/internal/llm"
	"github.com/sells-group/finq/internal/model"
	"github.com/sells-group/finq/internal/resolve"
	"github.com/sells-group/finq/internal/router"
)

// Store is the slice of persistence the engine records into.
type Store interface {
	CreateQuestion(ctx context.Context, q *model.Question) error
	CreateAnswer(ctx context.Context, a *model.Answer) error
	CreateProposal(ctx context.Context, p *model.TaxonomyProposal) error
}

// Engine answers questions. The llm client is optional; without it,
// unrouted questions get the unanswerable reply and no proposal.
type Engine struct {
	store    Store
	resolver *resolve.Resolver
	router   *router.Router
	llm      llm.Client
}

// New assembles an engine. Pass nil for llmClient to disable the
// classification fallback and proposal drafting.
func New(store Store, resolver *resolve.Resolver, rt *router.Router, llmClient llm.Client) *Engine {
	return &Engine{store: store, resolver: resolver, router: rt, llm: llmClient}
}

// Router exposes the intent router, e.g. for refresh endpoints.
func (e *Engine) Router() *router.Router {
	return e.router
}

// Resolver exposes the fact resolver for direct resolution paths.
func (e *Engine) Resolver() *resolve.Resolver {
	return e.resolver
}

const (
	msgUnanswerable = "I don't know how to answer that yet."
	msgProposed     = "I don't know how to answer that yet. A new fact has been drafted for review."
	msgFailed       = "I could not compute an answer to that question."
)

// Result is one answered (or unanswerable) question.
type Result struct {
	Question *model.Question     `json:"question"`
	Answer   *model.Answer       `json:"answer"`
	Instance *model.FactInstance `json:"instance,omitempty"`
}

// Ask answers a question. The extra context carries request-scoped keys
// (user, session) that never reach the cache key but do reach fact logic.
// Ask only errors on engine misconfiguration or persistence failure;
// per-question computation failures come back as an apologetic answer.
func (e *Engine) Ask(ctx context.Context, text, userID string, extra map[string]any) (*Result, error) {
	q := &model.Question{Text: text, UserID: userID}
	if err := e.store.CreateQuestion(ctx, q); err != nil {
		return nil, eris.Wrap(err, "qa: persist question")
	}

	version, extracted := e.router.Route(text)
	factID := ""
	if version != nil {
		factID = version.FactID
	}

	if factID == "" && e.llm != nil {
		intent, err := llm.ClassifyIntent(ctx, e.llm, text, e.catalogue())
		if err != nil {
			zap.L().Warn("qa: intent classification failed", zap.Error(err))
		} else if intent != nil {
			if _, ok := e.resolver.Registry().Get(intent.FactID); ok {
				factID = intent.FactID
				extracted = intent.Context
				zap.L().Debug("qa: llm routed question",
					zap.String("fact", factID),
					zap.Float64("confidence", intent.Confidence))
			}
		}
	}

	if factID == "" {
		return e.unanswerable(ctx, q)
	}

	params := make(map[string]any, len(extra)+len(extracted)+1)
	for k, v := range extra {
		params[k] = v
	}
	for k, v := range extracted {
		params[k] = v
	}
	if userID != "" {
		params["user"] = userID
	}

	inst, err := e.resolver.Resolve(ctx, factID, params)
	if err != nil {
		if resolve.IsConfiguration(err) {
			return nil, err
		}
		zap.L().Warn("qa: resolution failed",
			zap.String("fact", factID),
			zap.Error(err))
		return e.answer(ctx, q, inst, msgFailed, "")
	}
	if inst.Status == model.InstanceError {
		return e.answer(ctx, q, inst, msgFailed, "")
	}

	spec, _ := e.resolver.Registry().Get(factID)
	text = FormatAnswer(spec, inst, params)
	return e.answer(ctx, q, inst, text, "")
}

// unanswerable records the miss and, when the llm collaborator is
// present, drafts a taxonomy proposal for review.
func (e *Engine) unanswerable(ctx context.Context, q *model.Question) (*Result, error) {
	if e.llm == nil {
		return e.answer(ctx, q, nil, msgUnanswerable, "")
	}

	draft, err := llm.ProposeFact(ctx, e.llm, q.Text, e.catalogue())
	if err != nil || draft == nil || draft.FactID == "" {
		if err != nil {
			zap.L().Warn("qa: proposal drafting failed", zap.Error(err))
		}
		return e.answer(ctx, q, nil, msgUnanswerable, "")
	}

	p := &model.TaxonomyProposal{
		Question:         q.Text,
		Feasibility:      draft.Feasibility,
		ProposedFactID:   draft.FactID,
		ProposedLogic:    draft.Logic,
		ProposedSchema:   draft.Schema,
		ProposedTemplate: draft.Template,
		TestCases:        draft.TestCases,
		Status:           model.ProposalPending,
	}
	if err := e.store.CreateProposal(ctx, p); err != nil {
		return nil, eris.Wrap(err, "qa: persist proposal")
	}
	zap.L().Info("qa: taxonomy proposal drafted",
		zap.String("proposal", p.ID),
		zap.String("fact", p.ProposedFactID))
	return e.answer(ctx, q, nil, msgProposed, p.ID)
}

func (e *Engine) answer(ctx context.Context, q *model.Question, inst *model.FactInstance, text, proposalID string) (*Result, error) {
	a := &model.Answer{
		QuestionID: q.ID,
		Text:       text,
		ProposalID: proposalID,
	}
	if inst != nil {
		a.FactInstanceIDs = []string{inst.ID}
	}
	if err := e.store.CreateAnswer(ctx, a); err != nil {
		return nil, eris.Wrap(err, "qa: persist answer")
	}
	return &Result{Question: q, Answer: a, Instance: inst}, nil
}

func (e *Engine) catalogue() []llm.FactSummary {
	all := e.resolver.Registry().All()
	summaries := make([]llm.FactSummary, 0, len(all))
	for _, spec := range all {
		s := llm.FactSummary{ID: spec.ID, Description: spec.Description}
		if spec.Version != nil {
			s.Schema = spec.Version.ParametersSchema
		}
		summaries = append(summaries, s)
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].ID < summaries[j].ID })
	return summaries
}
