// Package resolve implements the recursive fact resolution engine: cache
// consultation, dependency resolution, sandboxed logic invocation, and
// provenance persistence.
package resolve

import (
	"context"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/finq/internal/factctx"
	"github.com/sells-group/finq/internal/model"
	"github.com/sells-group/finq/internal/registry"
	"github.com/sells-group/finq/internal/table"
)

// Store is the persistence contract the engine requires: point lookup and
// create-if-absent with race detection for instances, plus provenance
// edge insertion. Instances are append-only.
type Store interface {
	// GetInstance returns the instance for (version, context hash) or
	// nil when absent.
	GetInstance(ctx context.Context, versionID, contextHash string) (*model.FactInstance, error)

	// CreateInstance inserts under a create-if-absent discipline. When a
	// concurrent resolver won the race, the winning row is returned with
	// created=false and the caller must not write provenance.
	CreateInstance(ctx context.Context, inst *model.FactInstance) (winner *model.FactInstance, created bool, err error)

	// CreateInstanceDependencies records provenance edges for a freshly
	// created instance.
	CreateInstanceDependencies(ctx context.Context, deps []model.FactInstanceDependency) error
}

// Resolver turns a (fact id, context) request into a computed-or-cached
// FactInstance. Safe for concurrent use; each Resolve call gets its own
// per-request memoization arena.
type Resolver struct {
	reg   *registry.Registry
	store Store
}

// New creates a resolver over a registry and an instance store.
func New(reg *registry.Registry, store Store) *Resolver {
	return &Resolver{reg: reg, store: store}
}

// Registry returns the registry this resolver serves.
func (r *Resolver) Registry() *registry.Registry {
	return r.reg
}

type memoEntry struct {
	inst *model.FactInstance
	err  error
}

// session is the in-flight arena for one resolution tree, keyed by
// (fact id, context hash). It prevents redundant recomputation within a
// request even though cycles are statically forbidden.
type session struct {
	memo map[string]memoEntry
}

// Resolve resolves a fact against a context. A validation failure returns
// an error-status instance with a nil error (terminal for that branch); a
// logic failure returns the persisted error-status instance together with
// an ExecutionError the caller must decide on.
func (r *Resolver) Resolve(ctx context.Context, factID string, params map[string]any) (*model.FactInstance, error) {
	sess := &session{memo: make(map[string]memoEntry)}
	return r.resolve(ctx, sess, factID, params)
}

func (r *Resolver) resolve(ctx context.Context, sess *session, factID string, params map[string]any) (*model.FactInstance, error) {
	norm := factctx.NormalizeMap(params)
	hash, err := factctx.Hash(params)
	if err != nil {
		return nil, eris.Wrapf(err, "resolve: hash context for %s", factID)
	}

	key := factID + "\x00" + hash
	if entry, ok := sess.memo[key]; ok {
		return entry.inst, entry.err
	}

	spec, ok := r.reg.Get(factID)
	if !ok {
		err := NewConfigurationError("fact %s not registered", factID)
		sess.memo[key] = memoEntry{err: err}
		return nil, err
	}

	// Validation short-circuits before any dependency work. The failure
	// is returned, not raised, and never persisted.
	if verr := spec.Schema.Validate(norm); verr != nil {
		inst := &model.FactInstance{
			VersionID:   spec.VersionID,
			FactID:      factID,
			Context:     norm,
			ContextHash: hash,
			Status:      model.InstanceError,
			Error:       verr.Error(),
			CreatedAt:   time.Now().UTC(),
		}
		sess.memo[key] = memoEntry{inst: inst}
		return inst, nil
	}

	// Persistent cache: a success row is the at-most-one-computation
	// guarantee; an existing error row is replayed without re-executing.
	if cached, err := r.store.GetInstance(ctx, spec.VersionID, hash); err != nil {
		return nil, eris.Wrapf(err, "resolve: cache lookup %s", factID)
	} else if cached != nil {
		if cached.Status == model.InstanceSuccess {
			sess.memo[key] = memoEntry{inst: cached}
			return cached, nil
		}
		execErr := &ExecutionError{FactID: factID, Err: eris.New(cached.Error)}
		sess.memo[key] = memoEntry{inst: cached, err: execErr}
		return cached, execErr
	}

	depValues, depInstances, err := r.resolveDependencies(ctx, sess, spec, params, norm)
	if err != nil {
		sess.memo[key] = memoEntry{err: err}
		return nil, err
	}

	hydrated := r.hydrate(depValues)
	logicCtx := mergeLogicContext(params, norm)

	value, execErr := spec.Logic.Invoke(ctx, hydrated, logicCtx)

	var persisted any
	if execErr == nil {
		persisted = dehydrate(value)
		// NaN and infinities have no JSON form; expression division by
		// zero lands here rather than as a store marshal failure.
		if ferr := checkFinite(persisted); ferr != nil {
			execErr = ferr
			persisted = nil
		}
	}

	inst := &model.FactInstance{
		VersionID:   spec.VersionID,
		FactID:      factID,
		Context:     norm,
		ContextHash: hash,
		CreatedAt:   time.Now().UTC(),
		Provenance: &model.Provenance{
			DependencyInstanceIDs: instanceIDs(depInstances),
			InputContext:          norm,
			Timestamp:             time.Now().UTC(),
		},
	}
	if execErr != nil {
		inst.Status = model.InstanceError
		inst.Error = execErr.Error()
	} else {
		inst.Status = model.InstanceSuccess
		inst.Value = persisted
		inst.Confidence = 1.0
	}

	winner, created, err := r.store.CreateInstance(ctx, inst)
	if err != nil {
		return nil, eris.Wrapf(err, "resolve: persist %s", factID)
	}
	if created {
		// Provenance edges are linked only by the instance that won the
		// race window.
		if len(depInstances) > 0 {
			edges := make([]model.FactInstanceDependency, 0, len(depInstances))
			for _, dep := range depInstances {
				edges = append(edges, model.FactInstanceDependency{
					InstanceID:     winner.ID,
					DependencyID:   dep.inst.ID,
					DependencyFact: dep.factID,
				})
			}
			if err := r.store.CreateInstanceDependencies(ctx, edges); err != nil {
				return nil, eris.Wrapf(err, "resolve: provenance %s", factID)
			}
		}
	} else {
		zap.L().Debug("resolve: lost cache race, using winning row",
			zap.String("fact", factID),
			zap.String("context_hash", hash),
		)
	}

	if execErr != nil {
		wrapped := &ExecutionError{FactID: factID, Err: execErr}
		sess.memo[key] = memoEntry{inst: winner, err: wrapped}
		return winner, wrapped
	}

	sess.memo[key] = memoEntry{inst: winner}
	return winner, nil
}

type depInstance struct {
	factID string
	inst   *model.FactInstance
}

// resolveDependencies resolves the flat requires list (same context) and
// the structured edges (condition-gated, param-mapped derived contexts),
// in declaration order. A skipped edge contributes nothing, not even a
// null.
func (r *Resolver) resolveDependencies(
	ctx context.Context,
	sess *session,
	spec *registry.Spec,
	params map[string]any,
	norm map[string]any,
) (map[string]any, []depInstance, error) {
	depValues := make(map[string]any)
	var instances []depInstance

	record := func(factID string, inst *model.FactInstance) {
		depValues[factID] = inst.Value
		instances = append(instances, depInstance{factID: factID, inst: inst})
	}

	for _, depID := range spec.Requires {
		inst, err := r.resolve(ctx, sess, depID, params)
		if err != nil {
			return nil, nil, err
		}
		if inst.Status == model.InstanceError {
			return nil, nil, &ExecutionError{FactID: depID, Err: eris.New(inst.Error)}
		}
		record(depID, inst)
	}

	for _, edge := range spec.Dependencies {
		if edge.Condition != nil {
			ok, err := edge.Condition.Eval(norm)
			if err != nil {
				zap.L().Debug("resolve: edge condition errored, skipping",
					zap.String("fact", spec.ID),
					zap.String("to", edge.ToFactID),
					zap.Error(err),
				)
				continue
			}
			if !ok {
				continue
			}
		}

		derived := deriveContext(params, norm, edge.ParamMapping)
		inst, err := r.resolve(ctx, sess, edge.ToFactID, derived)
		if err != nil {
			return nil, nil, err
		}
		if inst.Status == model.InstanceError {
			return nil, nil, &ExecutionError{FactID: edge.ToFactID, Err: eris.New(inst.Error)}
		}
		record(edge.ToFactID, inst)
	}

	return depValues, instances, nil
}

// deriveContext copies the parent context and overwrites each param
// mapping key with its rendered template value. Numeric-looking renders
// are coerced so a mapped "{{val}}" with val=5 arrives as the integer 5.
func deriveContext(params, norm map[string]any, mapping map[string]string) map[string]any {
	derived := make(map[string]any, len(params)+len(mapping))
	for k, v := range params {
		derived[k] = v
	}
	for key, tmpl := range mapping {
		derived[key] = CoerceScalar(RenderTemplate(tmpl, norm))
	}
	return derived
}

// hydrate reconstructs table-shaped dependency values persisted as record
// lists; other values pass through unchanged.
func (r *Resolver) hydrate(depValues map[string]any) map[string]any {
	out := make(map[string]any, len(depValues))
	for depID, value := range depValues {
		if spec, ok := r.reg.Get(depID); ok && spec.DataType == model.DataTypeDataframe {
			switch value.(type) {
			case []any, []map[string]any:
				out[depID] = table.FromRecords(value)
				continue
			}
		}
		out[depID] = value
	}
	return out
}

// checkFinite walks a dehydrated value and rejects NaN and infinite
// floats.
func checkFinite(v any) error {
	switch val := v.(type) {
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return eris.Errorf("resolve: non-finite result %v", val)
		}
	case map[string]any:
		for _, child := range val {
			if err := checkFinite(child); err != nil {
				return err
			}
		}
	case []any:
		for _, child := range val {
			if err := checkFinite(child); err != nil {
				return err
			}
		}
	}
	return nil
}

// dehydrate converts a computed value into its JSON-safe persisted form.
func dehydrate(value any) any {
	if tbl, ok := value.(*table.Table); ok {
		records := tbl.ToRecords()
		out := make([]any, len(records))
		for i, rec := range records {
			out[i] = rec
		}
		return out
	}
	return factctx.Normalize(value)
}

// mergeLogicContext gives logic the normalized view of the context while
// preserving transient keys (the ledger base fact filters by user).
func mergeLogicContext(params, norm map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range norm {
		out[k] = v
	}
	for k, v := range params {
		if factctx.IsTransient(k) {
			out[k] = v
		}
	}
	return out
}

func instanceIDs(deps []depInstance) []string {
	ids := make([]string, 0, len(deps))
	for _, d := range deps {
		ids = append(ids, d.inst.ID)
	}
	return ids
}
