// Package registry assembles the immutable catalogue of fact
// specifications: for every active definition, the latest approved
// version with its logic compiled into an invocable handle. The registry
// is built once per process and rebuilt explicitly to pick up newly
// approved versions.
package registry

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/finq/internal/graph"
	"github.com/sells-group/finq/internal/model"
	"github.com/sells-group/finq/internal/sandbox"
	"github.com/sells-group/finq/internal/schema"
)

// Edge is a compiled structured dependency: the condition is parsed once
// at build time and evaluated per resolution.
type Edge struct {
	ToFactID     string
	ParamMapping map[string]string
	Condition    *sandbox.Condition
}

// Spec is one registered fact: identity, shape, dependencies, and the
// compiled logic handle.
type Spec struct {
	ID             string
	Kind           model.FactKind
	DataType       model.FactDataType
	Description    string
	Requires       []string
	Dependencies   []Edge
	Logic          sandbox.Logic
	Schema         *schema.Schema
	OutputTemplate string

	// VersionID keys the persistent cache. Stored facts use the version
	// row id; native facts use a synthetic stable id.
	VersionID string
	Version   *model.FactDefinitionVersion
}

// ProducerFunc adapts a native Go producer to the Logic interface.
type ProducerFunc func(ctx context.Context, deps map[string]any, params map[string]any) (any, error)

// Invoke implements sandbox.Logic.
func (f ProducerFunc) Invoke(ctx context.Context, deps map[string]any, params map[string]any) (any, error) {
	return f(ctx, deps, params)
}

// Source is the read side of the persistence collaborator the registry
// builds from.
type Source interface {
	ListActiveDefinitions(ctx context.Context) ([]model.FactDefinition, error)
	GetLatestApprovedVersion(ctx context.Context, factID string) (*model.FactDefinitionVersion, error)
}

// Registry is the immutable fact catalogue.
type Registry struct {
	specs map[string]*Spec
	g     *graph.Graph
}

// Get returns the spec for a fact id.
func (r *Registry) Get(factID string) (*Spec, bool) {
	s, ok := r.specs[factID]
	return s, ok
}

// All returns the full id -> spec map. Callers must not mutate it.
func (r *Registry) All() map[string]*Spec {
	return r.specs
}

// Graph returns the static dependency graph built at construction.
func (r *Registry) Graph() *graph.Graph {
	return r.g
}

// DOT renders the dependency graph for external visualization tooling.
func (r *Registry) DOT() string {
	return r.g.DOT()
}

// Build constructs a registry from the store plus any native specs.
// Construction is atomic: a compile failure or a dependency cycle fails
// the whole build rather than serving a partially valid registry.
func Build(ctx context.Context, src Source, opts sandbox.Options, native ...*Spec) (*Registry, error) {
	specs := make(map[string]*Spec)

	defs, err := src.ListActiveDefinitions(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "registry: list definitions")
	}

	for _, def := range defs {
		version, err := src.GetLatestApprovedVersion(ctx, def.ID)
		if err != nil {
			return nil, eris.Wrapf(err, "registry: version for %s", def.ID)
		}
		if version == nil {
			zap.L().Debug("registry: no approved version, skipping", zap.String("fact", def.ID))
			continue
		}

		spec, err := CompileSpec(def, version, opts)
		if err != nil {
			return nil, err
		}
		specs[def.ID] = spec
	}

	// Native specs win over stored definitions with the same id.
	for _, n := range native {
		if n.VersionID == "" {
			n.VersionID = "native:" + n.ID
		}
		specs[n.ID] = n
	}

	g := buildGraph(specs)
	if cycles := g.DetectCycles(); len(cycles) > 0 {
		return nil, eris.Errorf("registry: cyclic fact dependencies: %s", formatCycles(cycles))
	}

	zap.L().Info("registry: built", zap.Int("facts", len(specs)))
	return &Registry{specs: specs, g: g}, nil
}

// CompileSpec compiles one definition version into a registrable spec.
// Also used by the approval workflow to vet draft versions before
// promotion.
func CompileSpec(def model.FactDefinition, version *model.FactDefinitionVersion, opts sandbox.Options) (*Spec, error) {
	var logic sandbox.Logic
	var err error
	switch version.LogicType {
	case model.LogicExpression:
		logic, err = sandbox.CompileExpression(version.Logic, opts)
	case model.LogicCode:
		logic, err = sandbox.CompileCode(version.Logic, opts)
	default:
		err = eris.Errorf("registry: unknown logic type %q", version.LogicType)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "registry: compile %s v%d", def.ID, version.Version)
	}

	paramSchema, err := schema.Compile(version.ParametersSchema)
	if err != nil {
		return nil, eris.Wrapf(err, "registry: schema for %s v%d", def.ID, version.Version)
	}

	edges := make([]Edge, 0, len(version.Dependencies))
	for _, dep := range version.Dependencies {
		edge := Edge{ToFactID: dep.ToFactID, ParamMapping: dep.ParamMapping}
		if dep.Condition != "" {
			cond, err := sandbox.CompileCondition(dep.Condition)
			if err != nil {
				return nil, eris.Wrapf(err, "registry: condition %s -> %s", def.ID, dep.ToFactID)
			}
			edge.Condition = cond
		}
		edges = append(edges, edge)
	}

	return &Spec{
		ID:             def.ID,
		Kind:           def.Kind,
		DataType:       def.DataType,
		Description:    def.Description,
		Requires:       version.Requires,
		Dependencies:   edges,
		Logic:          logic,
		Schema:         paramSchema,
		OutputTemplate: version.OutputTemplate,
		VersionID:      version.ID,
		Version:        version,
	}, nil
}

func buildGraph(specs map[string]*Spec) *graph.Graph {
	g := graph.New()
	for _, spec := range specs {
		g.AddNode(graph.Node{ID: spec.ID, Kind: string(spec.Kind), DataType: string(spec.DataType)})
		for _, dep := range spec.Requires {
			g.AddEdge(spec.ID, dep)
		}
		for _, edge := range spec.Dependencies {
			g.AddEdge(spec.ID, edge.ToFactID)
		}
	}
	return g
}

func formatCycles(cycles [][]string) string {
	parts := make([]string, len(cycles))
	for i, c := range cycles {
		parts[i] = strings.Join(c, " -> ")
	}
	return strings.Join(parts, "; ")
}
