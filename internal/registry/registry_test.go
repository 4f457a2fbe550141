package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/finq/internal/model"
	"github.com/sells-group/finq/internal/sandbox"
)

type fakeSource struct {
	defs     []model.FactDefinition
	versions map[string]*model.FactDefinitionVersion
}

func (f *fakeSource) ListActiveDefinitions(ctx context.Context) ([]model.FactDefinition, error) {
	return f.defs, nil
}

func (f *fakeSource) GetLatestApprovedVersion(ctx context.Context, factID string) (*model.FactDefinitionVersion, error) {
	return f.versions[factID], nil
}

func sourceWith(facts map[string]*model.FactDefinitionVersion) *fakeSource {
	src := &fakeSource{versions: facts}
	for id := range facts {
		src.defs = append(src.defs, model.FactDefinition{
			ID: id, Kind: model.KindComputed, DataType: model.DataTypeScalar, Active: true,
		})
	}
	return src
}

func TestBuild_CompilesLogicAndEdges(t *testing.T) {
	src := sourceWith(map[string]*model.FactDefinitionVersion{
		"fact.b": {
			ID: "ver-b", FactID: "fact.b", Version: 1, Status: model.VersionApproved,
			LogicType: model.LogicExpression, Logic: "10",
		},
		"fact.a": {
			ID: "ver-a", FactID: "fact.a", Version: 1, Status: model.VersionApproved,
			LogicType: model.LogicExpression, Logic: `deps["fact.b"] * 2`,
			Dependencies: []model.DependencyEdge{
				{ToFactID: "fact.b", ParamMapping: map[string]string{"x": "{{val}}"}, Condition: "val > 0"},
			},
		},
	})

	reg, err := Build(context.Background(), src, sandbox.Options{})
	require.NoError(t, err)

	spec, ok := reg.Get("fact.a")
	require.True(t, ok)
	assert.Equal(t, "ver-a", spec.VersionID)
	require.Len(t, spec.Dependencies, 1)
	assert.NotNil(t, spec.Dependencies[0].Condition)
	assert.Equal(t, map[string]string{"x": "{{val}}"}, spec.Dependencies[0].ParamMapping)

	_, ok = reg.Get("fact.missing")
	assert.False(t, ok)
}

func TestBuild_CycleFailsConstruction(t *testing.T) {
	src := sourceWith(map[string]*model.FactDefinitionVersion{
		"A": {ID: "ver-1", FactID: "A", Version: 1, Status: model.VersionApproved,
			LogicType: model.LogicExpression, Logic: "1", Requires: []string{"B"}},
		"B": {ID: "ver-2", FactID: "B", Version: 1, Status: model.VersionApproved,
			LogicType: model.LogicExpression, Logic: "1", Requires: []string{"C"}},
		"C": {ID: "ver-3", FactID: "C", Version: 1, Status: model.VersionApproved,
			LogicType: model.LogicExpression, Logic: "1", Requires: []string{"A"}},
	})

	_, err := Build(context.Background(), src, sandbox.Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cyclic")
	assert.Contains(t, err.Error(), "A")
	assert.Contains(t, err.Error(), "B")
	assert.Contains(t, err.Error(), "C")
}

func TestBuild_BadLogicFailsConstruction(t *testing.T) {
	src := sourceWith(map[string]*model.FactDefinitionVersion{
		"broken": {ID: "ver-x", FactID: "broken", Version: 1, Status: model.VersionApproved,
			LogicType: model.LogicExpression, Logic: "1 +"},
	})

	_, err := Build(context.Background(), src, sandbox.Options{})
	require.Error(t, err)
}

func TestBuild_SkipsDefinitionsWithoutApprovedVersion(t *testing.T) {
	src := &fakeSource{
		defs:     []model.FactDefinition{{ID: "draft.only", Active: true}},
		versions: map[string]*model.FactDefinitionVersion{},
	}

	reg, err := Build(context.Background(), src, sandbox.Options{})
	require.NoError(t, err)
	_, ok := reg.Get("draft.only")
	assert.False(t, ok)
}

func TestBuild_NativeSpecGetsSyntheticVersion(t *testing.T) {
	native := &Spec{
		ID:       "ledger.all_transactions",
		Kind:     model.KindObserved,
		DataType: model.DataTypeDataframe,
		Logic: ProducerFunc(func(ctx context.Context, deps, params map[string]any) (any, error) {
			return []map[string]any{}, nil
		}),
	}

	reg, err := Build(context.Background(), sourceWith(nil), sandbox.Options{}, native)
	require.NoError(t, err)

	spec, ok := reg.Get("ledger.all_transactions")
	require.True(t, ok)
	assert.Equal(t, "native:ledger.all_transactions", spec.VersionID)
}

func TestBuild_NativeSpecWinsOverStored(t *testing.T) {
	src := sourceWith(map[string]*model.FactDefinitionVersion{
		"fact.a": {
			ID: "ver-a", FactID: "fact.a", Version: 1, Status: model.VersionApproved,
			LogicType: model.LogicExpression, Logic: "1",
		},
	})
	native := &Spec{
		ID:        "fact.a",
		Kind:      model.KindComputed,
		DataType:  model.DataTypeScalar,
		VersionID: "ver-draft",
		Logic: ProducerFunc(func(ctx context.Context, deps, params map[string]any) (any, error) {
			return 2, nil
		}),
	}

	reg, err := Build(context.Background(), src, sandbox.Options{}, native)
	require.NoError(t, err)

	spec, ok := reg.Get("fact.a")
	require.True(t, ok)
	assert.Equal(t, "ver-draft", spec.VersionID)
}

func TestDOT_IncludesNodes(t *testing.T) {
	src := sourceWith(map[string]*model.FactDefinitionVersion{
		"fact.a": {ID: "ver-a", FactID: "fact.a", Version: 1, Status: model.VersionApproved,
			LogicType: model.LogicExpression, Logic: "1"},
	})

	reg, err := Build(context.Background(), src, sandbox.Options{})
	require.NoError(t, err)
	assert.Contains(t, reg.DOT(), "fact.a")
}
