package main

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/finq/internal/ledger"
	"github.com/sells-group/finq/internal/model"
	"github.com/sells-group/finq/internal/registry"
	"github.com/sells-group/finq/internal/resolve"
	"github.com/sells-group/finq/internal/sandbox"
	"github.com/sells-group/finq/internal/store"
)

var factsCmd = &cobra.Command{
	Use:   "facts",
	Short: "Inspect and manage the fact catalogue",
}

var factsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List fact definitions and their latest approved version",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		defs, err := st.ListDefinitions(ctx)
		if err != nil {
			return eris.Wrap(err, "list definitions")
		}

		for _, def := range defs {
			state := "inactive"
			if def.Active {
				state = "active"
			}
			latest := "no approved version"
			if v, err := st.GetLatestApprovedVersion(ctx, def.ID); err == nil && v != nil {
				latest = fmt.Sprintf("v%d", v.Version)
			}
			fmt.Printf("%-40s %-10s %-10s %s  %s\n", def.ID, def.Kind, state, latest, def.Description)
		}
		return nil
	},
}

var factsShowCmd = &cobra.Command{
	Use:   "show <fact-id>",
	Short: "Show a fact definition and its version history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		def, err := st.GetDefinition(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "get definition")
		}
		if def == nil {
			return eris.Errorf("fact %s not found", args[0])
		}

		fmt.Printf("%s (%s, %s)\n%s\n\n", def.ID, def.Kind, def.DataType, def.Description)

		versions, err := st.ListVersions(ctx, def.ID)
		if err != nil {
			return eris.Wrap(err, "list versions")
		}
		for _, v := range versions {
			fmt.Printf("v%d [%s] %s\n", v.Version, v.Status, v.LogicType)
			fmt.Printf("  logic: %s\n", v.Logic)
			for _, dep := range v.Requires {
				fmt.Printf("  requires: %s\n", dep)
			}
			for _, edge := range v.Dependencies {
				line := "  depends: " + edge.ToFactID
				if edge.Condition != "" {
					line += " when " + edge.Condition
				}
				fmt.Println(line)
			}
		}
		return nil
	},
}

var factsGraphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Print the dependency graph in DOT format",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		fmt.Print(e.Engine.Resolver().Registry().DOT())
		return nil
	},
}

var factsProposalsCmd = &cobra.Command{
	Use:   "proposals",
	Short: "List pending taxonomy proposals",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		proposals, err := st.ListProposals(ctx, model.ProposalPending)
		if err != nil {
			return eris.Wrap(err, "list proposals")
		}
		for _, p := range proposals {
			fmt.Printf("%s  %s\n  question: %s\n  tests: %d\n", p.ID, p.ProposedFactID, p.Question, len(p.TestCases))
		}
		return nil
	},
}

var factsApproveCmd = &cobra.Command{
	Use:   "approve <proposal-id>",
	Short: "Vet a proposal's test cases and promote it to an approved fact version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		p, err := st.GetProposal(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "get proposal")
		}
		if p == nil {
			return eris.Errorf("proposal %s not found", args[0])
		}
		if p.Status != model.ProposalPending {
			return eris.Errorf("proposal %s is %s, not pending", p.ID, p.Status)
		}

		opts := sandboxOptions(st, cfg)

		// Proposals carry raw logic text without a declared type.
		logicType := model.LogicExpression
		if _, err := sandbox.CompileExpression(p.ProposedLogic, opts); err != nil {
			logicType = model.LogicCode
		}

		def, err := st.GetDefinition(ctx, p.ProposedFactID)
		if err != nil {
			return eris.Wrap(err, "get definition")
		}
		if def == nil {
			def = &model.FactDefinition{
				ID:          p.ProposedFactID,
				Description: p.Question,
				Kind:        model.KindComputed,
				DataType:    model.DataTypeScalar,
				Active:      true,
			}
			if err := st.CreateDefinition(ctx, def); err != nil {
				return eris.Wrap(err, "create definition")
			}
		}

		existing, err := st.ListVersions(ctx, def.ID)
		if err != nil {
			return eris.Wrap(err, "list versions")
		}

		version := &model.FactDefinitionVersion{
			FactID:           def.ID,
			Version:          len(existing) + 1,
			Status:           model.VersionDraft,
			LogicType:        logicType,
			Logic:            p.ProposedLogic,
			ParametersSchema: p.ProposedSchema,
			OutputTemplate:   p.ProposedTemplate,
			TestCases:        p.TestCases,
		}
		if err := st.CreateVersion(ctx, version); err != nil {
			return eris.Wrap(err, "create draft version")
		}

		spec, err := registry.CompileSpec(*def, version, opts)
		if err != nil {
			return eris.Wrap(err, "compile draft")
		}

		if err := runTestCases(cmd, st, spec, version); err != nil {
			return err
		}

		if err := st.UpdateVersionStatus(ctx, version.ID, model.VersionApproved); err != nil {
			return eris.Wrap(err, "promote version")
		}
		if err := st.SaveRecognizer(ctx, recognizerFor(version, p)); err != nil {
			return eris.Wrap(err, "save recognizer")
		}
		if err := st.UpdateProposalStatus(ctx, p.ID, model.ProposalApproved); err != nil {
			return eris.Wrap(err, "update proposal")
		}

		zap.L().Info("proposal approved",
			zap.String("proposal", p.ID),
			zap.String("fact", def.ID),
			zap.Int("version", version.Version),
		)
		fmt.Printf("approved %s v%d (%d/%d tests passed)\n", def.ID, version.Version, len(version.TestCases), len(version.TestCases))
		return nil
	},
}

var factsRejectCmd = &cobra.Command{
	Use:   "reject <proposal-id>",
	Short: "Reject a pending proposal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		if err := st.UpdateProposalStatus(ctx, args[0], model.ProposalRejected); err != nil {
			return eris.Wrap(err, "reject proposal")
		}
		fmt.Printf("rejected %s\n", args[0])
		return nil
	},
}

// runTestCases resolves every declared test case against a registry that
// includes the draft spec. The version is only promoted when all pass.
func runTestCases(cmd *cobra.Command, st store.Store, spec *registry.Spec, version *model.FactDefinitionVersion) error {
	ctx := cmd.Context()

	if len(version.TestCases) == 0 {
		return eris.New("proposal has no test cases; refusing to approve")
	}

	native := append(ledger.New(st).NativeSpecs(), spec)
	reg, err := registry.Build(ctx, st, sandboxOptions(st, cfg), native...)
	if err != nil {
		return eris.Wrap(err, "build vetting registry")
	}
	resolver := resolve.New(reg, st)

	var mu sync.Mutex
	var firstFailure error

	g, gctx := errgroup.WithContext(ctx)
	for i, tc := range version.TestCases {
		i, tc := i, tc
		g.Go(func() error {
			inst, err := resolver.Resolve(gctx, spec.ID, tc.Context)
			mu.Lock()
			defer mu.Unlock()
			if firstFailure != nil {
				return nil
			}
			switch {
			case err != nil:
				firstFailure = eris.Wrapf(err, "test %d", i+1)
			case inst.Status == model.InstanceError:
				firstFailure = eris.Errorf("test %d: %s", i+1, inst.Error)
			case !valuesMatch(tc.Expected, inst.Value):
				firstFailure = eris.Errorf("test %d: expected %v, got %v", i+1, tc.Expected, inst.Value)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return firstFailure
}

// valuesMatch compares a declared expectation to a resolved value.
// Numbers compare with a small tolerance; everything else compares by
// normalized JSON.
func valuesMatch(expected, actual any) bool {
	ef, eok := asFloat(expected)
	af, aok := asFloat(actual)
	if eok && aok {
		return math.Abs(ef-af) < 1e-9
	}
	eb, err1 := json.Marshal(expected)
	ab, err2 := json.Marshal(actual)
	return err1 == nil && err2 == nil && string(eb) == string(ab)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func recognizerFor(version *model.FactDefinitionVersion, p *model.TaxonomyProposal) model.IntentRecognizer {
	keywords := strings.FieldsFunc(version.FactID, func(r rune) bool {
		return r == '.' || r == '_'
	})
	return model.IntentRecognizer{
		VersionID:        version.ID,
		Keywords:         keywords,
		ExampleQuestions: []string{p.Question},
	}
}

func init() {
	factsCmd.AddCommand(factsListCmd, factsShowCmd, factsGraphCmd, factsProposalsCmd, factsApproveCmd, factsRejectCmd)
	rootCmd.AddCommand(factsCmd)
}
