package model

import (
	"time"
)

// FactDataType describes the shape of a fact's computed value.
type FactDataType string

const (
	DataTypeScalar       FactDataType = "scalar"
	DataTypeDict         FactDataType = "dict"
	DataTypeList         FactDataType = "list"
	DataTypeDataframe    FactDataType = "dataframe"
	DataTypeDistribution FactDataType = "distribution"
)

// FactKind distinguishes facts computed from dependencies from facts
// observed directly at the data boundary.
type FactKind string

const (
	KindComputed FactKind = "computed"
	KindObserved FactKind = "observed"
)

// VersionStatus is the lifecycle state of a fact version.
type VersionStatus string

const (
	VersionDraft      VersionStatus = "draft"
	VersionApproved   VersionStatus = "approved"
	VersionDeprecated VersionStatus = "deprecated"
)

// LogicType selects the sandbox a version's logic runs in.
type LogicType string

const (
	LogicExpression LogicType = "expression"
	LogicCode       LogicType = "code"
)

// FactDefinition is the stable identity of a fact. The engine never
// mutates definitions; deactivation only removes them from future
// registry builds.
type FactDefinition struct {
	ID          string       `json:"id"`
	Description string       `json:"description"`
	Kind        FactKind     `json:"kind"`
	DataType    FactDataType `json:"data_type"`
	Active      bool         `json:"active"`
	CreatedAt   time.Time    `json:"created_at"`
}

// DependencyEdge is a structured dependency declaration. ParamMapping maps
// a child-context key to a template rendered against the parent context.
// If Condition evaluates false (or errors) against the parent context, the
// edge is skipped entirely.
type DependencyEdge struct {
	ToFactID     string            `json:"id"`
	ParamMapping map[string]string `json:"with,omitempty"`
	Condition    string            `json:"when,omitempty"`
}

// TestCase is a pre-promotion check: a version is only approved once every
// test case resolves to its expected value.
type TestCase struct {
	Context  map[string]any `json:"context"`
	Expected any            `json:"expected"`
}

// FactDefinitionVersion is one computable revision of a definition. Only
// the most recent approved version per definition is selected for new
// computation; older approved versions stay addressable for provenance.
type FactDefinitionVersion struct {
	ID               string           `json:"id"`
	FactID           string           `json:"fact_id"`
	Version          int              `json:"version"`
	Status           VersionStatus    `json:"status"`
	LogicType        LogicType        `json:"logic_type"`
	Logic            string           `json:"logic"`
	Requires         []string         `json:"requires,omitempty"`
	Dependencies     []DependencyEdge `json:"dependencies,omitempty"`
	ParametersSchema string           `json:"parameters_schema,omitempty"` // JSON Schema document
	OutputTemplate   string           `json:"output_template,omitempty"`
	TestCases        []TestCase       `json:"test_cases,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
}

// InstanceStatus is the outcome of a cached computation.
type InstanceStatus string

const (
	InstanceSuccess InstanceStatus = "success"
	InstanceError   InstanceStatus = "error"
)

// Provenance records how a fact instance was produced.
type Provenance struct {
	DependencyInstanceIDs []string       `json:"dependency_instance_ids"`
	InputContext          map[string]any `json:"input_context"`
	Timestamp             time.Time      `json:"timestamp"`
}

// FactInstance is one cached computation for a (version, context hash)
// pair. Instances are append-only: at most one row exists per pair and it
// is never mutated after creation.
type FactInstance struct {
	ID          string         `json:"id"`
	VersionID   string         `json:"version_id"`
	FactID      string         `json:"fact_id"`
	Context     map[string]any `json:"context"`
	ContextHash string         `json:"context_hash"`
	Value       any            `json:"value"`
	Status      InstanceStatus `json:"status"`
	Error       string         `json:"error,omitempty"`
	Provenance  *Provenance    `json:"provenance,omitempty"`
	Confidence  float64        `json:"confidence"`
	ValidFrom   *time.Time     `json:"valid_from,omitempty"`
	ValidTo     *time.Time     `json:"valid_to,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// FactInstanceDependency is a provenance edge between a parent instance
// and one of the dependency instances that fed it.
type FactInstanceDependency struct {
	InstanceID     string `json:"instance_id"`
	DependencyID   string `json:"dependency_instance_id"`
	DependencyFact string `json:"dependency_fact_id"`
}

// IntentRecognizer pairs a fact version with the patterns and examples the
// router matches questions against. Authored out of band; read-only here.
type IntentRecognizer struct {
	VersionID        string   `json:"version_id"`
	RegexPatterns    []string `json:"regex_patterns"`
	Keywords         []string `json:"keywords"`
	ExampleQuestions []string `json:"example_questions"`
}

// ProposalStatus is the review state of a proposed fact.
type ProposalStatus string

const (
	ProposalPending  ProposalStatus = "pending"
	ProposalApproved ProposalStatus = "approved"
	ProposalRejected ProposalStatus = "rejected"
)

// TaxonomyProposal is an LLM-drafted fact definition awaiting human
// review. Every field is untrusted input until the approval workflow has
// run its test cases through the engine.
type TaxonomyProposal struct {
	ID               string         `json:"id"`
	Question         string         `json:"question"`
	Feasibility      string         `json:"feasibility_analysis"`
	ProposedFactID   string         `json:"proposed_fact_id"`
	ProposedLogic    string         `json:"proposed_logic"`
	ProposedSchema   string         `json:"proposed_schema,omitempty"`
	ProposedTemplate string         `json:"proposed_template,omitempty"`
	TestCases        []TestCase     `json:"test_cases,omitempty"`
	Status           ProposalStatus `json:"status"`
	CreatedAt        time.Time      `json:"created_at"`
}
