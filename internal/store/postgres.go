package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/finq/internal/db"
	"github.com/sells-group/finq/internal/ledger"
	"github.com/sells-group/finq/internal/model"
	"github.com/sells-group/finq/internal/router"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection. The
// instance cache lookup runs once per fact per request, so it leads.
var preparedStatements = map[string]string{
	"get_instance":    `SELECT ` + pgInstanceColumns + ` FROM fact_instances WHERE version_id = $1 AND context_hash = $2`,
	"insert_question": `INSERT INTO questions (id, text, user_id, created_at) VALUES ($1, $2, $3, $4)`,
	"insert_answer":   `INSERT INTO answers (id, question_id, text, fact_instance_ids, proposal_id, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. Used by tests and by the
// importers, which share the store's pool for COPY.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: pool.Close}
}

// Pool returns the underlying database pool for subsystems that need
// direct access (e.g., the CSV importers).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS fact_definitions (
	id          TEXT PRIMARY KEY,
	description TEXT NOT NULL DEFAULT '',
	kind        TEXT NOT NULL,
	data_type   TEXT NOT NULL,
	active      BOOLEAN NOT NULL DEFAULT true,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS fact_versions (
	id                TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	fact_id           TEXT NOT NULL REFERENCES fact_definitions(id),
	version           INTEGER NOT NULL,
	status            TEXT NOT NULL DEFAULT 'draft',
	logic_type        TEXT NOT NULL,
	logic             TEXT NOT NULL,
	requires          JSONB,
	dependencies      JSONB,
	parameters_schema TEXT,
	output_template   TEXT,
	test_cases        JSONB,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (fact_id, version)
);

CREATE TABLE IF NOT EXISTS intent_recognizers (
	version_id        TEXT PRIMARY KEY REFERENCES fact_versions(id),
	regex_patterns    JSONB,
	keywords          JSONB,
	example_questions JSONB
);

CREATE TABLE IF NOT EXISTS fact_instances (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	version_id   TEXT NOT NULL REFERENCES fact_versions(id),
	fact_id      TEXT NOT NULL,
	context      JSONB NOT NULL,
	context_hash TEXT NOT NULL,
	value        JSONB,
	status       TEXT NOT NULL,
	error        TEXT NOT NULL DEFAULT '',
	provenance   JSONB,
	confidence   DOUBLE PRECISION NOT NULL DEFAULT 0,
	valid_from   TIMESTAMPTZ,
	valid_to     TIMESTAMPTZ,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (version_id, context_hash)
);

CREATE TABLE IF NOT EXISTS fact_instance_deps (
	instance_id            TEXT NOT NULL REFERENCES fact_instances(id),
	dependency_instance_id TEXT NOT NULL REFERENCES fact_instances(id),
	dependency_fact_id     TEXT NOT NULL,
	PRIMARY KEY (instance_id, dependency_instance_id)
);

CREATE TABLE IF NOT EXISTS questions (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	text       TEXT NOT NULL,
	user_id    TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS answers (
	id                TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	question_id       TEXT NOT NULL REFERENCES questions(id),
	text              TEXT NOT NULL,
	fact_instance_ids JSONB,
	proposal_id       TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS proposals (
	id                TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	question          TEXT NOT NULL,
	feasibility       TEXT NOT NULL DEFAULT '',
	proposed_fact_id  TEXT NOT NULL,
	proposed_logic    TEXT NOT NULL,
	proposed_schema   TEXT,
	proposed_template TEXT,
	test_cases        JSONB,
	status            TEXT NOT NULL DEFAULT 'pending',
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS accounts (
	id      TEXT PRIMARY KEY,
	name    TEXT NOT NULL,
	user_id TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS bank_transactions (
	id           TEXT PRIMARY KEY,
	account_id   TEXT NOT NULL REFERENCES accounts(id),
	posting_date TIMESTAMPTZ NOT NULL,
	description  TEXT NOT NULL,
	amount       NUMERIC(14,2) NOT NULL,
	type         TEXT NOT NULL DEFAULT '',
	balance      NUMERIC(14,2) NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS card_charges (
	id               TEXT PRIMARY KEY,
	account_id       TEXT NOT NULL REFERENCES accounts(id),
	transaction_date TIMESTAMPTZ NOT NULL,
	post_date        TIMESTAMPTZ,
	description     TEXT NOT NULL,
	category         TEXT NOT NULL DEFAULT '',
	type             TEXT NOT NULL DEFAULT '',
	amount           NUMERIC(14,2) NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fact_versions_fact_id ON fact_versions(fact_id);
CREATE INDEX IF NOT EXISTS idx_fact_instances_fact_id ON fact_instances(fact_id);
CREATE INDEX IF NOT EXISTS idx_fact_instance_deps_instance ON fact_instance_deps(instance_id);
CREATE INDEX IF NOT EXISTS idx_bank_transactions_account ON bank_transactions(account_id);
CREATE INDEX IF NOT EXISTS idx_card_charges_account ON card_charges(account_id);
CREATE INDEX IF NOT EXISTS idx_proposals_status ON proposals(status);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Definitions

func (s *PostgresStore) CreateDefinition(ctx context.Context, def *model.FactDefinition) error {
	if def.CreatedAt.IsZero() {
		def.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO fact_definitions (id, description, kind, data_type, active, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		def.ID, def.Description, string(def.Kind), string(def.DataType), def.Active, def.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert definition %s", def.ID)
}

func (s *PostgresStore) GetDefinition(ctx context.Context, factID string) (*model.FactDefinition, error) {
	var d model.FactDefinition
	err := s.pool.QueryRow(ctx,
		`SELECT id, description, kind, data_type, active, created_at FROM fact_definitions WHERE id = $1`,
		factID,
	).Scan(&d.ID, &d.Description, &d.Kind, &d.DataType, &d.Active, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get definition %s", factID)
	}
	return &d, nil
}

func (s *PostgresStore) ListDefinitions(ctx context.Context) ([]model.FactDefinition, error) {
	return s.listDefinitions(ctx, `SELECT id, description, kind, data_type, active, created_at FROM fact_definitions ORDER BY id`)
}

func (s *PostgresStore) ListActiveDefinitions(ctx context.Context) ([]model.FactDefinition, error) {
	return s.listDefinitions(ctx, `SELECT id, description, kind, data_type, active, created_at FROM fact_definitions WHERE active ORDER BY id`)
}

func (s *PostgresStore) listDefinitions(ctx context.Context, query string) ([]model.FactDefinition, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list definitions")
	}
	defer rows.Close()

	var defs []model.FactDefinition
	for rows.Next() {
		var d model.FactDefinition
		if err := rows.Scan(&d.ID, &d.Description, &d.Kind, &d.DataType, &d.Active, &d.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan definition")
		}
		defs = append(defs, d)
	}
	return defs, eris.Wrap(rows.Err(), "postgres: list definitions iterate")
}

func (s *PostgresStore) SetDefinitionActive(ctx context.Context, factID string, active bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE fact_definitions SET active = $1 WHERE id = $2`,
		active, factID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set definition active %s", factID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("definition not found: %s", factID)
	}
	return nil
}

// Versions

const pgVersionColumns = `id, fact_id, version, status, logic_type, logic, requires, dependencies, parameters_schema, output_template, test_cases, created_at`

func (s *PostgresStore) CreateVersion(ctx context.Context, v *model.FactDefinitionVersion) error {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	requires, err := marshalJSONB(v.Requires)
	if err != nil {
		return err
	}
	deps, err := marshalJSONB(v.Dependencies)
	if err != nil {
		return err
	}
	testCases, err := marshalJSONB(v.TestCases)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO fact_versions (`+pgVersionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		v.ID, v.FactID, v.Version, string(v.Status), string(v.LogicType), v.Logic,
		requires, deps, nullString(v.ParametersSchema), nullString(v.OutputTemplate), testCases, v.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert version %s v%d", v.FactID, v.Version)
}

func scanPgVersion(row pgx.Row) (*model.FactDefinitionVersion, error) {
	var v model.FactDefinitionVersion
	var requires, deps, testCases []byte
	var schema, template *string

	err := row.Scan(&v.ID, &v.FactID, &v.Version, &v.Status, &v.LogicType, &v.Logic,
		&requires, &deps, &schema, &template, &testCases, &v.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan version")
	}

	if err := unmarshalJSON(string(requires), &v.Requires); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(string(deps), &v.Dependencies); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(string(testCases), &v.TestCases); err != nil {
		return nil, err
	}
	if schema != nil {
		v.ParametersSchema = *schema
	}
	if template != nil {
		v.OutputTemplate = *template
	}
	return &v, nil
}

func (s *PostgresStore) GetVersion(ctx context.Context, versionID string) (*model.FactDefinitionVersion, error) {
	return scanPgVersion(s.pool.QueryRow(ctx,
		`SELECT `+pgVersionColumns+` FROM fact_versions WHERE id = $1`, versionID))
}

func (s *PostgresStore) ListVersions(ctx context.Context, factID string) ([]model.FactDefinitionVersion, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgVersionColumns+` FROM fact_versions WHERE fact_id = $1 ORDER BY version`, factID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list versions %s", factID)
	}
	defer rows.Close()

	var versions []model.FactDefinitionVersion
	for rows.Next() {
		v, err := scanPgVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, *v)
	}
	return versions, eris.Wrap(rows.Err(), "postgres: list versions iterate")
}

func (s *PostgresStore) GetLatestApprovedVersion(ctx context.Context, factID string) (*model.FactDefinitionVersion, error) {
	return scanPgVersion(s.pool.QueryRow(ctx,
		`SELECT `+pgVersionColumns+` FROM fact_versions
		 WHERE fact_id = $1 AND status = 'approved'
		 ORDER BY version DESC LIMIT 1`, factID))
}

func (s *PostgresStore) UpdateVersionStatus(ctx context.Context, versionID string, status model.VersionStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE fact_versions SET status = $1 WHERE id = $2`,
		string(status), versionID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update version status %s", versionID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("version not found: %s", versionID)
	}
	return nil
}

// Recognizers

func (s *PostgresStore) SaveRecognizer(ctx context.Context, rec model.IntentRecognizer) error {
	patterns, err := marshalJSONB(rec.RegexPatterns)
	if err != nil {
		return err
	}
	keywords, err := marshalJSONB(rec.Keywords)
	if err != nil {
		return err
	}
	examples, err := marshalJSONB(rec.ExampleQuestions)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO intent_recognizers (version_id, regex_patterns, keywords, example_questions) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (version_id) DO UPDATE SET regex_patterns = $2, keywords = $3, example_questions = $4`,
		rec.VersionID, patterns, keywords, examples,
	)
	return eris.Wrapf(err, "postgres: save recognizer %s", rec.VersionID)
}

func (s *PostgresStore) ListRecognizers(ctx context.Context) ([]router.Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT v.id, v.fact_id, v.version, v.status, v.logic_type, v.logic, v.requires, v.dependencies, v.parameters_schema, v.output_template, v.test_cases, v.created_at,
		        r.regex_patterns, r.keywords, r.example_questions
		 FROM intent_recognizers r
		 JOIN fact_versions v ON v.id = r.version_id
		 JOIN fact_definitions d ON d.id = v.fact_id AND d.active
		 WHERE v.status = 'approved'
		   AND v.version = (SELECT MAX(v2.version) FROM fact_versions v2 WHERE v2.fact_id = v.fact_id AND v2.status = 'approved')
		 ORDER BY v.fact_id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list recognizers")
	}
	defer rows.Close()

	var entries []router.Entry
	for rows.Next() {
		var v model.FactDefinitionVersion
		var requires, deps, testCases []byte
		var schema, template *string
		var patterns, keywords, examples []byte

		if err := rows.Scan(&v.ID, &v.FactID, &v.Version, &v.Status, &v.LogicType, &v.Logic,
			&requires, &deps, &schema, &template, &testCases, &v.CreatedAt,
			&patterns, &keywords, &examples); err != nil {
			return nil, eris.Wrap(err, "postgres: scan recognizer")
		}
		if err := unmarshalJSON(string(requires), &v.Requires); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(string(deps), &v.Dependencies); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(string(testCases), &v.TestCases); err != nil {
			return nil, err
		}
		if schema != nil {
			v.ParametersSchema = *schema
		}
		if template != nil {
			v.OutputTemplate = *template
		}

		rec := model.IntentRecognizer{VersionID: v.ID}
		if err := unmarshalJSON(string(patterns), &rec.RegexPatterns); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(string(keywords), &rec.Keywords); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(string(examples), &rec.ExampleQuestions); err != nil {
			return nil, err
		}
		entries = append(entries, router.Entry{Version: &v, Recognizer: rec})
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list recognizers iterate")
}

// Instance cache

const pgInstanceColumns = `id, version_id, fact_id, context, context_hash, value, status, error, provenance, confidence, valid_from, valid_to, created_at`

func scanPgInstance(row pgx.Row) (*model.FactInstance, error) {
	var inst model.FactInstance
	var ctxJSON, valueJSON, provJSON []byte

	err := row.Scan(&inst.ID, &inst.VersionID, &inst.FactID, &ctxJSON, &inst.ContextHash,
		&valueJSON, &inst.Status, &inst.Error, &provJSON, &inst.Confidence,
		&inst.ValidFrom, &inst.ValidTo, &inst.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan instance")
	}

	if err := unmarshalJSON(string(ctxJSON), &inst.Context); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(string(valueJSON), &inst.Value); err != nil {
		return nil, err
	}
	if len(provJSON) > 0 && string(provJSON) != "null" {
		inst.Provenance = &model.Provenance{}
		if err := unmarshalJSON(string(provJSON), inst.Provenance); err != nil {
			return nil, err
		}
	}
	return &inst, nil
}

func (s *PostgresStore) GetInstance(ctx context.Context, versionID, contextHash string) (*model.FactInstance, error) {
	return scanPgInstance(s.pool.QueryRow(ctx,
		`SELECT `+pgInstanceColumns+` FROM fact_instances WHERE version_id = $1 AND context_hash = $2`,
		versionID, contextHash))
}

// CreateInstance inserts under create-if-absent. ON CONFLICT DO NOTHING
// plus a re-fetch settles concurrent writers on a single winning row.
func (s *PostgresStore) CreateInstance(ctx context.Context, inst *model.FactInstance) (*model.FactInstance, bool, error) {
	if inst.ID == "" {
		inst.ID = uuid.New().String()
	}
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = time.Now().UTC()
	}

	ctxJSON, err := marshalJSONB(inst.Context)
	if err != nil {
		return nil, false, err
	}
	valueJSON, err := marshalJSONB(inst.Value)
	if err != nil {
		return nil, false, err
	}
	provJSON, err := marshalJSONB(inst.Provenance)
	if err != nil {
		return nil, false, err
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO fact_instances (`+pgInstanceColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (version_id, context_hash) DO NOTHING`,
		inst.ID, inst.VersionID, inst.FactID, ctxJSON, inst.ContextHash,
		valueJSON, string(inst.Status), inst.Error, provJSON, inst.Confidence,
		inst.ValidFrom, inst.ValidTo, inst.CreatedAt,
	)
	if err != nil {
		return nil, false, eris.Wrapf(err, "postgres: insert instance %s", inst.FactID)
	}
	if tag.RowsAffected() == 0 {
		winner, err := s.GetInstance(ctx, inst.VersionID, inst.ContextHash)
		if err != nil {
			return nil, false, err
		}
		if winner == nil {
			return nil, false, eris.Errorf("postgres: lost insert race for %s but winner not found", inst.FactID)
		}
		return winner, false, nil
	}
	return inst, true, nil
}

func (s *PostgresStore) CreateInstanceDependencies(ctx context.Context, deps []model.FactInstanceDependency) error {
	for _, d := range deps {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO fact_instance_deps (instance_id, dependency_instance_id, dependency_fact_id) VALUES ($1, $2, $3)
			 ON CONFLICT DO NOTHING`,
			d.InstanceID, d.DependencyID, d.DependencyFact,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert instance dep %s", d.InstanceID)
		}
	}
	return nil
}

func (s *PostgresStore) ListInstances(ctx context.Context, factID string, limit int) ([]model.FactInstance, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgInstanceColumns+` FROM fact_instances WHERE fact_id = $1 ORDER BY created_at DESC LIMIT $2`,
		factID, limit)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list instances %s", factID)
	}
	defer rows.Close()

	var instances []model.FactInstance
	for rows.Next() {
		inst, err := scanPgInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, *inst)
	}
	return instances, eris.Wrap(rows.Err(), "postgres: list instances iterate")
}

// Questions and answers

func (s *PostgresStore) CreateQuestion(ctx context.Context, q *model.Question) error {
	if q.ID == "" {
		q.ID = uuid.New().String()
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO questions (id, text, user_id, created_at) VALUES ($1, $2, $3, $4)`,
		q.ID, q.Text, q.UserID, q.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert question")
}

func (s *PostgresStore) CreateAnswer(ctx context.Context, a *model.Answer) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	instIDs, err := marshalJSONB(a.FactInstanceIDs)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO answers (id, question_id, text, fact_instance_ids, proposal_id, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.QuestionID, a.Text, instIDs, a.ProposalID, a.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert answer")
}

// Proposals

const pgProposalColumns = `id, question, feasibility, proposed_fact_id, proposed_logic, proposed_schema, proposed_template, test_cases, status, created_at`

func (s *PostgresStore) CreateProposal(ctx context.Context, p *model.TaxonomyProposal) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.Status == "" {
		p.Status = model.ProposalPending
	}
	testCases, err := marshalJSONB(p.TestCases)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO proposals (`+pgProposalColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.ID, p.Question, p.Feasibility, p.ProposedFactID, p.ProposedLogic,
		nullString(p.ProposedSchema), nullString(p.ProposedTemplate), testCases, string(p.Status), p.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert proposal")
}

func scanPgProposal(row pgx.Row) (*model.TaxonomyProposal, error) {
	var p model.TaxonomyProposal
	var schema, template *string
	var testCases []byte

	err := row.Scan(&p.ID, &p.Question, &p.Feasibility, &p.ProposedFactID, &p.ProposedLogic,
		&schema, &template, &testCases, &p.Status, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan proposal")
	}
	if schema != nil {
		p.ProposedSchema = *schema
	}
	if template != nil {
		p.ProposedTemplate = *template
	}
	if err := unmarshalJSON(string(testCases), &p.TestCases); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) GetProposal(ctx context.Context, id string) (*model.TaxonomyProposal, error) {
	return scanPgProposal(s.pool.QueryRow(ctx,
		`SELECT `+pgProposalColumns+` FROM proposals WHERE id = $1`, id))
}

func (s *PostgresStore) ListProposals(ctx context.Context, status model.ProposalStatus) ([]model.TaxonomyProposal, error) {
	query := `SELECT ` + pgProposalColumns + ` FROM proposals`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list proposals")
	}
	defer rows.Close()

	var proposals []model.TaxonomyProposal
	for rows.Next() {
		p, err := scanPgProposal(rows)
		if err != nil {
			return nil, err
		}
		proposals = append(proposals, *p)
	}
	return proposals, eris.Wrap(rows.Err(), "postgres: list proposals iterate")
}

func (s *PostgresStore) UpdateProposalStatus(ctx context.Context, id string, status model.ProposalStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE proposals SET status = $1 WHERE id = $2`,
		string(status), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update proposal status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("proposal not found: %s", id)
	}
	return nil
}

// Ledger feeds

func (s *PostgresStore) CreateAccount(ctx context.Context, a model.Account) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (id, name, user_id) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET name = $2, user_id = $3`,
		a.ID, a.Name, a.UserID,
	)
	return eris.Wrapf(err, "postgres: upsert account %s", a.ID)
}

func (s *PostgresStore) ListAccounts(ctx context.Context, userID string) ([]model.Account, error) {
	query := `SELECT id, name, user_id FROM accounts`
	args := []any{}
	if userID != "" {
		query += ` WHERE user_id = $1`
		args = append(args, userID)
	}
	query += ` ORDER BY id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list accounts")
	}
	defer rows.Close()

	var accounts []model.Account
	for rows.Next() {
		var a model.Account
		if err := rows.Scan(&a.ID, &a.Name, &a.UserID); err != nil {
			return nil, eris.Wrap(err, "postgres: scan account")
		}
		accounts = append(accounts, a)
	}
	return accounts, eris.Wrap(rows.Err(), "postgres: list accounts iterate")
}

// InsertBankTransactions bulk-loads via COPY into a temp table and
// upserts, so re-importing a statement file is idempotent.
func (s *PostgresStore) InsertBankTransactions(ctx context.Context, txs []model.BankTransaction) (int64, error) {
	rows := make([][]any, 0, len(txs))
	for _, tx := range txs {
		if tx.ID == "" {
			tx.ID = uuid.New().String()
		}
		rows = append(rows, []any{tx.ID, tx.AccountID, tx.PostingDate.UTC(), tx.Description, tx.Amount.String(), tx.Type, tx.Balance.String()})
	}
	return db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "bank_transactions",
		Columns:      []string{"id", "account_id", "posting_date", "description", "amount", "type", "balance"},
		ConflictKeys: []string{"id"},
	}, rows)
}

func (s *PostgresStore) InsertCardCharges(ctx context.Context, charges []model.CardCharge) (int64, error) {
	rows := make([][]any, 0, len(charges))
	for _, c := range charges {
		if c.ID == "" {
			c.ID = uuid.New().String()
		}
		rows = append(rows, []any{c.ID, c.AccountID, c.TransactionDate.UTC(), c.PostDate.UTC(), c.Description, c.Category, c.Type, c.Amount.String()})
	}
	return db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "card_charges",
		Columns:      []string{"id", "account_id", "transaction_date", "post_date", "description", "category", "type", "amount"},
		ConflictKeys: []string{"id"},
	}, rows)
}

func (s *PostgresStore) ListBankTransactions(ctx context.Context, f ledger.Filter) ([]model.BankTransaction, error) {
	query := `SELECT t.id, t.account_id, t.posting_date, t.description, t.amount::text, t.type, t.balance::text
	          FROM bank_transactions t JOIN accounts a ON a.id = t.account_id WHERE true`
	args := []any{}
	argIdx := 1

	if f.UserID != "" {
		query += fmt.Sprintf(` AND a.user_id = $%d`, argIdx)
		args = append(args, f.UserID)
		argIdx++
	}
	if f.AccountID != "" {
		query += fmt.Sprintf(` AND t.account_id = $%d`, argIdx)
		args = append(args, f.AccountID)
		argIdx++
	}
	if !f.Start.IsZero() {
		query += fmt.Sprintf(` AND t.posting_date >= $%d`, argIdx)
		args = append(args, f.Start.UTC())
		argIdx++
	}
	if !f.End.IsZero() {
		query += fmt.Sprintf(` AND t.posting_date <= $%d`, argIdx)
		args = append(args, f.End.UTC())
		argIdx++
	}
	query += ` ORDER BY t.posting_date, t.id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list bank transactions")
	}
	defer rows.Close()

	var txs []model.BankTransaction
	for rows.Next() {
		var tx model.BankTransaction
		var amount, balance string
		if err := rows.Scan(&tx.ID, &tx.AccountID, &tx.PostingDate, &tx.Description, &amount, &tx.Type, &balance); err != nil {
			return nil, eris.Wrap(err, "postgres: scan bank transaction")
		}
		if tx.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, eris.Wrap(err, "postgres: parse amount")
		}
		if tx.Balance, err = decimal.NewFromString(balance); err != nil {
			return nil, eris.Wrap(err, "postgres: parse balance")
		}
		txs = append(txs, tx)
	}
	return txs, eris.Wrap(rows.Err(), "postgres: list bank transactions iterate")
}

func (s *PostgresStore) ListCardCharges(ctx context.Context, f ledger.Filter) ([]model.CardCharge, error) {
	query := `SELECT c.id, c.account_id, c.transaction_date, c.post_date, c.description, c.category, c.type, c.amount::text
	          FROM card_charges c JOIN accounts a ON a.id = c.account_id WHERE true`
	args := []any{}
	argIdx := 1

	if f.UserID != "" {
		query += fmt.Sprintf(` AND a.user_id = $%d`, argIdx)
		args = append(args, f.UserID)
		argIdx++
	}
	if f.AccountID != "" {
		query += fmt.Sprintf(` AND c.account_id = $%d`, argIdx)
		args = append(args, f.AccountID)
		argIdx++
	}
	if f.Category != "" {
		query += fmt.Sprintf(` AND c.category = $%d`, argIdx)
		args = append(args, f.Category)
		argIdx++
	}
	if !f.Start.IsZero() {
		query += fmt.Sprintf(` AND c.transaction_date >= $%d`, argIdx)
		args = append(args, f.Start.UTC())
		argIdx++
	}
	if !f.End.IsZero() {
		query += fmt.Sprintf(` AND c.transaction_date <= $%d`, argIdx)
		args = append(args, f.End.UTC())
		argIdx++
	}
	query += ` ORDER BY c.transaction_date, c.id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list card charges")
	}
	defer rows.Close()

	var charges []model.CardCharge
	for rows.Next() {
		var c model.CardCharge
		var amount string
		if err := rows.Scan(&c.ID, &c.AccountID, &c.TransactionDate, &c.PostDate, &c.Description, &c.Category, &c.Type, &amount); err != nil {
			return nil, eris.Wrap(err, "postgres: scan card charge")
		}
		if c.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, eris.Wrap(err, "postgres: parse amount")
		}
		charges = append(charges, c)
	}
	return charges, eris.Wrap(rows.Err(), "postgres: list card charges iterate")
}

// pg helpers

func marshalJSONB(v any) ([]byte, error) {
	s, err := marshalJSON(v)
	if err != nil {
		return nil, err
	}
	if s == "" {
		return nil, nil
	}
	return []byte(s), nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
