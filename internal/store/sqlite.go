package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/sells-group/finq/internal/ledger"
	"github.com/sells-group/finq/internal/model"
	"github.com/sells-group/finq/internal/router"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS fact_definitions (
	id          TEXT PRIMARY KEY,
	description TEXT NOT NULL DEFAULT '',
	kind        TEXT NOT NULL,
	data_type   TEXT NOT NULL,
	active      INTEGER NOT NULL DEFAULT 1,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS fact_versions (
	id                TEXT PRIMARY KEY,
	fact_id           TEXT NOT NULL REFERENCES fact_definitions(id),
	version           INTEGER NOT NULL,
	status            TEXT NOT NULL DEFAULT 'draft',
	logic_type        TEXT NOT NULL,
	logic             TEXT NOT NULL,
	requires          TEXT,
	dependencies      TEXT,
	parameters_schema TEXT,
	output_template   TEXT,
	test_cases        TEXT,
	created_at        DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (fact_id, version)
);

CREATE TABLE IF NOT EXISTS intent_recognizers (
	version_id        TEXT PRIMARY KEY REFERENCES fact_versions(id),
	regex_patterns    TEXT,
	keywords          TEXT,
	example_questions TEXT
);

CREATE TABLE IF NOT EXISTS fact_instances (
	id           TEXT PRIMARY KEY,
	version_id   TEXT NOT NULL REFERENCES fact_versions(id),
	fact_id      TEXT NOT NULL,
	context      TEXT NOT NULL,
	context_hash TEXT NOT NULL,
	value        TEXT,
	status       TEXT NOT NULL,
	error        TEXT NOT NULL DEFAULT '',
	provenance   TEXT,
	confidence   REAL NOT NULL DEFAULT 0,
	valid_from   DATETIME,
	valid_to     DATETIME,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (version_id, context_hash)
);

CREATE TABLE IF NOT EXISTS fact_instance_deps (
	instance_id            TEXT NOT NULL REFERENCES fact_instances(id),
	dependency_instance_id TEXT NOT NULL REFERENCES fact_instances(id),
	dependency_fact_id     TEXT NOT NULL,
	PRIMARY KEY (instance_id, dependency_instance_id)
);

CREATE TABLE IF NOT EXISTS questions (
	id         TEXT PRIMARY KEY,
	text       TEXT NOT NULL,
	user_id    TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS answers (
	id                TEXT PRIMARY KEY,
	question_id       TEXT NOT NULL REFERENCES questions(id),
	text              TEXT NOT NULL,
	fact_instance_ids TEXT,
	proposal_id       TEXT NOT NULL DEFAULT '',
	created_at        DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS proposals (
	id                TEXT PRIMARY KEY,
	question          TEXT NOT NULL,
	feasibility       TEXT NOT NULL DEFAULT '',
	proposed_fact_id  TEXT NOT NULL,
	proposed_logic    TEXT NOT NULL,
	proposed_schema   TEXT,
	proposed_template TEXT,
	test_cases        TEXT,
	status            TEXT NOT NULL DEFAULT 'pending',
	created_at        DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS accounts (
	id      TEXT PRIMARY KEY,
	name    TEXT NOT NULL,
	user_id TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS bank_transactions (
	id           TEXT PRIMARY KEY,
	account_id   TEXT NOT NULL REFERENCES accounts(id),
	posting_date DATETIME NOT NULL,
	description  TEXT NOT NULL,
	amount       TEXT NOT NULL,
	type         TEXT NOT NULL DEFAULT '',
	balance      TEXT NOT NULL DEFAULT '0'
);

CREATE TABLE IF NOT EXISTS card_charges (
	id               TEXT PRIMARY KEY,
	account_id       TEXT NOT NULL REFERENCES accounts(id),
	transaction_date DATETIME NOT NULL,
	post_date        DATETIME,
	description      TEXT NOT NULL,
	category         TEXT NOT NULL DEFAULT '',
	type             TEXT NOT NULL DEFAULT '',
	amount           TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fact_versions_fact_id ON fact_versions(fact_id);
CREATE INDEX IF NOT EXISTS idx_fact_instances_fact_id ON fact_instances(fact_id);
CREATE INDEX IF NOT EXISTS idx_fact_instance_deps_instance ON fact_instance_deps(instance_id);
CREATE INDEX IF NOT EXISTS idx_bank_transactions_account ON bank_transactions(account_id);
CREATE INDEX IF NOT EXISTS idx_card_charges_account ON card_charges(account_id);
CREATE INDEX IF NOT EXISTS idx_proposals_status ON proposals(status);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Definitions

func (s *SQLiteStore) CreateDefinition(ctx context.Context, def *model.FactDefinition) error {
	if def.CreatedAt.IsZero() {
		def.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fact_definitions (id, description, kind, data_type, active, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		def.ID, def.Description, string(def.Kind), string(def.DataType), def.Active, def.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert definition %s", def.ID)
}

func (s *SQLiteStore) GetDefinition(ctx context.Context, factID string) (*model.FactDefinition, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, description, kind, data_type, active, created_at FROM fact_definitions WHERE id = ?`,
		factID,
	)
	var d model.FactDefinition
	err := row.Scan(&d.ID, &d.Description, &d.Kind, &d.DataType, &d.Active, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get definition %s", factID)
	}
	return &d, nil
}

func (s *SQLiteStore) ListDefinitions(ctx context.Context) ([]model.FactDefinition, error) {
	return s.listDefinitions(ctx, `SELECT id, description, kind, data_type, active, created_at FROM fact_definitions ORDER BY id`)
}

func (s *SQLiteStore) ListActiveDefinitions(ctx context.Context) ([]model.FactDefinition, error) {
	return s.listDefinitions(ctx, `SELECT id, description, kind, data_type, active, created_at FROM fact_definitions WHERE active = 1 ORDER BY id`)
}

func (s *SQLiteStore) listDefinitions(ctx context.Context, query string) ([]model.FactDefinition, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list definitions")
	}
	defer rows.Close()

	var defs []model.FactDefinition
	for rows.Next() {
		var d model.FactDefinition
		if err := rows.Scan(&d.ID, &d.Description, &d.Kind, &d.DataType, &d.Active, &d.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan definition")
		}
		defs = append(defs, d)
	}
	return defs, eris.Wrap(rows.Err(), "sqlite: list definitions iterate")
}

func (s *SQLiteStore) SetDefinitionActive(ctx context.Context, factID string, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE fact_definitions SET active = ? WHERE id = ?`,
		active, factID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set definition active %s", factID)
	}
	return checkRowsAffected(res, "definition", factID)
}

// Versions

func (s *SQLiteStore) CreateVersion(ctx context.Context, v *model.FactDefinitionVersion) error {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	requires, err := marshalJSON(v.Requires)
	if err != nil {
		return err
	}
	deps, err := marshalJSON(v.Dependencies)
	if err != nil {
		return err
	}
	testCases, err := marshalJSON(v.TestCases)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO fact_versions (id, fact_id, version, status, logic_type, logic, requires, dependencies, parameters_schema, output_template, test_cases, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.FactID, v.Version, string(v.Status), string(v.LogicType), v.Logic,
		requires, deps, v.ParametersSchema, v.OutputTemplate, testCases, v.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert version %s v%d", v.FactID, v.Version)
}

const sqliteVersionColumns = `id, fact_id, version, status, logic_type, logic, requires, dependencies, parameters_schema, output_template, test_cases, created_at`

func scanVersion(row scannable) (*model.FactDefinitionVersion, error) {
	var v model.FactDefinitionVersion
	var requires, deps, schema, template, testCases sql.NullString

	err := row.Scan(&v.ID, &v.FactID, &v.Version, &v.Status, &v.LogicType, &v.Logic,
		&requires, &deps, &schema, &template, &testCases, &v.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan version")
	}

	if err := unmarshalJSON(requires.String, &v.Requires); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(deps.String, &v.Dependencies); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(testCases.String, &v.TestCases); err != nil {
		return nil, err
	}
	v.ParametersSchema = schema.String
	v.OutputTemplate = template.String
	return &v, nil
}

func (s *SQLiteStore) GetVersion(ctx context.Context, versionID string) (*model.FactDefinitionVersion, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteVersionColumns+` FROM fact_versions WHERE id = ?`, versionID)
	return scanVersion(row)
}

func (s *SQLiteStore) ListVersions(ctx context.Context, factID string) ([]model.FactDefinitionVersion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteVersionColumns+` FROM fact_versions WHERE fact_id = ? ORDER BY version`, factID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list versions %s", factID)
	}
	defer rows.Close()

	var versions []model.FactDefinitionVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, *v)
	}
	return versions, eris.Wrap(rows.Err(), "sqlite: list versions iterate")
}

func (s *SQLiteStore) GetLatestApprovedVersion(ctx context.Context, factID string) (*model.FactDefinitionVersion, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteVersionColumns+` FROM fact_versions
		 WHERE fact_id = ? AND status = 'approved'
		 ORDER BY version DESC LIMIT 1`, factID)
	return scanVersion(row)
}

func (s *SQLiteStore) UpdateVersionStatus(ctx context.Context, versionID string, status model.VersionStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE fact_versions SET status = ? WHERE id = ?`,
		string(status), versionID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update version status %s", versionID)
	}
	return checkRowsAffected(res, "version", versionID)
}

// Recognizers

func (s *SQLiteStore) SaveRecognizer(ctx context.Context, rec model.IntentRecognizer) error {
	patterns, err := marshalJSON(rec.RegexPatterns)
	if err != nil {
		return err
	}
	keywords, err := marshalJSON(rec.Keywords)
	if err != nil {
		return err
	}
	examples, err := marshalJSON(rec.ExampleQuestions)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO intent_recognizers (version_id, regex_patterns, keywords, example_questions) VALUES (?, ?, ?, ?)
		 ON CONFLICT(version_id) DO UPDATE SET regex_patterns = ?, keywords = ?, example_questions = ?`,
		rec.VersionID, patterns, keywords, examples, patterns, keywords, examples,
	)
	return eris.Wrapf(err, "sqlite: save recognizer %s", rec.VersionID)
}

func (s *SQLiteStore) ListRecognizers(ctx context.Context) ([]router.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT v.id, v.fact_id, v.version, v.status, v.logic_type, v.logic, v.requires, v.dependencies, v.parameters_schema, v.output_template, v.test_cases, v.created_at,
		        r.regex_patterns, r.keywords, r.example_questions
		 FROM intent_recognizers r
		 JOIN fact_versions v ON v.id = r.version_id
		 JOIN fact_definitions d ON d.id = v.fact_id AND d.active = 1
		 WHERE v.status = 'approved'
		   AND v.version = (SELECT MAX(v2.version) FROM fact_versions v2 WHERE v2.fact_id = v.fact_id AND v2.status = 'approved')
		 ORDER BY v.fact_id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list recognizers")
	}
	defer rows.Close()

	var entries []router.Entry
	for rows.Next() {
		var v model.FactDefinitionVersion
		var requires, deps, schema, template, testCases sql.NullString
		var patterns, keywords, examples sql.NullString

		if err := rows.Scan(&v.ID, &v.FactID, &v.Version, &v.Status, &v.LogicType, &v.Logic,
			&requires, &deps, &schema, &template, &testCases, &v.CreatedAt,
			&patterns, &keywords, &examples); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan recognizer")
		}
		if err := unmarshalJSON(requires.String, &v.Requires); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(deps.String, &v.Dependencies); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(testCases.String, &v.TestCases); err != nil {
			return nil, err
		}
		v.ParametersSchema = schema.String
		v.OutputTemplate = template.String

		rec := model.IntentRecognizer{VersionID: v.ID}
		if err := unmarshalJSON(patterns.String, &rec.RegexPatterns); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(keywords.String, &rec.Keywords); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(examples.String, &rec.ExampleQuestions); err != nil {
			return nil, err
		}
		entries = append(entries, router.Entry{Version: &v, Recognizer: rec})
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list recognizers iterate")
}

// Instance cache

const sqliteInstanceColumns = `id, version_id, fact_id, context, context_hash, value, status, error, provenance, confidence, valid_from, valid_to, created_at`

func scanInstance(row scannable) (*model.FactInstance, error) {
	var inst model.FactInstance
	var ctxJSON string
	var valueJSON, provJSON sql.NullString

	err := row.Scan(&inst.ID, &inst.VersionID, &inst.FactID, &ctxJSON, &inst.ContextHash,
		&valueJSON, &inst.Status, &inst.Error, &provJSON, &inst.Confidence,
		&inst.ValidFrom, &inst.ValidTo, &inst.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan instance")
	}

	if err := unmarshalJSON(ctxJSON, &inst.Context); err != nil {
		return nil, err
	}
	if valueJSON.Valid {
		if err := unmarshalJSON(valueJSON.String, &inst.Value); err != nil {
			return nil, err
		}
	}
	if provJSON.Valid && provJSON.String != "" && provJSON.String != "null" {
		inst.Provenance = &model.Provenance{}
		if err := unmarshalJSON(provJSON.String, inst.Provenance); err != nil {
			return nil, err
		}
	}
	return &inst, nil
}

func (s *SQLiteStore) GetInstance(ctx context.Context, versionID, contextHash string) (*model.FactInstance, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteInstanceColumns+` FROM fact_instances WHERE version_id = ? AND context_hash = ?`,
		versionID, contextHash)
	return scanInstance(row)
}

// CreateInstance inserts under create-if-absent. A concurrent writer that
// loses the unique-index race gets the winning row back with created=false.
func (s *SQLiteStore) CreateInstance(ctx context.Context, inst *model.FactInstance) (*model.FactInstance, bool, error) {
	if inst.ID == "" {
		inst.ID = uuid.New().String()
	}
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = time.Now().UTC()
	}

	ctxJSON, err := marshalJSON(inst.Context)
	if err != nil {
		return nil, false, err
	}
	valueJSON, err := marshalJSON(inst.Value)
	if err != nil {
		return nil, false, err
	}
	provJSON, err := marshalJSON(inst.Provenance)
	if err != nil {
		return nil, false, err
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO fact_instances (`+sqliteInstanceColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(version_id, context_hash) DO NOTHING`,
		inst.ID, inst.VersionID, inst.FactID, ctxJSON, inst.ContextHash,
		valueJSON, string(inst.Status), inst.Error, provJSON, inst.Confidence,
		inst.ValidFrom, inst.ValidTo, inst.CreatedAt,
	)
	if err != nil {
		return nil, false, eris.Wrapf(err, "sqlite: insert instance %s", inst.FactID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		winner, err := s.GetInstance(ctx, inst.VersionID, inst.ContextHash)
		if err != nil {
			return nil, false, err
		}
		if winner == nil {
			return nil, false, eris.Errorf("sqlite: lost insert race for %s but winner not found", inst.FactID)
		}
		return winner, false, nil
	}
	return inst, true, nil
}

func (s *SQLiteStore) CreateInstanceDependencies(ctx context.Context, deps []model.FactInstanceDependency) error {
	for _, d := range deps {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO fact_instance_deps (instance_id, dependency_instance_id, dependency_fact_id) VALUES (?, ?, ?)
			 ON CONFLICT DO NOTHING`,
			d.InstanceID, d.DependencyID, d.DependencyFact,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert instance dep %s", d.InstanceID)
		}
	}
	return nil
}

func (s *SQLiteStore) ListInstances(ctx context.Context, factID string, limit int) ([]model.FactInstance, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteInstanceColumns+` FROM fact_instances WHERE fact_id = ? ORDER BY created_at DESC LIMIT ?`,
		factID, limit)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list instances %s", factID)
	}
	defer rows.Close()

	var instances []model.FactInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, *inst)
	}
	return instances, eris.Wrap(rows.Err(), "sqlite: list instances iterate")
}

// Questions and answers

func (s *SQLiteStore) CreateQuestion(ctx context.Context, q *model.Question) error {
	if q.ID == "" {
		q.ID = uuid.New().String()
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO questions (id, text, user_id, created_at) VALUES (?, ?, ?, ?)`,
		q.ID, q.Text, q.UserID, q.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert question")
}

func (s *SQLiteStore) CreateAnswer(ctx context.Context, a *model.Answer) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	instIDs, err := marshalJSON(a.FactInstanceIDs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO answers (id, question_id, text, fact_instance_ids, proposal_id, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.QuestionID, a.Text, instIDs, a.ProposalID, a.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert answer")
}

// Proposals

func (s *SQLiteStore) CreateProposal(ctx context.Context, p *model.TaxonomyProposal) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.Status == "" {
		p.Status = model.ProposalPending
	}
	testCases, err := marshalJSON(p.TestCases)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO proposals (id, question, feasibility, proposed_fact_id, proposed_logic, proposed_schema, proposed_template, test_cases, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Question, p.Feasibility, p.ProposedFactID, p.ProposedLogic,
		p.ProposedSchema, p.ProposedTemplate, testCases, string(p.Status), p.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert proposal")
}

const sqliteProposalColumns = `id, question, feasibility, proposed_fact_id, proposed_logic, proposed_schema, proposed_template, test_cases, status, created_at`

func scanProposal(row scannable) (*model.TaxonomyProposal, error) {
	var p model.TaxonomyProposal
	var schema, template, testCases sql.NullString

	err := row.Scan(&p.ID, &p.Question, &p.Feasibility, &p.ProposedFactID, &p.ProposedLogic,
		&schema, &template, &testCases, &p.Status, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan proposal")
	}
	p.ProposedSchema = schema.String
	p.ProposedTemplate = template.String
	if err := unmarshalJSON(testCases.String, &p.TestCases); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *SQLiteStore) GetProposal(ctx context.Context, id string) (*model.TaxonomyProposal, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteProposalColumns+` FROM proposals WHERE id = ?`, id)
	return scanProposal(row)
}

func (s *SQLiteStore) ListProposals(ctx context.Context, status model.ProposalStatus) ([]model.TaxonomyProposal, error) {
	query := `SELECT ` + sqliteProposalColumns + ` FROM proposals`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list proposals")
	}
	defer rows.Close()

	var proposals []model.TaxonomyProposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		proposals = append(proposals, *p)
	}
	return proposals, eris.Wrap(rows.Err(), "sqlite: list proposals iterate")
}

func (s *SQLiteStore) UpdateProposalStatus(ctx context.Context, id string, status model.ProposalStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE proposals SET status = ? WHERE id = ?`,
		string(status), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update proposal status %s", id)
	}
	return checkRowsAffected(res, "proposal", id)
}

// Ledger feeds

func (s *SQLiteStore) CreateAccount(ctx context.Context, a model.Account) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (id, name, user_id) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = ?, user_id = ?`,
		a.ID, a.Name, a.UserID, a.Name, a.UserID,
	)
	return eris.Wrapf(err, "sqlite: upsert account %s", a.ID)
}

func (s *SQLiteStore) ListAccounts(ctx context.Context, userID string) ([]model.Account, error) {
	query := `SELECT id, name, user_id FROM accounts`
	var args []any
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list accounts")
	}
	defer rows.Close()

	var accounts []model.Account
	for rows.Next() {
		var a model.Account
		if err := rows.Scan(&a.ID, &a.Name, &a.UserID); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan account")
		}
		accounts = append(accounts, a)
	}
	return accounts, eris.Wrap(rows.Err(), "sqlite: list accounts iterate")
}

func (s *SQLiteStore) InsertBankTransactions(ctx context.Context, txs []model.BankTransaction) (int64, error) {
	var n int64
	for _, tx := range txs {
		if tx.ID == "" {
			tx.ID = uuid.New().String()
		}
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO bank_transactions (id, account_id, posting_date, description, amount, type, balance) VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO NOTHING`,
			tx.ID, tx.AccountID, tx.PostingDate.UTC(), tx.Description, tx.Amount.String(), tx.Type, tx.Balance.String(),
		)
		if err != nil {
			return n, eris.Wrap(err, "sqlite: insert bank transaction")
		}
		rows, _ := res.RowsAffected()
		n += rows
	}
	return n, nil
}

func (s *SQLiteStore) InsertCardCharges(ctx context.Context, charges []model.CardCharge) (int64, error) {
	var n int64
	for _, c := range charges {
		if c.ID == "" {
			c.ID = uuid.New().String()
		}
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO card_charges (id, account_id, transaction_date, post_date, description, category, type, amount) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO NOTHING`,
			c.ID, c.AccountID, c.TransactionDate.UTC(), c.PostDate.UTC(), c.Description, c.Category, c.Type, c.Amount.String(),
		)
		if err != nil {
			return n, eris.Wrap(err, "sqlite: insert card charge")
		}
		rows, _ := res.RowsAffected()
		n += rows
	}
	return n, nil
}

func (s *SQLiteStore) ListBankTransactions(ctx context.Context, f ledger.Filter) ([]model.BankTransaction, error) {
	query := `SELECT t.id, t.account_id, t.posting_date, t.description, t.amount, t.type, t.balance
	          FROM bank_transactions t JOIN accounts a ON a.id = t.account_id WHERE 1=1`
	var args []any
	if f.UserID != "" {
		query += ` AND a.user_id = ?`
		args = append(args, f.UserID)
	}
	if f.AccountID != "" {
		query += ` AND t.account_id = ?`
		args = append(args, f.AccountID)
	}
	if !f.Start.IsZero() {
		query += ` AND t.posting_date >= ?`
		args = append(args, f.Start.UTC())
	}
	if !f.End.IsZero() {
		query += ` AND t.posting_date <= ?`
		args = append(args, f.End.UTC())
	}
	query += ` ORDER BY t.posting_date, t.id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list bank transactions")
	}
	defer rows.Close()

	var txs []model.BankTransaction
	for rows.Next() {
		var tx model.BankTransaction
		var amount, balance string
		if err := rows.Scan(&tx.ID, &tx.AccountID, &tx.PostingDate, &tx.Description, &amount, &tx.Type, &balance); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan bank transaction")
		}
		if tx.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, eris.Wrap(err, "sqlite: parse amount")
		}
		if tx.Balance, err = decimal.NewFromString(balance); err != nil {
			return nil, eris.Wrap(err, "sqlite: parse balance")
		}
		txs = append(txs, tx)
	}
	return txs, eris.Wrap(rows.Err(), "sqlite: list bank transactions iterate")
}

func (s *SQLiteStore) ListCardCharges(ctx context.Context, f ledger.Filter) ([]model.CardCharge, error) {
	query := `SELECT c.id, c.account_id, c.transaction_date, c.post_date, c.description, c.category, c.type, c.amount
	          FROM card_charges c JOIN accounts a ON a.id = c.account_id WHERE 1=1`
	var args []any
	if f.UserID != "" {
		query += ` AND a.user_id = ?`
		args = append(args, f.UserID)
	}
	if f.AccountID != "" {
		query += ` AND c.account_id = ?`
		args = append(args, f.AccountID)
	}
	if f.Category != "" {
		query += ` AND c.category = ?`
		args = append(args, f.Category)
	}
	if !f.Start.IsZero() {
		query += ` AND c.transaction_date >= ?`
		args = append(args, f.Start.UTC())
	}
	if !f.End.IsZero() {
		query += ` AND c.transaction_date <= ?`
		args = append(args, f.End.UTC())
	}
	query += ` ORDER BY c.transaction_date, c.id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list card charges")
	}
	defer rows.Close()

	var charges []model.CardCharge
	for rows.Next() {
		var c model.CardCharge
		var amount string
		if err := rows.Scan(&c.ID, &c.AccountID, &c.TransactionDate, &c.PostDate, &c.Description, &c.Category, &c.Type, &amount); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan card charge")
		}
		if c.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, eris.Wrap(err, "sqlite: parse amount")
		}
		charges = append(charges, c)
	}
	return charges, eris.Wrap(rows.Err(), "sqlite: list card charges iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}
