package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/finq/internal/config"
	"github.com/sells-group/finq/internal/ledger"
	"github.com/sells-group/finq/internal/llm"
	"github.com/sells-group/finq/internal/qa"
	"github.com/sells-group/finq/internal/registry"
	"github.com/sells-group/finq/internal/resolve"
	"github.com/sells-group/finq/internal/router"
	"github.com/sells-group/finq/internal/sandbox"
	"github.com/sells-group/finq/internal/store"
)

// env holds the wired engine for a command invocation.
type env struct {
	Store  store.Store
	Engine *qa.Engine
}

func (e *env) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "finq.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func sandboxOptions(st store.Store, c *config.Config) sandbox.Options {
	return sandbox.Options{
		Timeout: time.Duration(c.Sandbox.TimeoutSecs) * time.Second,
		Queries: ledger.New(st).QueryFuncs(),
	}
}

// buildEngine assembles registry, resolver, router and QA engine from the
// store. Called at startup and again on refresh.
func buildEngine(ctx context.Context, st store.Store, c *config.Config) (*qa.Engine, error) {
	led := ledger.New(st)

	reg, err := registry.Build(ctx, st, sandboxOptions(st, c), led.NativeSpecs()...)
	if err != nil {
		return nil, eris.Wrap(err, "build registry")
	}

	rt, err := router.New(ctx, st, c.Router.Threshold)
	if err != nil {
		return nil, eris.Wrap(err, "build router")
	}

	var llmClient llm.Client
	if oc := llm.NewOpenAI(c.OpenAI.Key, c.OpenAI.Model); oc != nil {
		llmClient = oc
	}

	return qa.New(st, resolve.New(reg, st), rt, llmClient), nil
}

func initEnv(ctx context.Context) (*env, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	engine, err := buildEngine(ctx, st, cfg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	return &env{Store: st, Engine: engine}, nil
}
