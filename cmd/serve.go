package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/finq/internal/qa"
	"github.com/sells-group/finq/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the question-answering HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		var engine atomic.Pointer[qa.Engine]
		engine.Store(e.Engine)

		r := newServeMux(&engine, e.Store)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: r,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func newServeMux(engine *atomic.Pointer[qa.Engine], st store.Store) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/v1/ask", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Question string         `json:"question"`
			UserID   string         `json:"user_id"`
			Context  map[string]any `json:"context"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		if body.Question == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "question is required"})
			return
		}

		result, err := engine.Load().Ask(req.Context(), body.Question, body.UserID, body.Context)
		if err != nil {
			zap.L().Error("ask failed", zap.String("question", body.Question), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}

		resp := map[string]any{
			"question_id": result.Question.ID,
			"answer":      result.Answer.Text,
			"answer_id":   result.Answer.ID,
		}
		if len(result.Answer.FactInstanceIDs) > 0 {
			resp["fact_instance_ids"] = result.Answer.FactInstanceIDs
		}
		if result.Answer.ProposalID != "" {
			resp["proposal_id"] = result.Answer.ProposalID
		}
		writeJSON(w, http.StatusOK, resp)
	})

	r.Get("/v1/graph", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/vnd.graphviz")
		fmt.Fprint(w, engine.Load().Resolver().Registry().DOT())
	})

	r.Post("/v1/refresh", func(w http.ResponseWriter, req *http.Request) {
		next, err := buildEngine(req.Context(), st, cfg)
		if err != nil {
			zap.L().Error("refresh failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		engine.Store(next)
		zap.L().Info("engine refreshed",
			zap.Int("facts", len(next.Resolver().Registry().All())),
		)
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "refreshed",
			"facts":  len(next.Resolver().Registry().All()),
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
