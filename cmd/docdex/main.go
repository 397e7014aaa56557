// Command docdex is the document ingestion and search service.
//
// Usage:
//
//	docdex -config docdex.yaml    # run with config file
//	docdex -db docdex.db          # run with defaults
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/docdex"
	"github.com/hazyhaar/docdex/index"
	"github.com/hazyhaar/docdex/ingest"
	"github.com/hazyhaar/docdex/status"
)

func main() {
	configPath := flag.String("config", "", "path to docdex.yaml config file")
	dbPath := flag.String("db", "", "path to SQLite database")
	listen := flag.String("listen", "", "listen address (overrides config)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *dbPath, *listen); err != nil {
		logger.Error("docdex: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, dbPath, listen string) error {
	cfg, err := resolveConfig(configPath, dbPath)
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.Listen = listen
	}

	svc, err := docdex.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer svc.Close()

	svc.Start(ctx)

	srv := &http.Server{
		Addr:         cfg.Listen,
		Handler:      router(svc, logger),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	logger.Info("docdex: listening", "addr", cfg.Listen)

	select {
	case err := <-errc:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	logger.Info("docdex: shutting down")
	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

func resolveConfig(configPath, dbPath string) (*docdex.Config, error) {
	if configPath != "" {
		return docdex.LoadConfigFile(configPath)
	}
	cfg := &docdex.Config{}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	return cfg, nil
}

func router(svc *docdex.Service, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Post("/documents", uploadHandler(svc, logger))

	r.Get("/documents", func(w http.ResponseWriter, r *http.Request) {
		ownerID := r.URL.Query().Get("user_id")
		if ownerID == "" {
			httpError(w, http.StatusBadRequest, "user_id is required")
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		docs, err := svc.Documents(r.Context(), ownerID, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "list failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
	})

	r.Get("/documents/{id}", func(w http.ResponseWriter, r *http.Request) {
		doc, err := svc.Document(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, status.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "lookup failed")
			return
		}
		writeJSON(w, http.StatusOK, doc)
	})

	r.Post("/documents/{id}/reprocess", func(w http.ResponseWriter, r *http.Request) {
		err := svc.Reprocess(r.Context(), chi.URLParam(r, "id"))
		switch {
		case errors.Is(err, status.ErrNotFound):
			httpError(w, http.StatusNotFound, "not found")
		case errors.Is(err, status.ErrBadTransition):
			httpError(w, http.StatusConflict, err.Error())
		case errors.Is(err, ingest.ErrQueueFull):
			httpError(w, http.StatusServiceUnavailable, "busy, retry later")
		case err != nil:
			httpError(w, http.StatusInternalServerError, "reprocess failed")
		default:
			w.WriteHeader(http.StatusAccepted)
		}
	})

	r.Get("/search", searchHandler(svc))

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		stats, err := svc.Stats(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "stats failed")
			return
		}
		writeJSON(w, http.StatusOK, stats)
	})

	r.Get("/dead-letters", func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		jobs, err := svc.DeadLetters(r.Context(), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "list failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
	})

	r.Post("/dead-letters/{id}/redrive", func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Redrive(r.Context(), chi.URLParam(r, "id")); err != nil {
			logger.Warn("redrive", "error", err)
			httpError(w, http.StatusNotFound, err.Error())
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	return r
}

func uploadHandler(svc *docdex.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID := r.URL.Query().Get("user_id")
		if ownerID == "" {
			httpError(w, http.StatusBadRequest, "user_id is required")
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			httpError(w, http.StatusBadRequest, "missing file field")
			return
		}
		defer file.Close()

		doc, err := svc.Upload(r.Context(), ownerID, header.Filename, file)
		if errors.Is(err, ingest.ErrQueueFull) {
			// Stored and tracked, but not yet picked up.
			writeJSON(w, http.StatusAccepted, doc)
			return
		}
		if err != nil {
			logger.Warn("upload rejected", "error", err)
			httpError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, doc)
	}
}

func searchHandler(svc *docdex.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		req := index.Request{
			OwnerID:   q.Get("user_id"),
			Query:     q.Get("q"),
			Filename:  q.Get("pdf_filename"),
			Type:      q.Get("type"),
			SortBy:    q.Get("sort_by"),
			SortOrder: q.Get("sort_order"),
		}
		req.PageNumber, _ = strconv.Atoi(q.Get("page_number"))
		req.TotalPages, _ = strconv.Atoi(q.Get("total_pages"))
		req.Size, _ = strconv.Atoi(q.Get("size"))
		req.From, _ = strconv.Atoi(q.Get("from"))

		resp, err := svc.Search(r.Context(), req)
		switch {
		case errors.Is(err, index.ErrNoOwner), errors.Is(err, index.ErrNoFilter):
			httpError(w, http.StatusBadRequest, err.Error())
		case err != nil:
			httpError(w, http.StatusInternalServerError, "search failed")
		default:
			writeJSON(w, http.StatusOK, resp)
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
