package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"golang.org/x/term"

	"docqa/internal/chromemdb"
	"docqa/internal/config"
	"docqa/internal/db"
	"docqa/internal/embedding"
	"docqa/internal/helper"
	"docqa/internal/llmservice"
	"docqa/internal/models"
	"docqa/internal/parser"
	"docqa/internal/rag"
	"docqa/internal/session"
)

// app holds everything a command needs for one run.
type app struct {
	cfg     *config.Config
	session *session.Session

	index   rag.VectorIndex
	chromem *chromemdb.VectorDBManager
	store   *db.VectorStore
	bunDB   *bun.DB
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if cfg.NeedsCredential() {
		sources := append(cfg.DefaultSources(), promptSource{})
		key, err := config.ResolveCredential(sources...)
		if err != nil {
			return nil, err
		}
		cfg.ApplyCredential(key)
	}

	a := &app{cfg: cfg}
	if err := a.openIndex(ctx); err != nil {
		return nil, err
	}

	embedder, err := embedding.NewFromConfig(ctx, &cfg.EmbedLLM, &cfg.RAG)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	generator, err := llmservice.NewFromConfig(ctx, &cfg.InferenceLLM)
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	var opts []session.Option
	if a.persistent() {
		opts = append(opts, session.WithKeepCollection())
	}
	a.session, err = session.New(session.Dependencies{
		Loader:    parser.NewLoader(),
		Embedder:  embedder,
		Index:     a.index,
		Generator: generator,
	}, &cfg.RAG, opts...)
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	log.Debug().
		Str("backend", cfg.VectorDB.Backend).
		Str("embed_provider", cfg.EmbedLLM.Provider).
		Str("embed_model", cfg.EmbedLLM.Model).
		Str("inference_provider", cfg.InferenceLLM.Provider).
		Str("inference_model", cfg.InferenceLLM.Model).
		Msg("Loaded config")
	return a, nil
}

func (a *app) openIndex(ctx context.Context) error {
	switch a.cfg.VectorDB.Backend {
	case config.BackendPostgres:
		sqldb, err := db.ConnectDB(&a.cfg.Database)
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		a.bunDB = db.NewDB(sqldb, a.cfg.Database.Debug)
		if err := db.InitDB(ctx, a.bunDB); err != nil {
			a.bunDB.Close()
			return err
		}
		a.store = db.NewVectorStore(a.bunDB)
		a.index = a.store
	default:
		m, err := chromemdb.NewVectorDBManager(&a.cfg.VectorDB)
		if err != nil {
			return err
		}
		if !a.cfg.VectorDB.InMemory {
			if _, err := m.Restore(ctx); err != nil {
				return err
			}
		}
		a.chromem = m
		a.index = m
	}
	return nil
}

// persistent reports whether collections outlive the process.
func (a *app) persistent() bool {
	return a.cfg.VectorDB.Backend == config.BackendPostgres || !a.cfg.VectorDB.InMemory
}

// live returns the published collection for key, if any.
func (a *app) live(ctx context.Context, key string) (*models.CollectionHandle, error) {
	if a.store != nil {
		h, err := a.store.Live(ctx, key)
		if errors.Is(err, models.ErrCollectionNotFound) {
			return nil, nil
		}
		return h, err
	}
	if h, ok := a.chromem.Live(key); ok {
		return h, nil
	}
	return nil, nil
}

// open makes the session ready for the document at path, reusing an
// indexed copy when the backend kept one.
func (a *app) open(ctx context.Context, path string, reindex bool) error {
	name := filepath.Base(path)
	if !reindex {
		h, err := a.live(ctx, helper.CollectionKey(name))
		if err != nil {
			return err
		}
		if h != nil && h.Document == name {
			a.session.Resume(h)
			return nil
		}
	}
	_, err := a.ingest(ctx, path)
	return err
}

func (a *app) ingest(ctx context.Context, path string) (*models.CollectionHandle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrLoad, err)
	}
	return a.session.Ingest(ctx, models.Document{Name: filepath.Base(path), Data: data})
}

func (a *app) close(ctx context.Context) {
	if a.session != nil {
		if err := a.session.Close(ctx); err != nil {
			log.Warn().Err(err).Msg("Error closing session")
		}
	}
	if a.bunDB != nil {
		if err := a.bunDB.Close(); err != nil {
			log.Warn().Err(err).Msg("Error closing database")
		}
	}
}

// promptSource asks for the API key on the terminal without echoing it.
type promptSource struct{}

func (promptSource) Name() string { return "prompt" }

func (promptSource) Lookup() (string, bool, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", false, nil
	}
	fmt.Fprint(os.Stderr, "API key: ")
	key, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", false, err
	}
	return string(key), len(key) > 0, nil
}
