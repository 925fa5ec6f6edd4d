package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"docqa/internal/config"
	"docqa/internal/helper"
	"docqa/internal/models"
)

// Collection is the published generation for a collection key.
type Collection struct {
	bun.BaseModel `bun:"table:collections,alias:col"`
	Key           string    `bun:"collection_key,pk"`
	Generation    string    `bun:"generation,notnull"`
	Document      string    `bun:"document"`
	Dimension     int       `bun:"dimension,notnull"`
	Size          int       `bun:"chunk_count,notnull"`
	PublishedAt   time.Time `bun:"published_at,notnull,default:current_timestamp"`
}

// Chunk is one stored chunk of a generation.
type Chunk struct {
	bun.BaseModel `bun:"table:chunks,alias:c"`
	ID            int64           `bun:"id,pk,autoincrement"`
	Generation    string          `bun:"generation,notnull"`
	ChunkIndex    int             `bun:"chunk_index,notnull"`
	StartPage     int             `bun:"start_page"`
	EndPage       int             `bun:"end_page"`
	Pages         []int           `bun:"pages,array"`
	Offset        int             `bun:"char_offset"`
	Source        string          `bun:"source"`
	Content       string          `bun:"content,notnull"`
	Embedding     pgvector.Vector `bun:"embedding,notnull,type:vector"`
	Score         float64         `bun:"score,scanonly"`
}

func (c *Chunk) toModel() models.Chunk {
	return models.Chunk{
		Content:    c.Content,
		ChunkIndex: c.ChunkIndex,
		StartPage:  c.StartPage,
		EndPage:    c.EndPage,
		Pages:      c.Pages,
		Offset:     c.Offset,
		Source:     c.Source,
	}
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// ConnectDB opens the database with the configured driver.
func ConnectDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	dsn := withSSLMode(cfg.DSN)
	switch cfg.Driver {
	case config.DriverPq:
		return sql.Open("postgres", dsn)
	case config.DriverPgdriver, "":
		opts := []pgdriver.Option{pgdriver.WithDSN(dsn)}
		if cfg.Password != "" {
			opts = append(opts, pgdriver.WithPassword(cfg.Password))
		}
		return sql.OpenDB(pgdriver.NewConnector(opts...)), nil
	default:
		return nil, fmt.Errorf("%w: unknown database driver %q", models.ErrInvalidConfig, cfg.Driver)
	}
}

func withSSLMode(dsn string) string {
	if dsn == "" || strings.Contains(dsn, "sslmode=") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&sslmode=disable"
	}
	return dsn + "?sslmode=disable"
}

func InitDB(ctx context.Context, db *bun.DB) error {
	if _, err := db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("%w: enabling pgvector: %v", models.ErrIndex, err)
	}
	for _, model := range []any{(*Collection)(nil), (*Chunk)(nil)} {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("%w: creating table: %v", models.ErrIndex, err)
		}
	}
	_, err := db.NewCreateIndex().
		Model((*Chunk)(nil)).
		Index("chunks_generation_idx").
		IfNotExists().
		Column("generation", "chunk_index").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("%w: creating index: %v", models.ErrIndex, err)
	}
	return nil
}

// DropTables removes everything InitDB created.
func DropTables(ctx context.Context, db *bun.DB) error {
	for _, model := range []any{(*Chunk)(nil), (*Collection)(nil)} {
		if _, err := db.NewDropTable().Model(model).IfExists().Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

// VectorStore is a pgvector backed index. A generation is written and
// published in one transaction, so readers never see a partial collection.
type VectorStore struct {
	db *bun.DB

	mu      sync.Mutex
	pending map[string]string
}

func NewVectorStore(db *bun.DB) *VectorStore {
	return &VectorStore{db: db, pending: make(map[string]string)}
}

func (s *VectorStore) Create(ctx context.Context, key string) (*models.CollectionHandle, error) {
	if key == "" || strings.Contains(key, ".") {
		return nil, fmt.Errorf("%w: invalid collection key %q", models.ErrIndex, key)
	}
	generation, err := helper.GenerateUUID()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrIndex, err)
	}
	name := key + "." + generation

	s.mu.Lock()
	s.pending[name] = key
	s.mu.Unlock()
	return &models.CollectionHandle{Key: key, Name: name}, nil
}

func (s *VectorStore) Add(ctx context.Context, h *models.CollectionHandle, chunks []models.Chunk, vectors [][]float32) error {
	if h == nil {
		return models.ErrCollectionNotFound
	}
	s.mu.Lock()
	_, isPending := s.pending[h.Name]
	delete(s.pending, h.Name)
	s.mu.Unlock()
	if !isPending {
		return fmt.Errorf("%w: %s is not awaiting documents", models.ErrCollectionNotFound, h.Name)
	}

	dim, err := models.ValidateVectors(chunks, vectors)
	if err != nil {
		return err
	}

	records := make([]Chunk, len(chunks))
	for i, c := range chunks {
		records[i] = Chunk{
			Generation: h.Name,
			ChunkIndex: c.ChunkIndex,
			StartPage:  c.StartPage,
			EndPage:    c.EndPage,
			Pages:      c.Pages,
			Offset:     c.Offset,
			Source:     c.Source,
			Content:    c.Content,
			Embedding:  pgvector.NewVector(vectors[i]),
		}
	}
	published := &Collection{Key: h.Key, Generation: h.Name, Dimension: dim, Size: len(chunks), PublishedAt: time.Now()}
	if len(chunks) > 0 {
		published.Document = chunks[0].Source
	}

	err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if len(records) > 0 {
			if _, err := tx.NewInsert().Model(&records).Exec(ctx); err != nil {
				return fmt.Errorf("inserting chunks: %w", err)
			}
		}

		var previous Collection
		err := tx.NewSelect().Model(&previous).Where("collection_key = ?", h.Key).For("UPDATE").Scan(ctx)
		switch {
		case err == nil:
			if _, err := tx.NewDelete().Model((*Chunk)(nil)).Where("generation = ?", previous.Generation).Exec(ctx); err != nil {
				return fmt.Errorf("deleting previous generation: %w", err)
			}
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("reading previous generation: %w", err)
		}

		_, err = tx.NewInsert().
			Model(published).
			On("CONFLICT (collection_key) DO UPDATE").
			Set("generation = EXCLUDED.generation").
			Set("document = EXCLUDED.document").
			Set("dimension = EXCLUDED.dimension").
			Set("chunk_count = EXCLUDED.chunk_count").
			Set("published_at = EXCLUDED.published_at").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("publishing generation: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", models.ErrIndex, err)
	}

	h.Document = published.Document
	h.Dimension = dim
	h.Size = len(chunks)
	log.Info().Str("collection", h.Name).Int("documents", h.Size).Int("dimension", dim).Msg("Published collection")
	return nil
}

// Live returns the published generation for key.
func (s *VectorStore) Live(ctx context.Context, key string) (*models.CollectionHandle, error) {
	var col Collection
	err := s.db.NewSelect().Model(&col).Where("collection_key = ?", key).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", models.ErrCollectionNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrIndex, err)
	}
	return &models.CollectionHandle{
		Key:       col.Key,
		Name:      col.Generation,
		Document:  col.Document,
		Dimension: col.Dimension,
		Size:      col.Size,
	}, nil
}

// Search orders by cosine distance; the score is 1 - distance.
func (s *VectorStore) Search(ctx context.Context, h *models.CollectionHandle, query []float32, k int) ([]models.ScoredChunk, error) {
	if h == nil {
		return nil, models.ErrCollectionNotFound
	}
	live, err := s.Live(ctx, h.Key)
	if err != nil {
		return nil, err
	}
	if live.Name != h.Name {
		return nil, fmt.Errorf("%w: %s", models.ErrCollectionNotFound, h.Name)
	}
	if live.Size > 0 && len(query) != live.Dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, collection has %d", models.ErrDimensionMismatch, len(query), live.Dimension)
	}
	if k <= 0 || live.Size == 0 {
		return []models.ScoredChunk{}, nil
	}

	vec := pgvector.NewVector(query)
	var records []Chunk
	err = s.db.NewSelect().
		Model(&records).
		ColumnExpr("c.*").
		ColumnExpr("1 - (c.embedding <=> ?) AS score", vec).
		Where("c.generation = ?", h.Name).
		OrderExpr("c.embedding <=> ?", vec).
		OrderExpr("c.chunk_index").
		Limit(k).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: searching documents: %w", models.ErrIndex, err)
	}

	results := make([]models.ScoredChunk, len(records))
	for i := range records {
		results[i] = models.ScoredChunk{Chunk: records[i].toModel(), Score: float32(records[i].Score)}
	}
	return results, nil
}

func (s *VectorStore) Drop(ctx context.Context, h *models.CollectionHandle) error {
	if h == nil {
		return nil
	}
	s.mu.Lock()
	delete(s.pending, h.Name)
	s.mu.Unlock()

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*Collection)(nil)).
			Where("collection_key = ?", h.Key).
			Where("generation = ?", h.Name).
			Exec(ctx); err != nil {
			return fmt.Errorf("%w: dropping collection: %v", models.ErrIndex, err)
		}
		if _, err := tx.NewDelete().Model((*Chunk)(nil)).Where("generation = ?", h.Name).Exec(ctx); err != nil {
			return fmt.Errorf("%w: dropping chunks: %v", models.ErrIndex, err)
		}
		return nil
	})
}
