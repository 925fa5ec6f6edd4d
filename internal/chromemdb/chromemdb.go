package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"docqa/internal/config"
	"docqa/internal/helper"
	"docqa/internal/models"
)

const (
	generationSeparator = "."
	metaSize            = "size"
	firstDocID          = "chunk-0"
)

// VectorDBManager is a chromem-go backed vector index. Each Create allocates a
// new generation (a chromem collection named <key>.<uuid>); a generation becomes
// searchable only once Add has stored all of its documents, at which point it
// replaces the previous generation of the same key.
type VectorDBManager struct {
	db            *chromem.DB
	dbPath        string
	compress      bool
	encryptionKey string

	mu      sync.RWMutex
	live    map[string]models.CollectionHandle
	pending map[string]string
}

// NewVectorDBManager initializes a new vector database manager
func NewVectorDBManager(cfg *config.VectorDBConfig) (*VectorDBManager, error) {
	var db *chromem.DB
	if cfg.InMemory {
		db = chromem.NewDB()
	} else {
		if err := helper.CreateFolder(cfg.Path); err != nil {
			return nil, err
		}
		var err error
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to create database: %v", models.ErrIndex, err)
		}
	}

	return &VectorDBManager{
		db:            db,
		dbPath:        cfg.Path,
		compress:      cfg.Compress,
		encryptionKey: cfg.EncryptionKey,
		live:          make(map[string]models.CollectionHandle),
		pending:       make(map[string]string),
	}, nil
}

// embeddings are always computed by the pipeline, never by chromem
func precomputedOnly(context.Context, string) ([]float32, error) {
	return nil, errors.New("chromemdb: documents and queries must carry precomputed embeddings")
}

// Create allocates a fresh, empty generation for key.
func (m *VectorDBManager) Create(ctx context.Context, key string) (*models.CollectionHandle, error) {
	if key == "" || strings.Contains(key, generationSeparator) {
		return nil, fmt.Errorf("%w: invalid collection key %q", models.ErrIndex, key)
	}
	generation, err := helper.GenerateUUID()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrIndex, err)
	}
	name := key + generationSeparator + generation

	if _, err := m.db.CreateCollection(name, map[string]string{"key": key}, precomputedOnly); err != nil {
		return nil, fmt.Errorf("%w: failed to create collection: %v", models.ErrIndex, err)
	}

	m.mu.Lock()
	m.pending[name] = key
	m.mu.Unlock()

	log.Debug().Str("collection", name).Msg("Created collection")
	return &models.CollectionHandle{Key: key, Name: name}, nil
}

// Add stores every chunk with its vector and publishes the generation.
// Either all chunks become searchable or, on error, none do and the
// previously published generation stays in place.
func (m *VectorDBManager) Add(ctx context.Context, h *models.CollectionHandle, chunks []models.Chunk, vectors [][]float32) error {
	if h == nil {
		return models.ErrCollectionNotFound
	}
	m.mu.RLock()
	_, isPending := m.pending[h.Name]
	m.mu.RUnlock()
	collection := m.db.GetCollection(h.Name, precomputedOnly)
	if !isPending || collection == nil {
		return fmt.Errorf("%w: %s is not awaiting documents", models.ErrCollectionNotFound, h.Name)
	}

	dim, err := models.ValidateVectors(chunks, vectors)
	if err != nil {
		m.discard(h.Name)
		return err
	}

	if len(chunks) > 0 {
		docs := make([]chromem.Document, len(chunks))
		for i, chunk := range chunks {
			docs[i] = chromem.Document{
				ID:        "chunk-" + strconv.Itoa(i),
				Content:   chunk.Content,
				Metadata:  createMetadata(chunk, len(chunks)),
				Embedding: vectors[i],
			}
		}
		if err := collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
			m.discard(h.Name)
			return fmt.Errorf("%w: failed to add documents: %w", models.ErrIndex, err)
		}
	}

	published := models.CollectionHandle{Key: h.Key, Name: h.Name, Dimension: dim, Size: len(chunks)}
	if len(chunks) > 0 {
		published.Document = chunks[0].Source
	}

	m.mu.Lock()
	previous, hadPrevious := m.live[h.Key]
	m.live[h.Key] = published
	delete(m.pending, h.Name)
	m.mu.Unlock()

	if hadPrevious {
		if err := m.db.DeleteCollection(previous.Name); err != nil {
			log.Warn().Err(err).Str("collection", previous.Name).Msg("Failed to delete replaced collection")
		}
	}
	*h = published

	log.Info().Str("collection", h.Name).Int("documents", h.Size).Int("dimension", h.Dimension).Msg("Published collection")
	return nil
}

// Search returns the k chunks most similar to query, highest similarity first.
// Equal scores keep insertion order.
func (m *VectorDBManager) Search(ctx context.Context, h *models.CollectionHandle, query []float32, k int) ([]models.ScoredChunk, error) {
	current, err := m.liveHandle(h)
	if err != nil {
		return nil, err
	}
	if current.Size > 0 && len(query) != current.Dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, collection has %d", models.ErrDimensionMismatch, len(query), current.Dimension)
	}
	if k <= 0 || current.Size == 0 {
		return []models.ScoredChunk{}, nil
	}

	collection := m.db.GetCollection(current.Name, precomputedOnly)
	if collection == nil {
		return nil, fmt.Errorf("%w: %s", models.ErrCollectionNotFound, current.Name)
	}
	count := collection.Count()
	if count == 0 {
		return []models.ScoredChunk{}, nil
	}

	// rank everything so ties can be ordered by chunk index, chromem's heap is not stable
	results, err := collection.QueryEmbedding(ctx, query, count, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query by similarity: %w", models.ErrIndex, err)
	}

	scored := make([]models.ScoredChunk, 0, len(results))
	for _, r := range results {
		scored = append(scored, models.ScoredChunk{Chunk: chunkFromMetadata(r.Content, r.Metadata), Score: r.Similarity})
	}
	sortScored(scored)
	if k < len(scored) {
		scored = scored[:k]
	}
	return scored, nil
}

// Drop removes a generation whether it is pending or published.
func (m *VectorDBManager) Drop(ctx context.Context, h *models.CollectionHandle) error {
	if h == nil {
		return nil
	}
	m.mu.Lock()
	if live, ok := m.live[h.Key]; ok && live.Name == h.Name {
		delete(m.live, h.Key)
	}
	delete(m.pending, h.Name)
	m.mu.Unlock()

	if err := m.db.DeleteCollection(h.Name); err != nil {
		return fmt.Errorf("%w: failed to drop collection: %v", models.ErrIndex, err)
	}
	return nil
}

// Live returns the published generation for key, if any.
func (m *VectorDBManager) Live(key string) (*models.CollectionHandle, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.live[key]
	if !ok {
		return nil, false
	}
	return &h, true
}

func (m *VectorDBManager) liveHandle(h *models.CollectionHandle) (models.CollectionHandle, error) {
	if h == nil {
		return models.CollectionHandle{}, models.ErrCollectionNotFound
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	current, ok := m.live[h.Key]
	if !ok || current.Name != h.Name {
		return models.CollectionHandle{}, fmt.Errorf("%w: %s", models.ErrCollectionNotFound, h.Name)
	}
	return current, nil
}

func (m *VectorDBManager) discard(name string) {
	m.mu.Lock()
	delete(m.pending, name)
	m.mu.Unlock()
	if err := m.db.DeleteCollection(name); err != nil {
		log.Warn().Err(err).Str("collection", name).Msg("Failed to delete incomplete collection")
	}
}

func sortScored(scored []models.ScoredChunk) {
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Chunk.ChunkIndex < scored[j].Chunk.ChunkIndex
	})
}
