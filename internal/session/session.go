package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"docqa/internal/chunker"
	"docqa/internal/config"
	"docqa/internal/helper"
	"docqa/internal/models"
	"docqa/internal/rag"
)

type State int

const (
	Unready State = iota
	Ready
)

func (s State) String() string {
	if s == Ready {
		return "ready"
	}
	return "unready"
}

// Loader extracts ordered pages from an uploaded document.
type Loader interface {
	Load(ctx context.Context, doc models.Document) ([]models.Page, error)
}

type Dependencies struct {
	Loader    Loader
	Embedder  rag.Embedder
	Index     rag.VectorIndex
	Generator rag.Generator
}

type Stats struct {
	Document   string `json:"document"`
	Collection string `json:"collection"`
	Chunks     int    `json:"chunks"`
	Messages   int    `json:"messages"`
}

type Option func(*Session)

// WithKeepCollection leaves the collection in the index when the session is closed.
func WithKeepCollection() Option {
	return func(s *Session) { s.keepCollection = true }
}

// Session answers questions about one ingested document at a time.
type Session struct {
	loader      Loader
	chunker     *chunker.Chunker
	embedder    rag.Embedder
	index       rag.VectorIndex
	retriever   *rag.Retriever
	synthesizer *rag.Synthesizer

	timeout        time.Duration
	keepCollection bool

	// one ingest at a time
	ingestSlot chan struct{}

	// held for writing while a collection is published, for reading while it is searched
	mu     sync.RWMutex
	handle *models.CollectionHandle

	historyMu sync.Mutex
	history   []models.Turn
	lastID    int
	// bumped by Clear; replies to questions asked before it are dropped
	epoch int
}

func New(deps Dependencies, cfg *config.RAGConfig, opts ...Option) (*Session, error) {
	if deps.Loader == nil || deps.Embedder == nil || deps.Index == nil || deps.Generator == nil {
		return nil, fmt.Errorf("%w: session needs a loader, embedder, index and generator", models.ErrInvalidConfig)
	}
	c, err := chunker.New(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}

	s := &Session{
		loader:      deps.Loader,
		chunker:     c,
		embedder:    deps.Embedder,
		index:       deps.Index,
		retriever:   rag.NewRetriever(deps.Embedder, deps.Index, cfg.TopK),
		synthesizer: rag.NewSynthesizer(deps.Generator, cfg.Temperature),
		timeout:     cfg.RequestTimeout,
		ingestSlot:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Session) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(ctx, s.timeout)
	}
	return context.WithCancel(ctx)
}

// Ingest loads, chunks, embeds and indexes doc, replacing whatever was
// ingested before. On failure the session keeps its previous state.
func (s *Session) Ingest(ctx context.Context, doc models.Document) (*models.CollectionHandle, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	select {
	case s.ingestSlot <- struct{}{}:
		defer func() { <-s.ingestSlot }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	start := time.Now()
	pages, err := s.loader.Load(ctx, doc)
	if err != nil {
		return nil, err
	}

	chunks := s.chunker.Split(pages)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: %s", models.ErrNoContent, doc.Name)
	}
	texts := make([]string, len(chunks))
	for i := range chunks {
		chunks[i].Source = doc.Name
		texts[i] = chunks[i].Content
	}

	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}

	handle, err := s.publish(ctx, helper.CollectionKey(doc.Name), chunks, vectors)
	if err != nil {
		return nil, err
	}
	s.Clear()

	log.Info().Str("document", doc.Name).Str("collection", handle.Name).Int("pages", len(pages)).Int("chunks", len(chunks)).Dur("took", time.Since(start)).Msg("Document ingested")
	h := *handle
	return &h, nil
}

func (s *Session) publish(ctx context.Context, key string, chunks []models.Chunk, vectors [][]float32) (*models.CollectionHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	handle, err := s.index.Create(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := s.index.Add(ctx, handle, chunks, vectors); err != nil {
		if dropErr := s.index.Drop(context.WithoutCancel(ctx), handle); dropErr != nil {
			log.Warn().Err(dropErr).Str("collection", handle.Name).Msg("Failed to drop incomplete collection")
		}
		return nil, err
	}

	// a different document lives under a different key, drop it explicitly
	if previous := s.handle; previous != nil && previous.Key != key {
		if err := s.index.Drop(context.WithoutCancel(ctx), previous); err != nil {
			log.Warn().Err(err).Str("collection", previous.Name).Msg("Failed to drop previous collection")
		}
	}
	s.handle = handle
	return handle, nil
}

// Resume binds the session to a collection that is already published in the index.
func (s *Session) Resume(h *models.CollectionHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	resumed := *h
	s.handle = &resumed
	log.Info().Str("document", h.Document).Str("collection", h.Name).Msg("Resumed collection")
}

// Ask answers question from the ingested document. The question and, on
// success, the answer are appended to the history.
func (s *Session) Ask(ctx context.Context, question string) (*models.Answer, error) {
	s.mu.RLock()
	ready := s.handle != nil
	s.mu.RUnlock()
	if !ready {
		return nil, models.ErrNotReady
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	epoch := s.appendTurn(models.RoleUser, question, nil)

	chunks, err := s.retrieve(ctx, question)
	if err != nil {
		return nil, err
	}

	answer, err := s.synthesizer.Synthesize(ctx, question, chunks)
	if err != nil {
		return nil, err
	}

	if !s.appendReply(epoch, answer) {
		log.Debug().Int("epoch", epoch).Msg("History was cleared while answering, reply not recorded")
	}
	return answer, nil
}

func (s *Session) retrieve(ctx context.Context, question string) ([]models.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.handle == nil {
		return nil, models.ErrNotReady
	}
	return s.retriever.Retrieve(ctx, s.handle, question, 0)
}

// appendTurn records a turn and returns the history epoch it belongs to.
func (s *Session) appendTurn(role models.Role, content string, sources []models.Chunk) int {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()
	s.lastID++
	s.history = append(s.history, models.Turn{Role: role, Content: content, SequenceID: s.lastID, Sources: sources})
	return s.epoch
}

// appendReply records answer unless the history was cleared since epoch.
func (s *Session) appendReply(epoch int, answer *models.Answer) bool {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()
	if s.epoch != epoch {
		return false
	}
	s.lastID++
	s.history = append(s.history, models.Turn{Role: models.RoleAssistant, Content: answer.Content, SequenceID: s.lastID, Sources: answer.Sources})
	return true
}

// History returns a copy of the conversation so far.
func (s *Session) History() []models.Turn {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()
	out := make([]models.Turn, len(s.history))
	copy(out, s.history)
	return out
}

// Clear empties the conversation and restarts sequence ids.
func (s *Session) Clear() {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()
	s.history = nil
	s.lastID = 0
	s.epoch++
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.handle == nil {
		return Unready
	}
	return Ready
}

func (s *Session) Stats() Stats {
	var stats Stats
	s.mu.RLock()
	if s.handle != nil {
		stats.Document = s.handle.Document
		stats.Collection = s.handle.Name
		stats.Chunks = s.handle.Size
	}
	s.mu.RUnlock()

	s.historyMu.Lock()
	stats.Messages = len(s.history)
	s.historyMu.Unlock()
	return stats
}

// Close ends the session, dropping its collection unless WithKeepCollection was given.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	handle := s.handle
	s.handle = nil
	s.mu.Unlock()
	s.Clear()

	if handle == nil || s.keepCollection {
		return nil
	}
	return s.index.Drop(ctx, handle)
}
