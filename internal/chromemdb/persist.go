package chromemdb

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"docqa/internal/models"
)

func createMetadata(chunk models.Chunk, size int) map[string]string {
	pages := make([]string, len(chunk.Pages))
	for i, p := range chunk.Pages {
		pages[i] = strconv.Itoa(p)
	}
	return map[string]string{
		models.MetaChunkIndex:     strconv.Itoa(chunk.ChunkIndex),
		models.MetaStartPage:      strconv.Itoa(chunk.StartPage),
		models.MetaEndPage:        strconv.Itoa(chunk.EndPage),
		models.MetaPages:          strings.Join(pages, ","),
		models.MetaOffset:         strconv.Itoa(chunk.Offset),
		models.MetaSourceDocument: chunk.Source,
		metaSize:                  strconv.Itoa(size),
	}
}

func chunkFromMetadata(content string, metadata map[string]string) models.Chunk {
	chunk := models.Chunk{
		Content:    content,
		ChunkIndex: atoi(metadata[models.MetaChunkIndex]),
		StartPage:  atoi(metadata[models.MetaStartPage]),
		EndPage:    atoi(metadata[models.MetaEndPage]),
		Offset:     atoi(metadata[models.MetaOffset]),
		Source:     metadata[models.MetaSourceDocument],
	}
	if pages := metadata[models.MetaPages]; pages != "" {
		for _, p := range strings.Split(pages, ",") {
			chunk.Pages = append(chunk.Pages, atoi(p))
		}
	}
	return chunk
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// Restore rebuilds the set of live collections from what the database holds,
// e.g. after opening a persistent database or importing a file. For every key
// the newest complete generation wins; incomplete and superseded generations
// are deleted.
func (m *VectorDBManager) Restore(ctx context.Context) ([]models.CollectionHandle, error) {
	newest := make(map[string]models.CollectionHandle)
	var stale []string

	for name, collection := range m.db.ListCollections() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		key, _, ok := strings.Cut(name, generationSeparator)
		if !ok || key == "" {
			continue
		}

		m.mu.RLock()
		_, isPending := m.pending[name]
		m.mu.RUnlock()
		if isPending {
			continue
		}

		count := collection.Count()
		first, err := collection.GetByID(ctx, firstDocID)
		if count == 0 || err != nil || atoi(first.Metadata[metaSize]) != count {
			log.Warn().Str("collection", name).Int("documents", count).Msg("Discarding incomplete collection")
			stale = append(stale, name)
			continue
		}
		h := models.CollectionHandle{
			Key:       key,
			Name:      name,
			Document:  first.Metadata[models.MetaSourceDocument],
			Dimension: len(first.Embedding),
			Size:      count,
		}

		// generation names are uuid v7 so the lexically greatest is the newest
		if prev, seen := newest[key]; seen {
			if prev.Name > name {
				stale = append(stale, name)
				continue
			}
			stale = append(stale, prev.Name)
		}
		newest[key] = h
	}

	for _, name := range stale {
		if err := m.db.DeleteCollection(name); err != nil {
			return nil, fmt.Errorf("%w: failed to delete stale collection %s: %v", models.ErrIndex, name, err)
		}
	}

	handles := make([]models.CollectionHandle, 0, len(newest))
	m.mu.Lock()
	m.live = newest
	for _, h := range newest {
		handles = append(handles, h)
	}
	m.mu.Unlock()

	sort.Slice(handles, func(i, j int) bool { return handles[i].Key < handles[j].Key })
	log.Debug().Int("collections", len(handles)).Int("discarded", len(stale)).Msg("Restored collections")
	return handles, nil
}

// ExportPath is the default export file for a collection key.
func (m *VectorDBManager) ExportPath(key string) string {
	return filepath.Join(m.dbPath, key+".chromem")
}

// Export writes the live generation of key to an encrypted file.
func (m *VectorDBManager) Export(ctx context.Context, key, filePath string) error {
	if m.encryptionKey == "" {
		return fmt.Errorf("%w: encryption key is required", models.ErrInvalidConfig)
	}
	if filePath == "" {
		return fmt.Errorf("%w: export path is required", models.ErrInvalidConfig)
	}
	h, ok := m.Live(key)
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrCollectionNotFound, key)
	}

	log.Debug().Str("collection", h.Name).Str("file", filePath).Bool("compress", m.compress).Msg("Exporting collection")
	if err := m.db.ExportToFile(filePath, m.compress, m.encryptionKey, h.Name); err != nil {
		return fmt.Errorf("%w: failed to export database: %v", models.ErrIndex, err)
	}
	return nil
}

// Import loads collections from an exported file and restores the live set.
func (m *VectorDBManager) Import(ctx context.Context, filePath string) ([]models.CollectionHandle, error) {
	if err := m.db.ImportFromFile(filePath, m.encryptionKey); err != nil {
		return nil, fmt.Errorf("%w: failed to import database: %v", models.ErrIndex, err)
	}
	return m.Restore(ctx)
}
