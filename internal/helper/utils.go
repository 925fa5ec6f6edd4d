package helper

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"docqa/internal/models"
)

// GenerateUUID creates a time ordered unique UUID string
func GenerateUUID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate UUID: %v", err)
	}
	return id.String(), nil
}

// CollectionKey derives the deterministic collection key for a document name.
func CollectionKey(documentName string) string {
	sum := sha1.Sum([]byte(documentName))
	return models.CollectionKeyPrefix + hex.EncodeToString(sum[:])[:8]
}

// create folder if it does not exist
func CreateFolder(path string) error {
	if path == "" {
		return fmt.Errorf("folder path is required")
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("failed to create folder %s: %v", path, err)
	}
	return nil
}

// Truncate shortens s to at most n runes, marking the cut with "..."
func Truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// pretty print
func PrettyPrint(v interface{}) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Warn().Err(err).Msg("Error pretty printing")
		return
	}
	fmt.Println(string(b))
}
