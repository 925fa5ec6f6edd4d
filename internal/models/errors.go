package models

import (
	"errors"
	"fmt"
)

var (
	ErrLoad               = errors.New("load error")
	ErrNoContent          = fmt.Errorf("%w: document has no extractable text", ErrLoad)
	ErrEmbeddingService   = errors.New("embedding service error")
	ErrIndex              = errors.New("index error")
	ErrDimensionMismatch  = fmt.Errorf("%w: vector dimension mismatch", ErrIndex)
	ErrCollectionNotFound = fmt.Errorf("%w: collection not found", ErrIndex)
	ErrGenerationService  = errors.New("generation service error")
	ErrNotReady           = errors.New("not ready: no document has been ingested")
	ErrMissingCredential  = errors.New("missing credential")
	ErrInvalidConfig      = errors.New("invalid config")
)
