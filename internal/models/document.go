package models

// Document is an uploaded file, consumed once by ingestion
type Document struct {
	Name string
	Data []byte
}

// Page is one ordered unit of extracted text
type Page struct {
	Number int
	Text   string
}

// Chunk represents an indexed span of the document with its provenance
type Chunk struct {
	Content    string `json:"content"`
	ChunkIndex int    `json:"chunk_index"`
	StartPage  int    `json:"start_page"`
	EndPage    int    `json:"end_page"`
	Pages      []int  `json:"pages"`
	Offset     int    `json:"offset"`
	Source     string `json:"source,omitempty"`
}

// ScoredChunk is a search hit, higher score means more similar
type ScoredChunk struct {
	Chunk Chunk
	Score float32
}

// CollectionHandle identifies one published (or pending) generation of a collection.
type CollectionHandle struct {
	Key       string
	Name      string
	Document  string
	Dimension int
	Size      int
}

type Answer struct {
	Content string  `json:"content"`
	Sources []Chunk `json:"sources"`
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry of the conversation log
type Turn struct {
	Role       Role    `json:"role"`
	Content    string  `json:"content"`
	SequenceID int     `json:"id"`
	Sources    []Chunk `json:"sources,omitempty"`
}
