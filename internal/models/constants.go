package models

const (
	ContextSeparator    = "\n\n"
	CollectionKeyPrefix = "pdf_collection_"
	MetaChunkIndex      = "chunk_index"
	MetaStartPage       = "start_page"
	MetaEndPage         = "end_page"
	MetaPages           = "pages"
	MetaOffset          = "offset"
	MetaSourceDocument  = "source"
	PromptVarContext    = "context"
	PromptVarQuestion   = "question"
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
	DefaultTopK         = 4
	DefaultTemperature  = 0.3
	DefaultEmbedBatch   = 32
	DefaultEmbedWorkers = 4
)

var (
	// AnswerPromptTemplate is rendered with langchaingo prompts (go template syntax).
	AnswerPromptTemplate = `You are a helpful AI assistant that answers questions about a document.
Use only the following pieces of context to answer the question at the end.
If the context does not contain the answer, say that you don't know. Do not make up an answer.

Context:
{{.context}}

Question: {{.question}}

Answer:`
)
