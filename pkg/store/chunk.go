package store

// ChunkType tags where a chunk came from.
type ChunkType string

const (
	ChunkNotebookCell ChunkType = "notebook_cell"
	ChunkHTMLSection  ChunkType = "html_section"
	ChunkJSONQA       ChunkType = "json_qa"
	ChunkSlide        ChunkType = "slide"
	ChunkDocument     ChunkType = "document"
)

// Chunk is one retrieval unit of instructor material. Immutable once ingested.
type Chunk struct {
	Content    string            `json:"content"`
	SourcePath string            `json:"source_path"` // relative to the ingestion root
	Type       ChunkType         `json:"chunk_type"`
	ChunkID    string            `json:"chunk_id"` // unique within SourcePath
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Key is the collection-wide identity of the chunk.
func (c Chunk) Key() string {
	return c.SourcePath + "#" + c.ChunkID
}

// EmbeddedChunk pairs a chunk with its vector.
type EmbeddedChunk struct {
	Chunk
	Embedding []float32 `json:"embedding"`
}

// ScoredChunk is a query hit. Lower distance means more similar.
type ScoredChunk struct {
	Chunk
	Distance float32 `json:"distance"`
}
