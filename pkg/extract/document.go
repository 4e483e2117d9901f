package extract

import (
	"errors"
	"unicode/utf8"

	"vita-be/pkg/store"
)

var errNotUTF8 = errors.New("file is not valid UTF-8 text")

// extractDocument keeps plain text, markdown and source files whole; long ones are split later.
func extractDocument(_ string, data []byte) ([]store.Chunk, error) {
	if !utf8.Valid(data) {
		return nil, errNotUTF8
	}
	return []store.Chunk{{
		Content: string(data),
		Type:    store.ChunkDocument,
		ChunkID: "document",
	}}, nil
}
