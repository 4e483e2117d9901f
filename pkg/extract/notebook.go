package extract

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"vita-be/pkg/store"
)

type notebookFile struct {
	Cells []notebookCell `json:"cells"`
}

type notebookCell struct {
	CellType string          `json:"cell_type"`
	Source   json.RawMessage `json:"source"`
}

// cellSource accepts both encodings nbformat allows: a string or a list of lines.
func cellSource(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var lines []string
	if err := json.Unmarshal(raw, &lines); err != nil {
		return "", fmt.Errorf("cell source: %w", err)
	}
	return strings.Join(lines, ""), nil
}

func extractNotebook(_ string, data []byte) ([]store.Chunk, error) {
	var nb notebookFile
	if err := json.Unmarshal(data, &nb); err != nil {
		return nil, fmt.Errorf("parse notebook: %w", err)
	}

	var chunks []store.Chunk
	for i, cell := range nb.Cells {
		if cell.CellType != "code" && cell.CellType != "markdown" {
			continue
		}
		src, err := cellSource(cell.Source)
		if err != nil {
			return nil, fmt.Errorf("cell %d: %w", i, err)
		}
		if strings.TrimSpace(src) == "" {
			continue
		}
		chunks = append(chunks, store.Chunk{
			Content: src,
			Type:    store.ChunkNotebookCell,
			ChunkID: "cell-" + strconv.Itoa(i),
			Metadata: map[string]string{
				"cell_type":  cell.CellType,
				"cell_index": strconv.Itoa(i),
			},
		})
	}
	return chunks, nil
}
