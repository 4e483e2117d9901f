package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"vita-be/pkg/store"
)

// preferredQAFields come first, in this order; any other keys follow alphabetically.
var preferredQAFields = []string{"title", "topic", "question", "answer", "explanation", "code"}

func extractJSON(_ string, data []byte) ([]store.Chunk, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	if trimmed[0] != '[' {
		var v interface{}
		if err := json.Unmarshal(trimmed, &v); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
		pretty, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return nil, err
		}
		return []store.Chunk{{
			Content: string(pretty),
			Type:    store.ChunkDocument,
			ChunkID: "document",
		}}, nil
	}

	var records []json.RawMessage
	if err := json.Unmarshal(trimmed, &records); err != nil {
		return nil, fmt.Errorf("parse json array: %w", err)
	}

	chunks := make([]store.Chunk, 0, len(records))
	for i, raw := range records {
		content, fields, err := qaRecordText(raw)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		chunks = append(chunks, store.Chunk{
			Content: content,
			Type:    store.ChunkJSONQA,
			ChunkID: "qa-" + strconv.Itoa(i),
			Metadata: map[string]string{
				"record_index": strconv.Itoa(i),
				"fields":       strings.Join(fields, ","),
			},
		})
	}
	return chunks, nil
}

// qaRecordText renders one record as "key: value" lines in a stable order.
func qaRecordText(raw json.RawMessage) (string, []string, error) {
	var record map[string]interface{}
	if err := json.Unmarshal(raw, &record); err != nil {
		// Not an object: keep it, pretty-printed.
		var v interface{}
		if err := json.Unmarshal(raw, &v); err != nil {
			return "", nil, err
		}
		pretty, err := json.MarshalIndent(v, "", "  ")
		return string(pretty), nil, err
	}

	keys := orderedKeys(record)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(fieldText(record[k]))
		b.WriteByte('\n')
	}
	return b.String(), keys, nil
}

func orderedKeys(record map[string]interface{}) []string {
	keys := make([]string, 0, len(record))
	seen := make(map[string]bool, len(preferredQAFields))
	for _, k := range preferredQAFields {
		if _, ok := record[k]; ok {
			keys = append(keys, k)
			seen[k] = true
		}
	}
	var rest []string
	for k := range record {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}

func fieldText(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	}
}
