package utils

import "strings"

// SplitText splits a long string into chunks of at most 'chunkSize' runes.
// It includes an 'overlap' to preserve context at boundaries and prefers to
// cut at a newline or space in the last fifth of a window.
func SplitText(text string, chunkSize int, overlap int) []string {
	runes := []rune(text)
	totalLen := len(runes)
	if chunkSize <= 0 || totalLen <= chunkSize {
		return []string{text}
	}

	step := chunkSize - overlap
	if step <= 0 {
		step = chunkSize // fallback if overlap >= chunkSize
	}

	var chunks []string
	for i := 0; i < totalLen; {
		end := i + chunkSize
		if end >= totalLen {
			chunks = append(chunks, string(runes[i:totalLen]))
			break
		}

		end = softBreak(runes, i, end, chunkSize/5)
		chunks = append(chunks, strings.TrimSpace(string(runes[i:end])))

		next := end - overlap
		if next <= i {
			next = i + step
		}
		i = next
	}

	return chunks
}

// softBreak moves end back to just after the nearest newline (or space) within window runes.
func softBreak(runes []rune, start, end, window int) int {
	for _, sep := range []rune{'\n', ' '} {
		for j := end - 1; j > start && j >= end-window; j-- {
			if runes[j] == sep {
				return j + 1
			}
		}
	}
	return end
}
