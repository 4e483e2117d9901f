package prompt

import (
	"context"
	"strings"

	"vita-be/internal/pkg/logger"
	"vita-be/pkg/rag"
	"vita-be/pkg/store"
)

const DefaultTopK = 3

// Augmenter prepends retrieved course material to a student's question.
type Augmenter struct {
	retriever rag.Retriever
	topK      int
	logger    logger.ILogger
}

func NewAugmenter(retriever rag.Retriever, topK int, log logger.ILogger) *Augmenter {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Augmenter{retriever: retriever, topK: topK, logger: log}
}

// Augment returns q unchanged when nothing relevant can be retrieved.
func (a *Augmenter) Augment(ctx context.Context, q string) (string, []store.ScoredChunk) {
	if a.retriever == nil {
		return q, nil
	}

	chunks, err := a.retriever.Retrieve(ctx, q, a.topK)
	if err != nil {
		a.logger.Warn("Augmenter", "Retrieval failed, continuing without context", map[string]interface{}{"error": err.Error()})
		return q, nil
	}
	if len(chunks) == 0 {
		a.logger.Warn("Augmenter", "No course material retrieved, continuing without context", nil)
		return q, nil
	}

	return Build(q, chunks), chunks
}

// Build lays out the teaching preamble, the reference material and the question.
func Build(q string, chunks []store.ScoredChunk) string {
	var prompt strings.Builder

	writeTask(&prompt)
	writeReferenceMaterial(&prompt, chunks)
	writeGuidelines(&prompt)
	writeQuestion(&prompt, q)

	return prompt.String()
}

func writeTask(prompt *strings.Builder) {
	prompt.WriteString("<task>\n")
	prompt.WriteString("You are a teaching assistant for an introductory programming course.\n")
	prompt.WriteString("Help the student understand the problem rather than handing over a finished answer.\n")
	prompt.WriteString("</task>\n\n")
}

func writeReferenceMaterial(prompt *strings.Builder, chunks []store.ScoredChunk) {
	prompt.WriteString("<course_material>\n")
	for _, c := range chunks {
		prompt.WriteString("<source path=\"")
		prompt.WriteString(c.SourcePath)
		prompt.WriteString("\">\n")
		prompt.WriteString(c.Content)
		prompt.WriteString("\n</source>\n")
	}
	prompt.WriteString("</course_material>\n\n")
}

func writeGuidelines(prompt *strings.Builder) {
	prompt.WriteString("<guidelines>\n")
	prompt.WriteString("1. Prefer the terminology and examples used in the course material\n")
	prompt.WriteString("2. Point to the relevant concept before showing code\n")
	prompt.WriteString("3. If the material does not cover the question, say so and answer from general knowledge\n")
	prompt.WriteString("</guidelines>\n\n")
}

func writeQuestion(prompt *strings.Builder, q string) {
	prompt.WriteString("<current_question>\n")
	prompt.WriteString(q)
	prompt.WriteString("\n</current_question>")
}
