package extract

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"vita-be/pkg/store"
)

// htmlBlock is either a heading (level 1-6) or a run of body text (level 0).
type htmlBlock struct {
	level int
	text  string
}

var skippedHTMLTags = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"head":     true,
	"template": true,
}

func headingLevel(tag string) int {
	if len(tag) == 2 && tag[0] == 'h' && tag[1] >= '1' && tag[1] <= '6' {
		return int(tag[1] - '0')
	}
	return 0
}

func flattenHTML(n *html.Node, out *[]htmlBlock) {
	switch n.Type {
	case html.ElementNode:
		if skippedHTMLTags[n.Data] {
			return
		}
		if lvl := headingLevel(n.Data); lvl > 0 {
			*out = append(*out, htmlBlock{level: lvl, text: normalizeSpace(nodeText(n))})
			return
		}
	case html.TextNode:
		if t := normalizeSpace(n.Data); t != "" {
			*out = append(*out, htmlBlock{text: t})
		}
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		flattenHTML(c, out)
	}
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skippedHTMLTags[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func extractHTML(_ string, data []byte) ([]store.Chunk, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var blocks []htmlBlock
	flattenHTML(doc, &blocks)

	hasHeading := false
	for _, b := range blocks {
		if b.level > 0 {
			hasHeading = true
			break
		}
	}

	if !hasHeading {
		texts := make([]string, 0, len(blocks))
		for _, b := range blocks {
			texts = append(texts, b.text)
		}
		return []store.Chunk{{
			Content: normalizeSpace(strings.Join(texts, " ")),
			Type:    store.ChunkHTMLSection,
			ChunkID: "document",
		}}, nil
	}

	var chunks []store.Chunk

	var preamble []string
	for _, b := range blocks {
		if b.level > 0 {
			break
		}
		preamble = append(preamble, b.text)
	}
	if len(preamble) > 0 {
		chunks = append(chunks, store.Chunk{
			Content:  strings.Join(preamble, "\n"),
			Type:     store.ChunkHTMLSection,
			ChunkID:  "preamble",
			Metadata: map[string]string{"level": "0"},
		})
	}

	section := 0
	for i, b := range blocks {
		if b.level == 0 {
			continue
		}
		section++

		// Body runs until the next heading of the same or higher rank.
		lines := []string{b.text}
		for _, next := range blocks[i+1:] {
			if next.level > 0 && next.level <= b.level {
				break
			}
			lines = append(lines, next.text)
		}

		chunks = append(chunks, store.Chunk{
			Content: strings.Join(lines, "\n"),
			Type:    store.ChunkHTMLSection,
			ChunkID: "section-" + strconv.Itoa(section),
			Metadata: map[string]string{
				"heading": b.text,
				"level":   strconv.Itoa(b.level),
			},
		})
	}
	return chunks, nil
}
