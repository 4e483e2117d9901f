package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"vita-be/pkg/store"
)

const drawingMLNamespace = "http://schemas.openxmlformats.org/drawingml/2006/main"

var slidePartPattern = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

type slidePart struct {
	number int
	file   *zip.File
}

func extractSlides(_ string, data []byte) ([]store.Chunk, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pptx: %w", err)
	}

	var parts []slidePart
	for _, f := range zr.File {
		m := slidePartPattern.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		parts = append(parts, slidePart{number: n, file: f})
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].number < parts[j].number })

	chunks := make([]store.Chunk, 0, len(parts))
	for _, p := range parts {
		text, err := slideText(p.file)
		if err != nil {
			return nil, fmt.Errorf("slide %d: %w", p.number, err)
		}
		chunks = append(chunks, store.Chunk{
			Content:  text,
			Type:     store.ChunkSlide,
			ChunkID:  "slide-" + strconv.Itoa(p.number),
			Metadata: map[string]string{"slide_number": strconv.Itoa(p.number)},
		})
	}
	return chunks, nil
}

// slideText concatenates every text run of every shape, one line per paragraph.
func slideText(f *zip.File) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	dec := xml.NewDecoder(rc)
	var (
		lines  []string
		line   strings.Builder
		inText bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" && t.Name.Space == drawingMLNamespace {
				inText = true
			}
		case xml.EndElement:
			switch {
			case t.Name.Local == "t" && t.Name.Space == drawingMLNamespace:
				inText = false
			case t.Name.Local == "p" && t.Name.Space == drawingMLNamespace:
				if s := strings.TrimSpace(line.String()); s != "" {
					lines = append(lines, s)
				}
				line.Reset()
			}
		case xml.CharData:
			if inText {
				line.Write(t)
			}
		}
	}
	if s := strings.TrimSpace(line.String()); s != "" {
		lines = append(lines, s)
	}
	return strings.Join(lines, "\n"), nil
}
