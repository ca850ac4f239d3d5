package pdfquiz

import (
	"encoding/csv"
	"fmt"
	"io"
	"math/rand"
	"os"
	"strings"
	"unicode/utf8"
)

// Extractor turns a raw document into per-page text. PDF parsing itself
// is delegated to an external library; see PDFExtractor.
type Extractor interface {
	ExtractPages(r io.ReaderAt, size int64) ([]string, error)
}

// ExtractPassages runs the extractor over a document and splits each page
// into passages on blank-line boundaries. Whitespace-only units are
// dropped and source order is preserved.
func ExtractPassages(ex Extractor, r io.ReaderAt, size int64) ([]Passage, error) {
	pages, err := ex.ExtractPages(r, size)
	if err != nil {
		return nil, &ExtractionError{Err: err}
	}
	return SplitPassages(pages), nil
}

// SplitPassages splits page texts into trimmed, non-empty passages.
func SplitPassages(pages []string) []Passage {
	var passages []Passage
	for _, page := range pages {
		for _, unit := range strings.Split(page, "\n\n") {
			unit = strings.TrimSpace(unit)
			if unit == "" {
				continue
			}
			passages = append(passages, Passage(unit))
		}
	}
	return passages
}

// SavePassages writes the passage list to a flat CSV file, one passage
// per row, single column, no header.
func SavePassages(path string, passages []Passage) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create passage file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	for _, p := range passages {
		if err := w.Write([]string{string(p)}); err != nil {
			return fmt.Errorf("failed to write passage: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush passage file: %w", err)
	}
	return nil
}

// LoadPassages reads a passage file written by SavePassages. Embedded NUL
// bytes are stripped defensively; rows that are empty after stripping are
// skipped. A file that is not valid UTF-8 or not valid CSV is a
// DecodeError.
func LoadPassages(path string) ([]Passage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open passage file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var passages []Passage
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &DecodeError{Path: path, Err: err}
		}
		if len(row) == 0 {
			continue
		}
		text := strings.ReplaceAll(row[0], "\x00", "")
		if !utf8.ValidString(text) {
			return nil, &DecodeError{Path: path, Err: fmt.Errorf("row %d is not valid UTF-8", len(passages)+1)}
		}
		if text == "" {
			continue
		}
		passages = append(passages, Passage(text))
	}
	return passages, nil
}

// PickPassage returns a uniformly random passage. Previously-seen
// passages are not excluded; repeats are possible and accepted.
func PickPassage(passages []Passage) Passage {
	return passages[rand.Intn(len(passages))]
}
