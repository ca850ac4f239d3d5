package pdfquiz

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestSplitPassages(t *testing.T) {
	pages := []string{
		"First paragraph about history.\n\nSecond paragraph about geography.\n\n   \n",
		"Page two, a single block.",
	}

	passages := SplitPassages(pages)
	want := []Passage{
		"First paragraph about history.",
		"Second paragraph about geography.",
		"Page two, a single block.",
	}

	if len(passages) != len(want) {
		t.Fatalf("expected %d passages, got %d: %v", len(want), len(passages), passages)
	}
	for i, p := range passages {
		if p != want[i] {
			t.Errorf("passage %d: got %q, want %q", i, p, want[i])
		}
	}
}

func TestSplitPassages_WhitespaceOnlyPages(t *testing.T) {
	passages := SplitPassages([]string{"", "   \n\n\t"})
	if len(passages) != 0 {
		t.Errorf("expected no passages, got %v", passages)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "passages.csv")
	passages := []Passage{
		"Plain passage",
		"Passage with, a comma",
		"Passage with \"quotes\"",
		"Passage with\na newline",
		"日本語の文章も扱える",
	}

	if err := SavePassages(path, passages); err != nil {
		t.Fatalf("SavePassages: %v", err)
	}
	loaded, err := LoadPassages(path)
	if err != nil {
		t.Fatalf("LoadPassages: %v", err)
	}

	if len(loaded) != len(passages) {
		t.Fatalf("expected %d passages, got %d", len(passages), len(loaded))
	}
	for i, p := range loaded {
		if p != passages[i] {
			t.Errorf("passage %d: got %q, want %q", i, p, passages[i])
		}
	}
}

func TestLoadPassages_StripsNulBytes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "passages.csv")
	if err := SavePassages(path, []Passage{"be\x00fore and af\x00ter"}); err != nil {
		t.Fatalf("SavePassages: %v", err)
	}

	loaded, err := LoadPassages(path)
	if err != nil {
		t.Fatalf("LoadPassages: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("expected 1 passage, got %d", len(loaded))
	}
	if loaded[0] != "before and after" {
		t.Errorf("got %q, want %q", loaded[0], "before and after")
	}
}

func TestLoadPassages_SkipsEmptyRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "passages.csv")
	if err := os.WriteFile(path, []byte("first\n\"\"\nsecond\n"), 0644); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadPassages(path)
	if err != nil {
		t.Fatalf("LoadPassages: %v", err)
	}
	if len(loaded) != 2 || loaded[0] != "first" || loaded[1] != "second" {
		t.Errorf("got %v, want [first second]", loaded)
	}
}

func TestLoadPassages_InvalidUTF8(t *testing.T) {
	path := filepath.Join(t.TempDir(), "passages.csv")
	if err := os.WriteFile(path, []byte{'o', 'k', '\n', 0xff, 0xfe, '\n'}, 0644); err != nil {
		t.Fatal(err)
	}

	_, err := LoadPassages(path)
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
}

func TestLoadPassages_MissingFile(t *testing.T) {
	_, err := LoadPassages(filepath.Join(t.TempDir(), "nope.csv"))
	if err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestPickPassage_Membership(t *testing.T) {
	passages := []Passage{"alpha", "beta", "gamma"}
	seen := map[Passage]bool{}
	for i := 0; i < 100; i++ {
		p := PickPassage(passages)
		found := false
		for _, candidate := range passages {
			if p == candidate {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("picked %q, which is not in the input set", p)
		}
		seen[p] = true
	}
	// Uniform choice over 3 passages should hit more than one in 100 draws.
	if len(seen) < 2 {
		t.Errorf("expected at least 2 distinct picks, got %d", len(seen))
	}
}

type extractorFunc func() ([]string, error)

func (f extractorFunc) ExtractPages(r io.ReaderAt, size int64) ([]string, error) {
	return f()
}

func TestExtractPassages_WrapsExtractorFailure(t *testing.T) {
	ex := extractorFunc(func() ([]string, error) {
		return nil, errors.New("bad xref table")
	})
	_, err := ExtractPassages(ex, nil, 0)
	var extractErr *ExtractionError
	if !errors.As(err, &extractErr) {
		t.Fatalf("expected ExtractionError, got %v", err)
	}
}

func TestExtractPassages_SplitsAndOrders(t *testing.T) {
	ex := extractorFunc(func() ([]string, error) {
		return []string{"A about history\n\nB about geography"}, nil
	})
	passages, err := ExtractPassages(ex, nil, 0)
	if err != nil {
		t.Fatalf("ExtractPassages: %v", err)
	}
	if len(passages) != 2 || passages[0] != "A about history" || passages[1] != "B about geography" {
		t.Errorf("got %v", passages)
	}
}
