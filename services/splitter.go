package services

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tmc/langchaingo/textsplitter"
)

// PageText is the extracted text of one PDF page.
type PageText struct {
	Source string
	Page   int // 1-based
	Text   string
}

// Chunk is a bounded segment of page text prepared for embedding.
type Chunk struct {
	Text   string
	Source string
	Page   int
	Index  int // position within the document
}

// Splitter cuts page text into overlapping chunks of at most size runes.
// Text is cut at the configured separator and the pieces are packed into
// chunks; a piece longer than size is cut at character boundaries.
type Splitter struct {
	size      int
	overlap   int
	separator string

	// chars windows a single oversized piece with no separator in play.
	chars textsplitter.RecursiveCharacter
}

// NewSplitter rejects a non-positive size and an overlap outside [0, size).
func NewSplitter(size, overlap int, separator string) (*Splitter, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", size, overlap)
	}

	return &Splitter{
		size:      size,
		overlap:   overlap,
		separator: separator,
		chars: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(size),
			textsplitter.WithChunkOverlap(overlap),
			textsplitter.WithSeparators([]string{""}),
		),
	}, nil
}

// Split returns the chunks of a single text. Blank input yields none.
func (s *Splitter) Split(text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	pieces := []string{text}
	if s.separator != "" {
		pieces = strings.Split(text, s.separator)
	}
	sepLen := utf8.RuneCountInString(s.separator)

	var (
		out    []string
		window []string
		total  int
	)
	flush := func() {
		if len(window) > 0 {
			out = append(out, strings.Join(window, s.separator))
		}
	}

	for _, p := range pieces {
		n := utf8.RuneCountInString(p)
		if n > s.size {
			flush()
			window, total = nil, 0
			parts, err := s.chars.SplitText(p)
			if err != nil {
				return nil, fmt.Errorf("split text: %w", err)
			}
			out = append(out, parts...)
			continue
		}
		if len(window) > 0 && total+sepLen+n > s.size {
			flush()
			window, total = s.carry(window, n)
		}
		if len(window) > 0 {
			total += sepLen
		}
		window = append(window, p)
		total += n
	}
	flush()

	chunks := out[:0]
	for _, c := range out {
		if strings.TrimSpace(c) != "" {
			chunks = append(chunks, c)
		}
	}
	return chunks, nil
}

// carry returns the trailing pieces of a finished chunk that start the next
// one: at most overlap runes, and leaving room for a next piece of n runes.
func (s *Splitter) carry(window []string, n int) ([]string, int) {
	sepLen := utf8.RuneCountInString(s.separator)
	start, total := len(window), 0
	for i := len(window) - 1; i >= 0; i-- {
		add := utf8.RuneCountInString(window[i])
		if start < len(window) {
			add += sepLen
		}
		if total+add > s.overlap || total+add+sepLen+n > s.size {
			break
		}
		total += add
		start = i
	}
	return append([]string(nil), window[start:]...), total
}

// SplitPages splits every page on its own so chunks never straddle pages.
func (s *Splitter) SplitPages(pages []PageText) ([]Chunk, error) {
	var chunks []Chunk
	for _, page := range pages {
		parts, err := s.Split(page.Text)
		if err != nil {
			return nil, fmt.Errorf("page %d of %s: %w", page.Page, page.Source, err)
		}
		for _, p := range parts {
			chunks = append(chunks, Chunk{
				Text:   p,
				Source: page.Source,
				Page:   page.Page,
				Index:  len(chunks),
			})
		}
	}
	return chunks, nil
}
