package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPDFExtractor_ReadsPagesInOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.pdf")
	writeTestPDF(t, path, "Refunds are issued within 30 days of purchase.", "Shipping is free.")

	e, err := NewPDFExtractor("")
	require.NoError(t, err)

	pages, err := e.ExtractPages(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, pages, 2)

	assert.Equal(t, "policy.pdf", pages[0].Source)
	assert.Equal(t, 1, pages[0].Page)
	assert.Contains(t, pages[0].Text, "Refunds are issued within 30 days")
	assert.Equal(t, 2, pages[1].Page)
	assert.Contains(t, pages[1].Text, "Shipping is free.")
}

func TestPDFExtractor_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	for name, content := range map[string][]byte{
		"garbage.pdf":   []byte("this is definitely not a pdf"),
		"empty.pdf":     {},
		"truncated.pdf": buildPDF([]string{"cut short"})[:40],
	} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, os.WriteFile(path, content, 0o644))

			e, err := NewPDFExtractor("")
			require.NoError(t, err)
			_, err = e.ExtractPages(context.Background(), path)
			assert.Error(t, err)
		})
	}
}

func TestPDFExtractor_NoTextIsAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.pdf")
	writeTestPDF(t, path, "")

	e, err := NewPDFExtractor("")
	require.NoError(t, err)
	_, err = e.ExtractPages(context.Background(), path)
	assert.ErrorIs(t, err, ErrNoText)
}

func TestPDFExtractor_MissingFile(t *testing.T) {
	e, err := NewPDFExtractor("")
	require.NoError(t, err)
	_, err = e.ExtractPages(context.Background(), filepath.Join(t.TempDir(), "nope.pdf"))
	assert.Error(t, err)
}

func TestPDFExtractor_CancelledContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.pdf")
	writeTestPDF(t, path, "hello")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e, err := NewPDFExtractor("")
	require.NoError(t, err)
	_, err = e.ExtractPages(ctx, path)
	assert.ErrorIs(t, err, context.Canceled)
}
