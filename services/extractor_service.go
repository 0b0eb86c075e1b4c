package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/sirupsen/logrus"
	"github.com/unidoc/unipdf/v3/common/license"
	"github.com/unidoc/unipdf/v3/extractor"
	"github.com/unidoc/unipdf/v3/model"
)

// PageExtractor returns the text of every page of a PDF, in order.
type PageExtractor interface {
	ExtractPages(ctx context.Context, path string) ([]PageText, error)
}

// PDFExtractor reads PDFs with ledongthuc/pdf, or with UniPDF when a
// UniDoc license key is configured.
type PDFExtractor struct {
	useUniPDF bool
}

var _ PageExtractor = (*PDFExtractor)(nil)

// NewPDFExtractor uses unipdf when a license key is given and
// ledongthuc/pdf otherwise.
func NewPDFExtractor(licenseKey string) (*PDFExtractor, error) {
	if licenseKey == "" {
		return &PDFExtractor{}, nil
	}
	if err := license.SetMeteredKey(licenseKey); err != nil {
		return nil, fmt.Errorf("set unidoc license: %w", err)
	}
	return &PDFExtractor{useUniPDF: true}, nil
}

// ExtractPages fails with ErrNoText when no page yields any text, which is
// the case for scanned image-only documents.
func (e *PDFExtractor) ExtractPages(ctx context.Context, path string) (pages []PageText, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Both parsers can panic on malformed input.
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = fmt.Errorf("parse %s: %v", filepath.Base(path), r)
		}
	}()

	if e.useUniPDF {
		pages, err = extractWithUniPDF(path)
	} else {
		pages, err = extractWithGoPDF(path)
	}
	if err != nil {
		return nil, err
	}

	for _, p := range pages {
		if strings.TrimSpace(p.Text) != "" {
			return pages, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", filepath.Base(path), ErrNoText)
}

func extractWithGoPDF(path string) ([]PageText, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	source := filepath.Base(path)
	numPages := r.NumPage()
	pages := make([]PageText, 0, numPages)
	for i := 1; i <= numPages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(make(map[string]*pdf.Font))
		if err != nil {
			logrus.WithFields(logrus.Fields{"file": source, "page": i}).WithError(err).Warn("skipping unreadable page")
			continue
		}
		pages = append(pages, PageText{Source: source, Page: i, Text: text})
	}
	return pages, nil
}

func extractWithUniPDF(path string) ([]PageText, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader, err := model.NewPdfReader(f)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	numPages, err := reader.GetNumPages()
	if err != nil {
		return nil, fmt.Errorf("count pages: %w", err)
	}

	source := filepath.Base(path)
	pages := make([]PageText, 0, numPages)
	for i := 1; i <= numPages; i++ {
		page, err := reader.GetPage(i)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		ex, err := extractor.New(page)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		text, err := ex.ExtractText()
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		pages = append(pages, PageText{Source: source, Page: i, Text: text})
	}
	return pages, nil
}
