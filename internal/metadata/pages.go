package metadata

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/jonathan/ebook-catalog/internal/fetch"
)

// PageCounter reports the number of pages in a document.
// Implementations should honour ctx but callers do not rely on it.
type PageCounter interface {
	CountPages(ctx context.Context, location string) (int, error)
}

// PageCounterFunc adapts a function to a PageCounter.
type PageCounterFunc func(ctx context.Context, location string) (int, error)

// CountPages calls f.
func (f PageCounterFunc) CountPages(ctx context.Context, location string) (int, error) {
	return f(ctx, location)
}

// DefaultMaxDocumentSize bounds how much of a remote document PDFCounter downloads.
const DefaultMaxDocumentSize = 128 << 20

// PDFCounter counts pages with pdfcpu. Remote documents are downloaded into memory,
// up to MaxBytes (DefaultMaxDocumentSize when zero).
type PDFCounter struct {
	Options  *fetch.Options
	MaxBytes int64
}

// CountPages implements PageCounter.
func (c PDFCounter) CountPages(ctx context.Context, location string) (int, error) {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed

	if !fetch.IsRemote(location) {
		f, err := os.Open(fetch.LocalPath(location))
		if err != nil {
			return 0, err
		}
		defer func() { _ = f.Close() }()
		return pageCount(f, cfg)
	}

	result, err := fetch.URL(ctx, location, c.fetchOptions())
	if err != nil {
		return 0, err
	}
	return pageCount(bytes.NewReader(result.Body), cfg)
}

func (c PDFCounter) fetchOptions() *fetch.Options {
	opts := fetch.DefaultOptions()
	if c.Options != nil {
		copied := *c.Options
		opts = &copied
	}
	opts.MaxBodySize = c.MaxBytes
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = DefaultMaxDocumentSize
	}
	return opts
}

func pageCount(rs io.ReadSeeker, cfg *model.Configuration) (int, error) {
	n, err := api.PageCount(rs, cfg)
	if err != nil {
		return 0, fmt.Errorf("failed to read PDF page count: %w", err)
	}
	return n, nil
}

// ExecCounter counts pages of local PDFs with pdfinfo, then ghostscript.
type ExecCounter struct{}

// CountPages implements PageCounter.
func (ExecCounter) CountPages(ctx context.Context, location string) (int, error) {
	if fetch.IsRemote(location) {
		return 0, errors.New("external page counters only read local files")
	}
	// Absolute, so a manifest path can never be read as a command-line option.
	path, err := filepath.Abs(fetch.LocalPath(location))
	if err != nil {
		return 0, err
	}

	// Try pdfinfo first (from poppler-utils)
	if count, err := countPagesWithPdfinfo(ctx, path); err == nil {
		return count, nil
	}

	// Fallback to ghostscript
	if count, err := countPagesWithGhostscript(ctx, path); err == nil {
		return count, nil
	}

	return 0, errors.New("failed to count PDF pages: neither pdfinfo nor ghostscript available")
}

// countPagesWithPdfinfo uses pdfinfo to count PDF pages
func countPagesWithPdfinfo(ctx context.Context, pdfPath string) (int, error) {
	output, err := exec.CommandContext(ctx, "pdfinfo", pdfPath).Output()
	if err != nil {
		return 0, fmt.Errorf("pdfinfo command failed: %w", err)
	}
	return parsePdfinfoPages(string(output))
}

// parsePdfinfoPages looks for the "Pages: N" line of pdfinfo output
func parsePdfinfoPages(output string) (int, error) {
	for _, line := range strings.Split(output, "\n") {
		if strings.HasPrefix(line, "Pages:") {
			parts := strings.Fields(line)
			if len(parts) >= 2 {
				if count, err := strconv.Atoi(parts[1]); err == nil {
					return count, nil
				}
			}
		}
	}
	return 0, errors.New("could not parse page count from pdfinfo output")
}

// ghostscriptPageScript reads the document named by the File parameter.
const ghostscriptPageScript = "File (r) file runpdfbegin pdfpagecount = quit"

// ghostscriptArgs runs the page script under -dSAFER with read access to pdfPath only.
// The path travels as a string parameter and is never parsed as PostScript.
func ghostscriptArgs(pdfPath string) []string {
	return []string{
		"-q", "-dNODISPLAY", "-dSAFER",
		"--permit-file-read=" + pdfPath,
		"-sFile=" + pdfPath,
		"-c", ghostscriptPageScript,
	}
}

// countPagesWithGhostscript uses ghostscript to count PDF pages
func countPagesWithGhostscript(ctx context.Context, pdfPath string) (int, error) {
	output, err := exec.CommandContext(ctx, "gs", ghostscriptArgs(pdfPath)...).Output()
	if err != nil {
		return 0, fmt.Errorf("ghostscript command failed: %w", err)
	}

	outputStr := strings.TrimSpace(string(output))
	count, err := strconv.Atoi(outputStr)
	if err != nil {
		return 0, fmt.Errorf("could not parse page count from ghostscript output: %s", outputStr)
	}
	return count, nil
}

// ChainCounter tries each counter in order and returns the first success.
type ChainCounter []PageCounter

// CountPages implements PageCounter.
func (c ChainCounter) CountPages(ctx context.Context, location string) (int, error) {
	if len(c) == 0 {
		return 0, errors.New("no page counters configured")
	}
	var errs []error
	for _, counter := range c {
		n, err := counter.CountPages(ctx, location)
		if err == nil {
			return n, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return 0, errors.Join(errs...)
}

// DefaultPageCounter is pdfcpu with the external tools as a fallback.
func DefaultPageCounter(opts *fetch.Options) PageCounter {
	return ChainCounter{PDFCounter{Options: opts, MaxBytes: DefaultMaxDocumentSize}, ExecCounter{}}
}
