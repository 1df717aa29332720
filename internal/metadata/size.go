// Package metadata resolves per-document metadata (byte size, page count) for catalog entries.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/jonathan/ebook-catalog/internal/fetch"
)

// ErrNoLength is returned when a size probe succeeds but reports no length.
var ErrNoLength = errors.New("no content length")

var sizeUnits = []string{"B", "KB", "MB", "GB"}

// FormatSize renders a byte count in base-1024 units rounded to two decimals,
// e.g. 1536 -> "1.5 KB". Counts beyond the largest unit stay in GB.
func FormatSize(bytes int64) string {
	if bytes <= 0 {
		return "0 B"
	}

	// floor(log1024(bytes)) without floating point error at exact powers
	i := 0
	scale := int64(1)
	for i < len(sizeUnits)-1 && bytes/scale >= 1024 {
		scale *= 1024
		i++
	}

	value := float64(bytes) / float64(scale)
	rounded := float64(int64(value*100+0.5)) / 100
	return strconv.FormatFloat(rounded, 'f', -1, 64) + " " + sizeUnits[i]
}

// Sizer reports the byte size of a document.
type Sizer interface {
	Size(ctx context.Context, location string) (int64, error)
}

// SizerFunc adapts a function to a Sizer.
type SizerFunc func(ctx context.Context, location string) (int64, error)

// Size calls f.
func (f SizerFunc) Size(ctx context.Context, location string) (int64, error) {
	return f(ctx, location)
}

// HTTPSizer probes remote documents with a single HEAD request and
// local documents with a stat call.
type HTTPSizer struct {
	Options *fetch.Options
}

// Size implements Sizer.
func (s HTTPSizer) Size(ctx context.Context, location string) (int64, error) {
	if !fetch.IsRemote(location) {
		info, err := os.Stat(fetch.LocalPath(location))
		if err != nil {
			return 0, err
		}
		if info.IsDir() {
			return 0, fmt.Errorf("%s is a directory", location)
		}
		return info.Size(), nil
	}

	head, err := fetch.Head(ctx, location, s.Options)
	if err != nil {
		return 0, err
	}
	if !head.HasLength() {
		return 0, ErrNoLength
	}
	return head.ContentLength, nil
}
