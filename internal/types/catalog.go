// Package types provides type definitions for structured data used throughout the ebook catalog.
//
//nolint:revive // types is a standard Go package name pattern
package types

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Sentinel values the metadata resolver substitutes when a probe fails.
const (
	SizeUnavailable  = "N/A"
	PagesUnavailable = "—"
)

// Manifest field names. Anything else in a manifest object is carried in Extra.
const (
	fieldFile   = "file"
	fieldTitle  = "title"
	fieldAuthor = "author"

	fieldSizeBytes = "sizeBytes"
	fieldSize      = "size"
	fieldPages     = "pages"
	fieldLocation  = "location"
)

// ManifestEntry is one document as listed in the catalog manifest.
type ManifestEntry struct {
	File   string `json:"file" validate:"required"`
	Title  string `json:"title" validate:"required"`
	Author string `json:"author,omitempty"`

	// Extra holds manifest fields this program does not interpret.
	// They are written back out unchanged.
	Extra map[string]json.RawMessage `json:"-"`
}

// Validate validates the ManifestEntry using the validator.
func (e *ManifestEntry) Validate() error {
	validate := validator.New()
	return validate.Struct(e)
}

// UnmarshalJSON decodes the known manifest fields and keeps the rest in Extra.
func (e *ManifestEntry) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var out ManifestEntry
	for key, value := range raw {
		var target *string
		switch key {
		case fieldFile:
			target = &out.File
		case fieldTitle:
			target = &out.Title
		case fieldAuthor:
			target = &out.Author
		default:
			if out.Extra == nil {
				out.Extra = make(map[string]json.RawMessage)
			}
			out.Extra[key] = value
			continue
		}
		if string(value) == "null" {
			continue
		}
		if err := json.Unmarshal(value, target); err != nil {
			return fmt.Errorf("manifest field %q: %w", key, err)
		}
	}

	*e = out
	return nil
}

// MarshalJSON writes the entry back out including its pass-through fields.
func (e ManifestEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.fields())
}

func (e ManifestEntry) fields() map[string]any {
	m := make(map[string]any, len(e.Extra)+3)
	for key, value := range e.Extra {
		m[key] = value
	}
	m[fieldFile] = e.File
	m[fieldTitle] = e.Title
	if e.Author != "" {
		m[fieldAuthor] = e.Author
	}
	return m
}

// ResolvedMetadata is what the resolver learned about a single document.
type ResolvedMetadata struct {
	SizeBytes   int64  `json:"sizeBytes"`
	SizeDisplay string `json:"size"`
	PageCount   string `json:"pages"`
	// Location is the absolute URL the document was probed at. Empty for local documents.
	Location string `json:"location,omitempty"`
}

// DefaultMetadata returns metadata with every field set to its failure sentinel.
func DefaultMetadata() ResolvedMetadata {
	return ResolvedMetadata{
		SizeBytes:   0,
		SizeDisplay: SizeUnavailable,
		PageCount:   PagesUnavailable,
	}
}

// DisplayEntry is a manifest entry merged with its resolved metadata.
// It is built once per catalog load and never modified afterwards.
type DisplayEntry struct {
	ManifestEntry
	ResolvedMetadata
}

// NewDisplayEntry merges an entry with its metadata.
func NewDisplayEntry(entry ManifestEntry, meta ResolvedMetadata) DisplayEntry {
	return DisplayEntry{ManifestEntry: entry, ResolvedMetadata: meta}
}

// MarshalJSON emits the union of the manifest and metadata fields.
// Metadata fields overlay pass-through manifest fields of the same name.
func (d DisplayEntry) MarshalJSON() ([]byte, error) {
	m := d.ManifestEntry.fields()
	m[fieldSizeBytes] = d.SizeBytes
	m[fieldSize] = d.SizeDisplay
	m[fieldPages] = d.PageCount
	if d.Location != "" {
		m[fieldLocation] = d.Location
	}
	return json.Marshal(m)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (d *DisplayEntry) UnmarshalJSON(data []byte) error {
	var entry ManifestEntry
	if err := entry.UnmarshalJSON(data); err != nil {
		return err
	}

	var meta ResolvedMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return err
	}
	delete(entry.Extra, fieldSizeBytes)
	delete(entry.Extra, fieldSize)
	delete(entry.Extra, fieldPages)
	delete(entry.Extra, fieldLocation)
	if len(entry.Extra) == 0 {
		entry.Extra = nil
	}

	*d = DisplayEntry{ManifestEntry: entry, ResolvedMetadata: meta}
	return nil
}
