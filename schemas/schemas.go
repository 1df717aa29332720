// Package schemas holds the JSON Schema documents shipped with the catalog.
package schemas

import _ "embed"

// Manifest is the JSON Schema every catalog manifest must satisfy.
//
//go:embed manifest.schema.json
var Manifest string
