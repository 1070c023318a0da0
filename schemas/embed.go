// Package schemas embeds the JSON Schema files describing each content schema version.
package schemas

import "embed"

// FS holds every *.schema.json file in this directory.
//
//go:embed *.schema.json
var FS embed.FS
