// Package embedded provides the markdown, prompt and hook templates compiled
// into the rulebook binary.
package embedded

import "embed"

// TemplatesFS contains every template under templates/.
// Use fs.WalkDir or fs.ReadFile to access them.
//
//go:embed all:templates
var TemplatesFS embed.FS
