// Package web embeds the dashboard page served at /. The page is plain
// HTML and JavaScript over the /reqscope/api/v1 endpoints, so there is no
// frontend build step.
package web

import (
	"embed"
	"io/fs"
)

//go:embed all:static
var staticFS embed.FS

// Assets returns the dashboard files rooted at static/, so "index.html"
// is served for /.
func Assets() (fs.FS, error) {
	return fs.Sub(staticFS, "static")
}
