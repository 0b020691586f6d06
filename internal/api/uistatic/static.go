// Package uistatic serves the embedded report page.
package uistatic

import (
	"embed"
	"io/fs"
	"net/http"
	"strings"
)

//go:embed all:app
var appFS embed.FS

// The page only talks to its own origin and renders results as text.
const contentSecurityPolicy = "default-src 'self'; script-src 'self' 'unsafe-inline'; style-src 'self'; connect-src 'self'"

// Handler serves index.html at the root and other embedded assets by name.
// Unknown paths return 404 rather than the page.
func Handler() http.Handler {
	site, err := fs.Sub(appFS, "app")
	if err != nil {
		return http.NotFoundHandler()
	}
	index, err := fs.ReadFile(site, "index.html")
	if err != nil {
		return http.NotFoundHandler()
	}
	assets := http.FileServerFS(site)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.Trim(r.URL.Path, "/")
		switch {
		case name == "" || name == "index.html":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Content-Security-Policy", contentSecurityPolicy)
			_, _ = w.Write(index)
		case !fs.ValidPath(name) || isMissing(site, name):
			http.NotFound(w, r)
		default:
			assets.ServeHTTP(w, r)
		}
	})
}

func isMissing(site fs.FS, name string) bool {
	info, err := fs.Stat(site, name)
	return err != nil || info.IsDir()
}
