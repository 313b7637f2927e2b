package httpapi

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed web/index.html
var staticFS embed.FS

// StaticIndexHandler serves the embedded landing page at GET /. Present
// mostly so a freshly deployed bytebin answers something human-readable at
// its root rather than a 404.
func StaticIndexHandler() http.Handler {
	sub, err := fs.Sub(staticFS, "web")
	if err != nil {
		panic(err)
	}
	return http.FileServer(http.FS(sub))
}
