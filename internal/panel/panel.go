package panel

import (
	"embed"
	"io/fs"
	"net/http"
	"os"
	"path"
	"strings"
)

//go:embed web/*
var embedded embed.FS

// assets returns dir when it is a readable directory, else the embedded
// copy.
func assets(dir string) fs.FS {
	if dir != "" {
		if st, err := os.Stat(dir); err == nil && st.IsDir() {
			return os.DirFS(dir)
		}
	}
	web, err := fs.Sub(embedded, "web")
	if err != nil {
		panic("panel: embedded assets missing: " + err.Error())
	}
	return web
}

// Handler serves the dashboard. Paths that name no file get index.html so
// the page can own its routes. Nothing is cached by the browser, which
// keeps a dir override live while it is edited.
func Handler(dir string) http.Handler {
	files := assets(dir)
	static := http.FileServerFS(files)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache, must-revalidate")

		name := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
		if name != "" {
			if _, err := fs.Stat(files, name); err != nil {
				r.URL.Path = "/"
			}
		}
		static.ServeHTTP(w, r)
	})
}
