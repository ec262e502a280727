package httpapi

import (
	"embed"
	"io/fs"
	"net/http"
)

// The browser client ships inside the binary so the bridge deploys as a
// single artifact with no asset directory to mount.
//
//go:embed static/*
var staticFiles embed.FS

func newStaticHandler() http.Handler {
	assets, err := fs.Sub(staticFiles, "static")
	if err != nil {
		// Only possible if the embed layout itself changes.
		panic(err)
	}
	return http.FileServer(http.FS(assets))
}
