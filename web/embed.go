// Package web holds the browser client served when no static directory is
// configured on disk.
package web

import (
	"embed"
	"io/fs"
)

//go:embed viewer.html public
var assets embed.FS

// IndexFile is the name of the embedded index document.
const IndexFile = "viewer.html"

// Index returns the embedded index document.
func Index() ([]byte, error) {
	return assets.ReadFile(IndexFile)
}

// Public returns the embedded static assets rooted at public/.
func Public() fs.FS {
	sub, err := fs.Sub(assets, "public")
	if err != nil {
		panic(err)
	}
	return sub
}
