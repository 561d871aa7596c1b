package ui

import (
	"embed"

	"github.com/gin-contrib/static"
)

//go:embed assets
var assets embed.FS

// Assets serves the upload page.
func Assets() static.ServeFileSystem {
	return static.EmbedFolder(assets, "assets")
}
