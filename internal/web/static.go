package web

import (
	"embed"
)

// staticFiles holds the panel page and its script.
//
//go:embed static/*
var staticFiles embed.FS
