package tdb

import (
	_ "embed"
	"strings"
)

//go:embed VERSION
var versionFile string

// Version is the library version string, read from the VERSION file. The
// on-disk format version is encoding.FormatVersion.
var Version = strings.TrimSpace(versionFile)
