//go:build !(sqlite_vec && cgo)

package store

import (
	_ "modernc.org/sqlite"
)

// Pure-Go driver: no cgo, no sqlite-vec. Similarity search falls back to
// a Go-side cosine scan.
const (
	driverName = "sqlite"
	vecNative  = false
)
