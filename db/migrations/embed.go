// Package dbmigrations exposes embedded SQL migrations for the outcome archive.
package dbmigrations

import "embed"

// Files contains the embedded SQL migrations bundled into service binaries.
//
//go:embed *.sql
var Files embed.FS
