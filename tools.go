//go:build tools

// Package placer pins development tools in go.mod. Run them with
// `go run golang.org/x/tools/cmd/goimports -w .`.
package placer

import (
	_ "golang.org/x/tools/cmd/goimports"
)
