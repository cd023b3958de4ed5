//go:build tools

// Package tools tracks code generators invoked through go generate so they
// stay pinned in go.mod.
package presencehub

import (
	_ "go.uber.org/mock/mockgen"
)
