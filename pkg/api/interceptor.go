package api

import (
	"github.com/cuemby/burrow/pkg/bridge"
)

// allowed reports whether a token with scope may run the named action.
// Read tokens are limited to actions that do not change host state.
func allowed(scope, action string) bool {
	switch scope {
	case ScopeAdmin:
		return true
	case ScopeRead:
		return !bridge.Mutating(action)
	default:
		return false
	}
}
