// Package apperr holds the error taxonomy shared by every sync stage.
//
// Stages wrap these sentinels with context and callers classify with errors.Is:
//
//	if errors.Is(err, apperr.ErrRemoteUnavailable) {
//	    // abort before any mutation
//	}
package apperr

import (
	"context"
	"errors"
)

var (
	// ErrVaultRead marks an unreadable vault file or directory. Non-fatal
	// for single entries, fatal for the vault root.
	ErrVaultRead = errors.New("vault read error")

	// ErrParse marks a malformed note. The parser degrades instead of
	// failing, so this only surfaces as a warning.
	ErrParse = errors.New("parse error")

	// ErrMappingConflict marks a name collision that was disambiguated.
	ErrMappingConflict = errors.New("mapping conflict")

	// ErrMappingPolicy marks a documented mapping rule that changed where a
	// note lands (folded folders, excluded shelves).
	ErrMappingPolicy = errors.New("mapping policy applied")

	// ErrRemoteUnavailable means the API could not be reached after retries.
	ErrRemoteUnavailable = errors.New("remote unavailable")

	// ErrRemoteRejected means the API refused a single operation (4xx
	// other than 429).
	ErrRemoteRejected = errors.New("remote rejected")

	// ErrLinkUnresolved marks a dangling or ambiguous wiki-link.
	ErrLinkUnresolved = errors.New("link unresolved")

	// ErrAncestorFailed marks a node skipped because a parent failed.
	ErrAncestorFailed = errors.New("ancestor failed")
)

// Kind returns the taxonomy name of err for run reports, or "" for nil.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrVaultRead):
		return "VaultReadError"
	case errors.Is(err, ErrParse):
		return "ParseError"
	case errors.Is(err, ErrMappingConflict):
		return "MappingConflict"
	case errors.Is(err, ErrMappingPolicy):
		return "MappingPolicy"
	case errors.Is(err, ErrRemoteRejected):
		return "RemoteRejected"
	case errors.Is(err, ErrRemoteUnavailable):
		return "RemoteUnavailable"
	case errors.Is(err, ErrLinkUnresolved):
		return "LinkUnresolved"
	case errors.Is(err, ErrAncestorFailed):
		return "AncestorFailed"
	case errors.Is(err, context.Canceled):
		return "Cancelled"
	default:
		return "Internal"
	}
}
