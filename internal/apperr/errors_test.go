package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("vault: stat: %w", ErrVaultRead), "VaultReadError"},
		{fmt.Errorf("wrapped: %w", ErrRemoteRejected), "RemoteRejected"},
		{ErrRemoteUnavailable, "RemoteUnavailable"},
		{ErrLinkUnresolved, "LinkUnresolved"},
		{ErrMappingConflict, "MappingConflict"},
		{ErrAncestorFailed, "AncestorFailed"},
		{ErrMappingPolicy, "MappingPolicy"},
		{context.Canceled, "Cancelled"},
		{errors.New("boom"), "Internal"},
	}
	for _, tt := range tests {
		if got := Kind(tt.err); got != tt.want {
			t.Errorf("Kind(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
