package reference

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewIntentReference_Format(t *testing.T) {
	ref := newIntentReference(time.Date(2026, 10, 19, 23, 0, 0, 0, time.UTC))
	require.True(t, strings.HasPrefix(ref, "SET-20261019-"), ref)
	require.True(t, ValidIntentReference(ref), ref)
	require.Len(t, ref, len("SET-20261019-")+randomLength)
}

func TestNewIntentReference_Unique(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		ref := NewIntentReference()
		_, dup := seen[ref]
		require.False(t, dup, ref)
		seen[ref] = struct{}{}
	}
}

func TestNewAttemptReference(t *testing.T) {
	a, b := NewAttemptReference(), NewAttemptReference()
	require.NotEqual(t, a, b)
	require.True(t, ValidAttemptReference(a))
	require.False(t, ValidAttemptReference("not-a-uuid"))
}

func TestValidIntentReference_Rejects(t *testing.T) {
	for _, s := range []string{"", "SET-2026-ABC", "set-20261019-7K2QM9X4HT3B", "SET-20261019-7K2QM9X4HT3I", "SET-20261019-7K2QM9X4HT3BX"} {
		require.False(t, ValidIntentReference(s), s)
	}
}
