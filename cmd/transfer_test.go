package cmd

import (
	"bytes"
	"strings"
	"testing"

	"db-snap/internal/engine"

	"github.com/stretchr/testify/require"
)

func TestPromptPolicy(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected engine.ConflictPolicy
	}{
		{name: "recreate", input: "1\n", expected: engine.ConflictRecreate},
		{name: "data only", input: " 2 \n", expected: engine.ConflictDataOnly},
		{name: "cancel", input: "3\n", expected: engine.ConflictAbort},
		{name: "retry after bad input", input: "yes\n2\n", expected: engine.ConflictDataOnly},
		{name: "eof cancels", input: "", expected: engine.ConflictAbort},
		{name: "answer without newline", input: "1", expected: engine.ConflictRecreate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			got, err := promptPolicy(strings.NewReader(tt.input), &out, "users")
			require.NoError(t, err)
			require.Equal(t, tt.expected, got)
			require.Contains(t, out.String(), "Table users already exists")
		})
	}
}

func TestConflictResolver_Flags(t *testing.T) {
	defer func() { onConflict, force = "", false }()

	onConflict = "data-only"
	resolve, err := conflictResolver(strings.NewReader(""), &bytes.Buffer{})
	require.NoError(t, err)
	policy, err := resolve("users")
	require.NoError(t, err)
	require.Equal(t, engine.ConflictDataOnly, policy)

	onConflict = "merge"
	_, err = conflictResolver(strings.NewReader(""), &bytes.Buffer{})
	require.Error(t, err)

	onConflict, force = "", true
	resolve, err = conflictResolver(strings.NewReader(""), &bytes.Buffer{})
	require.NoError(t, err)
	policy, err = resolve("users")
	require.NoError(t, err)
	require.Equal(t, engine.ConflictRecreate, policy)

	force = false
	var out bytes.Buffer
	resolve, err = conflictResolver(strings.NewReader("2\n"), &out)
	require.NoError(t, err)
	policy, err = resolve("users")
	require.NoError(t, err)
	require.Equal(t, engine.ConflictDataOnly, policy)
}

func TestHumanBytes(t *testing.T) {
	require.Equal(t, "512 B", humanBytes(512))
	require.Equal(t, "1.5 KiB", humanBytes(1536))
	require.Equal(t, "3.0 MiB", humanBytes(3*1024*1024))
}
