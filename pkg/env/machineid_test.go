package env

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMachineID(t *testing.T) {
	id := MachineID()
	require.NotEmpty(t, id)
	require.Equal(t, id, MachineID())

	var board [16]byte
	BoardID(board[:])
	require.Equal(t, id[:min(len(id), 16)], string(board[:min(len(id), 16)]))
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
