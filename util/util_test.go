package util

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDumpIsOneLine(t *testing.T) {
	s := Dump(map[string][]int{"t1": {1, 2}})
	require.False(t, strings.Contains(s, "\n"))
	require.Contains(t, s, "t1")
}

func TestVerbose(t *testing.T) {
	defer os.Unsetenv("CASKLOGDEBUG")
	os.Setenv("CASKLOGDEBUG", "broker=1, server=0")
	require.True(t, Verbose("broker"))
	require.False(t, Verbose("server"))
	require.False(t, Verbose("store"))
}
