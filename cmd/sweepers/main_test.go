package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListCommand(t *testing.T) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"list"})

	require.NoError(t, root.Execute())
	assert.Equal(t, "reservation\nextension\nend-of-term\noveruse\n", out.String())
}

func TestRunRejectsArguments(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"run", "reservation"})

	assert.Error(t, root.Execute())
}
