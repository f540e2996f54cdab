package cmd_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicacher/nicacher/internal/cmd"
)

func TestNewHasServeSubcommand(t *testing.T) {
	t.Parallel()

	c := cmd.New()

	require.Len(t, c.Commands, 1)
	assert.Equal(t, "serve", c.Commands[0].Name)
}

func TestBeforeRejectsBadLogLevel(t *testing.T) {
	t.Parallel()

	c := cmd.New()
	err := c.Run(context.Background(), []string{"nicacher", "--log-level=bogus", "serve", "--help"})

	assert.Error(t, err)
}
