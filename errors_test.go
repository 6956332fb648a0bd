package gatekeep

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClassification(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	_, err := client.GetFlag("ghost")
	assert.True(t, IsNotFound(err))
	assert.False(t, IsInvalidState(err))
	assert.False(t, IsValidation(err))

	_, err = client.ApplyPreview(ctx, "alice")
	assert.True(t, IsInvalidState(err))
	assert.False(t, IsNotFound(err))

	_, err = client.RegisterFlag(ctx, "alice", Flag{})
	assert.True(t, IsValidation(err))
}

func TestErrorClassification_SurvivesWrapping(t *testing.T) {
	client := newTestClient(t)

	_, err := client.GetFlag("ghost")
	require.Error(t, err)

	wrapped := fmt.Errorf("loading gate: %w", err)
	assert.True(t, IsNotFound(wrapped))
}

func TestErrorClassification_ForeignErrors(t *testing.T) {
	err := errors.New("plain")
	assert.False(t, IsNotFound(err))
	assert.False(t, IsInvalidState(err))
	assert.False(t, IsValidation(err))

	assert.False(t, IsNotFound(nil))
}
