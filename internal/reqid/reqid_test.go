package reqid

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContext(t *testing.T) {
	ctx, id := NewContext(context.Background())
	got, ok := FromContext(ctx)
	require.True(t, ok)
	require.Equal(t, id, got)

	_, ok = FromContext(context.Background())
	require.False(t, ok, "unexpected id in empty context")

	got, _ = FromContext(WithID(ctx, 255))
	require.Equal(t, int64(255), got)
	require.Equal(t, "ff", Format(255))
}
