// Package dbtest starts a throwaway MongoDB for repository tests.
package dbtest

import (
	"context"
	"testing"

	"emporium/db"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
)

// NewStore runs mongo:7 in a container and returns an indexed Store on it.
// Skipped under -short.
func NewStore(t *testing.T) *db.Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping MongoDB container test in short mode")
	}
	ctx := context.Background()

	container, err := mongodb.Run(ctx, "mongo:7")
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	store, err := db.Connect(ctx, uri, "testdb")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(ctx) })

	require.NoError(t, store.EnsureIndexes(ctx))
	return store
}
