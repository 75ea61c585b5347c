package cart

import (
	"context"
	"testing"

	"emporium/db/dbtest"
	"emporium/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestMongoRepository(t *testing.T) {
	repo := NewMongoRepository(dbtest.NewStore(t))
	ctx := context.Background()
	user, product := primitive.NewObjectID(), primitive.NewObjectID()

	created, err := repo.Upsert(ctx, user, []models.LineItem{{Product: product, Quantity: 2}})
	require.NoError(t, err)
	assert.Equal(t, user, created.User)
	assert.False(t, created.CreatedAt.IsZero())

	replaced, err := repo.Upsert(ctx, user, []models.LineItem{{Product: product, Quantity: 4}})
	require.NoError(t, err)
	assert.Equal(t, created.ID, replaced.ID)
	assert.Equal(t, 4, replaced.Products[0].Quantity)

	require.NoError(t, repo.ClearItems(ctx, user))
	got, err := repo.FindByUser(ctx, user)
	require.NoError(t, err)
	assert.Empty(t, got.Products)

	_, err = repo.FindByUser(ctx, primitive.NewObjectID())
	assert.ErrorIs(t, err, ErrCartNotFound)
	_, err = repo.ReplaceItems(ctx, primitive.NewObjectID(), nil)
	assert.ErrorIs(t, err, ErrCartNotFound)
}
