package orders

import (
	"context"
	"sync"
	"testing"
	"time"

	"emporium/db/dbtest"
	"emporium/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestMongoRepository(t *testing.T) {
	repo := NewMongoRepository(dbtest.NewStore(t))
	ctx := context.Background()
	user := primitive.NewObjectID()
	now := time.Now().UTC().Truncate(time.Millisecond)

	older := &models.Order{
		User:          user,
		Products:      []models.LineItem{{Product: primitive.NewObjectID(), Quantity: 1}},
		Status:        models.StatusPending,
		PaymentMethod: models.MethodCash,
		PaymentStatus: models.PaymentPending,
		CreatedAt:     now.Add(-time.Hour),
		UpdatedAt:     now.Add(-time.Hour),
	}
	newer := &models.Order{
		User:          user,
		Products:      []models.LineItem{{Product: primitive.NewObjectID(), Quantity: 3}},
		Status:        models.StatusPending,
		PaymentMethod: models.MethodOnline,
		PaymentStatus: models.PaymentWaiting,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, repo.Insert(ctx, older))
	require.NoError(t, repo.Insert(ctx, newer))
	require.NoError(t, repo.Insert(ctx, &models.Order{User: primitive.NewObjectID(), Status: models.StatusPending, PaymentMethod: models.MethodCash, PaymentStatus: models.PaymentPending}))
	assert.False(t, older.ID.IsZero())

	got, err := repo.FindByID(ctx, newer.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentWaiting, got.PaymentStatus)
	assert.Equal(t, newer.Products, got.Products)

	mine, err := repo.FindByUser(ctx, user)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, newer.ID, mine[0].ID, "newest first")

	all, err := repo.FindAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	none, err := repo.FindByUser(ctx, primitive.NewObjectID())
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = repo.FindByID(ctx, primitive.NewObjectID())
	assert.ErrorIs(t, err, ErrOrderNotFound)

	deleted, err := repo.Delete(ctx, older.ID)
	require.NoError(t, err)
	assert.Equal(t, user, deleted.User)
	_, err = repo.Delete(ctx, older.ID)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestMongoRepository_CompareAndSetState(t *testing.T) {
	repo := NewMongoRepository(dbtest.NewStore(t))
	ctx := context.Background()

	o := &models.Order{
		User:          primitive.NewObjectID(),
		Status:        models.StatusPending,
		PaymentMethod: models.MethodOnline,
		PaymentStatus: models.PaymentWaiting,
		CreatedAt:     time.Now(),
	}
	require.NoError(t, repo.Insert(ctx, o))

	from := o.State()
	to := models.OrderState{Status: models.StatusCompleted, PaymentStatus: models.PaymentPaid}

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.CompareAndSetState(ctx, o.ID, from, to)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)

	got, err := repo.FindByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, to, got.State())
	assert.False(t, got.UpdatedAt.IsZero())

	ok, err := repo.CompareAndSetState(ctx, primitive.NewObjectID(), from, to)
	require.NoError(t, err)
	assert.False(t, ok)
}
