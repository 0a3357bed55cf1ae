package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"biogate/internal/lockout"
	"biogate/pkg/domain"
)

func TestGetMissingReturnsNil(t *testing.T) {
	store := New()
	rec, err := store.Get(context.Background(), domain.NewIdentityID())
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestPutGetRoundTrip(t *testing.T) {
	store := New()
	ctx := context.Background()
	id := domain.NewIdentityID()
	until := time.Now().Add(time.Minute).UTC()

	require.NoError(t, store.Put(ctx, &lockout.Record{
		IdentityID:    id,
		FailureCount:  3,
		LockedUntil:   &until,
		LastFailureAt: until.Add(-time.Minute),
	}))

	rec, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, rec.FailureCount)
	assert.Equal(t, until, *rec.LockedUntil)
}

func TestGetReturnsCopy(t *testing.T) {
	store := New()
	ctx := context.Background()
	id := domain.NewIdentityID()

	require.NoError(t, store.Put(ctx, &lockout.Record{IdentityID: id, FailureCount: 1}))

	rec, err := store.Get(ctx, id)
	require.NoError(t, err)
	rec.FailureCount = 99

	again, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, again.FailureCount, "mutating a returned record must not leak into the store")
}
