package audit_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"biogate/internal/audit"
	"biogate/internal/audit/store/memory"
	"biogate/pkg/domain"
	dErrors "biogate/pkg/domain-errors"
)

func newChain(t *testing.T) (*audit.Chain, *memory.Store) {
	t.Helper()
	store := memory.New()
	chain, err := audit.NewChain(context.Background(), store)
	require.NoError(t, err)
	return chain, store
}

func verifyEvent(id domain.IdentityID, decision string) audit.Event {
	return audit.Event{
		Type:       audit.EventVerify,
		IdentityID: id,
		Timestamp:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Decision:   decision,
		Reason:     domain.ReasonOK,
		FusedScore: 0.9,
	}
}

func TestAppend_AssignsSequentialLinks(t *testing.T) {
	chain, _ := newChain(t)
	ctx := context.Background()
	id := domain.NewIdentityID()

	first, err := chain.Append(ctx, verifyEvent(id, "accept"))
	require.NoError(t, err)
	second, err := chain.Append(ctx, verifyEvent(id, "reject"))
	require.NoError(t, err)

	assert.Equal(t, uint64(1), first.Seq)
	assert.Equal(t, uint64(2), second.Seq)
	assert.Equal(t, audit.Link(nil, first.Digest), first.LinkHash)
	assert.Equal(t, audit.Link(first.LinkHash, second.Digest), second.LinkHash)
}

func TestVerifyChain_CleanChain(t *testing.T) {
	chain, _ := newChain(t)
	ctx := context.Background()
	id := domain.NewIdentityID()

	const n = 10
	for i := 0; i < n; i++ {
		_, err := chain.Append(ctx, verifyEvent(id, "accept"))
		require.NoError(t, err)
	}

	ok, firstBad, err := chain.VerifyChain(ctx, 1, n)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, firstBad)
	assert.False(t, chain.Halted())
}

func TestVerifyChain_DetectsMutation(t *testing.T) {
	chain, store := newChain(t)
	ctx := context.Background()
	id := domain.NewIdentityID()

	for i := 0; i < 5; i++ {
		_, err := chain.Append(ctx, verifyEvent(id, "accept"))
		require.NoError(t, err)
	}

	store.Corrupt(3, []byte(`{"decision":"accept","forged":true}`))

	ok, firstBad, err := chain.VerifyChain(ctx, 1, 5)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, uint64(3), firstBad)
	assert.True(t, chain.Halted(), "tamper must halt trust in subsequent decisions")

	chain.ResetHalt()
	assert.False(t, chain.Halted())
}

func TestVerifyChain_SubRange(t *testing.T) {
	chain, _ := newChain(t)
	ctx := context.Background()
	id := domain.NewIdentityID()

	for i := 0; i < 6; i++ {
		_, err := chain.Append(ctx, verifyEvent(id, "reject"))
		require.NoError(t, err)
	}

	ok, _, err := chain.VerifyChain(ctx, 3, 5)
	require.NoError(t, err)
	assert.True(t, ok, "a sub-range anchored on its predecessor must verify")
}

func TestVerifyChain_InvalidRange(t *testing.T) {
	chain, _ := newChain(t)
	_, err := chain.Append(context.Background(), verifyEvent(domain.NewIdentityID(), "accept"))
	require.NoError(t, err)

	_, _, err = chain.VerifyChain(context.Background(), 5, 2)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestAppend_ResumesExistingChain(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	id := domain.NewIdentityID()

	first, err := audit.NewChain(ctx, store)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := first.Append(ctx, verifyEvent(id, "accept"))
		require.NoError(t, err)
	}

	// A restarted chain continues from the persisted head.
	second, err := audit.NewChain(ctx, store)
	require.NoError(t, err)
	rec, err := second.Append(ctx, verifyEvent(id, "reject"))
	require.NoError(t, err)
	assert.Equal(t, uint64(4), rec.Seq)

	ok, _, err := second.VerifyChain(ctx, 1, 4)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAppend_ConcurrentAppendsStaySequential(t *testing.T) {
	chain, _ := newChain(t)
	ctx := context.Background()

	const goroutines = 32
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := chain.Append(ctx, verifyEvent(domain.NewIdentityID(), "reject"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(goroutines), chain.Head())
	ok, _, err := chain.VerifyChain(ctx, 1, goroutines)
	require.NoError(t, err)
	assert.True(t, ok, "concurrent appends must still form a valid chain")
}
