package domainerrors_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "biogate/pkg/domain-errors"
)

func TestHasCode(t *testing.T) {
	t.Run("direct coded error", func(t *testing.T) {
		err := dErrors.New(dErrors.CodeInvalidInput, "vector length mismatch")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
		assert.False(t, dErrors.HasCode(err, dErrors.CodeUnavailable))
	})

	t.Run("wrapped through fmt.Errorf", func(t *testing.T) {
		inner := dErrors.New(dErrors.CodeUnavailable, "store timeout")
		err := fmt.Errorf("verify failed: %w", inner)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnavailable))
	})

	t.Run("uncoded error", func(t *testing.T) {
		assert.False(t, dErrors.HasCode(errors.New("plain"), dErrors.CodeInternal))
	})
}

func TestWrap(t *testing.T) {
	t.Run("nil cause yields nil", func(t *testing.T) {
		assert.Nil(t, dErrors.Wrap(nil, dErrors.CodeInternal, "ignored"))
	})

	t.Run("cause is unwrappable", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := dErrors.Wrap(cause, dErrors.CodeUnavailable, "lockout store")
		require.ErrorIs(t, err, cause)
		assert.Equal(t, dErrors.CodeUnavailable, dErrors.CodeOf(err))
	})
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, dErrors.CodeInternal, dErrors.CodeOf(errors.New("anonymous")))
	assert.Equal(t, dErrors.CodeTamperDetected,
		dErrors.CodeOf(dErrors.New(dErrors.CodeTamperDetected, "chain broken at seq 7")))
}
