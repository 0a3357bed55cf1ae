package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "biogate/pkg/domain-errors"
)

// TestParseIdentityID_Invariants validates the parsing invariant:
// "IDs must be valid, non-empty, non-nil UUIDs".
func TestParseIdentityID_Invariants(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseIdentityID("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects invalid format", func(t *testing.T) {
		_, err := ParseIdentityID("not-a-uuid")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects nil UUID", func(t *testing.T) {
		_, err := ParseIdentityID(uuid.Nil.String())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("accepts valid UUID", func(t *testing.T) {
		valid := uuid.New()
		id, err := ParseIdentityID(valid.String())
		require.NoError(t, err)
		assert.Equal(t, IdentityID(valid), id)
	})
}

func TestParseModality(t *testing.T) {
	t.Run("rejects empty", func(t *testing.T) {
		_, err := ParseModality("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects unknown channel", func(t *testing.T) {
		_, err := ParseModality("gait")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("accepts each supported modality", func(t *testing.T) {
		for _, m := range []string{"fingerprint", "face", "iris", "voice"} {
			got, err := ParseModality(m)
			require.NoError(t, err)
			assert.True(t, got.IsValid())
		}
	})
}
