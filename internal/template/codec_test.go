package template

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"biogate/internal/platform/config"
	"biogate/pkg/domain"
	dErrors "biogate/pkg/domain-errors"
)

func testCodec(t *testing.T) *Codec {
	t.Helper()
	key := bytes.Repeat([]byte{0x42}, 32)
	c, err := NewCodec(key, config.CodecConfig{
		FingerprintDims: 8,
		FaceDims:        16,
		IrisDims:        32,
		VoiceDims:       12,
		CodeBits:        64,
	})
	require.NoError(t, err)
	return c
}

func testVector(n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = math.Sin(float64(i)*1.7) * 3
	}
	return v
}

func TestProtect_Deterministic(t *testing.T) {
	c := testCodec(t)
	salt := bytes.Repeat([]byte{0x01}, SaltSize)
	vec := testVector(8)

	first, err := c.Protect(vec, domain.ModalityFingerprint, salt)
	require.NoError(t, err)
	second, err := c.Protect(vec, domain.ModalityFingerprint, salt)
	require.NoError(t, err)

	assert.True(t, EqualPayload(first.Payload, second.Payload),
		"same vector + salt must produce byte-identical payloads")
}

func TestProtect_SaltSeparation(t *testing.T) {
	c := testCodec(t)
	vec := testVector(8)

	a, err := c.Protect(vec, domain.ModalityFingerprint, bytes.Repeat([]byte{0x01}, SaltSize))
	require.NoError(t, err)
	b, err := c.Protect(vec, domain.ModalityFingerprint, bytes.Repeat([]byte{0x02}, SaltSize))
	require.NoError(t, err)

	assert.False(t, EqualPayload(a.Payload, b.Payload),
		"different salts must not produce linkable payloads")
}

func TestProtect_InvalidInput(t *testing.T) {
	c := testCodec(t)
	salt := bytes.Repeat([]byte{0x01}, SaltSize)

	t.Run("wrong dimensionality", func(t *testing.T) {
		_, err := c.Protect(testVector(7), domain.ModalityFingerprint, salt)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("non-finite element", func(t *testing.T) {
		vec := testVector(8)
		vec[3] = math.NaN()
		_, err := c.Protect(vec, domain.ModalityFingerprint, salt)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("unsupported modality", func(t *testing.T) {
		_, err := c.Protect(testVector(8), domain.Modality("gait"), salt)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("short salt", func(t *testing.T) {
		_, err := c.Protect(testVector(8), domain.ModalityFingerprint, []byte{0x01})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func TestOpen_RoundTrip(t *testing.T) {
	c := testCodec(t)
	salt := bytes.Repeat([]byte{0x01}, SaltSize)

	tpl, err := c.Protect(testVector(16), domain.ModalityFace, salt)
	require.NoError(t, err)

	code, err := c.Open(tpl)
	require.NoError(t, err)
	assert.Len(t, code, c.CodeBits()/8)
}

func TestOpen_TamperedPayload(t *testing.T) {
	c := testCodec(t)
	salt := bytes.Repeat([]byte{0x01}, SaltSize)

	tpl, err := c.Protect(testVector(16), domain.ModalityFace, salt)
	require.NoError(t, err)
	tpl.Payload[0] ^= 0xff

	_, err = c.Open(tpl)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
}

func TestNewSalt(t *testing.T) {
	a, err := NewSalt()
	require.NoError(t, err)
	b, err := NewSalt()
	require.NoError(t, err)
	assert.Len(t, a, SaltSize)
	assert.NotEqual(t, a, b)
}
