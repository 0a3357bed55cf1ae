package didproof

import (
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"biogate/pkg/domain"
	dErrors "biogate/pkg/domain-errors"
)

func TestBindingProof_RoundTrip(t *testing.T) {
	signer := NewSigner([]byte("test-signing-key"), "biogate-test")
	id := domain.NewIdentityID()
	digest := sha256.Sum256([]byte("protected payload"))

	proof, err := signer.BindingProof(id, domain.ModalityFace, digest[:])
	require.NoError(t, err)

	claims, err := signer.Verify(proof)
	require.NoError(t, err)
	assert.Equal(t, id.String(), claims.Subject)
	assert.Equal(t, "face", claims.Modality)
	assert.Equal(t, base64.RawURLEncoding.EncodeToString(digest[:]), claims.TemplateDigest)
}

func TestVerify_WrongKey(t *testing.T) {
	signer := NewSigner([]byte("key-a"), "biogate-test")
	other := NewSigner([]byte("key-b"), "biogate-test")
	digest := sha256.Sum256([]byte("payload"))

	proof, err := signer.BindingProof(domain.NewIdentityID(), domain.ModalityIris, digest[:])
	require.NoError(t, err)

	_, err = other.Verify(proof)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestVerify_WrongIssuer(t *testing.T) {
	signer := NewSigner([]byte("key"), "issuer-a")
	verifier := NewSigner([]byte("key"), "issuer-b")
	digest := sha256.Sum256([]byte("payload"))

	proof, err := signer.BindingProof(domain.NewIdentityID(), domain.ModalityVoice, digest[:])
	require.NoError(t, err)

	_, err = verifier.Verify(proof)
	require.Error(t, err)
}
