// Package template implements the protected template codec: a keyed one-way
// transform from raw feature vectors to storable templates, plus the
// match-time opening of the protected representation.
//
// The transform is a keyed random sign projection (BioHashing-style): an
// HKDF-derived key seeds a deterministic ChaCha20 keystream that fixes a
// {-1,+1} projection matrix; the feature vector is projected and sign
// quantized into a fixed-width bit code. Sign quantization discards
// magnitudes, so the payload alone cannot be inverted back to the vector.
// The bit code is then sealed with XChaCha20-Poly1305 under a second derived
// key so the at-rest payload is opaque without the master key.
package template

import (
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"math"
	"time"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"biogate/internal/platform/config"
	"biogate/pkg/domain"
	dErrors "biogate/pkg/domain-errors"
)

const (
	// SaltSize is the per-identity protection salt length.
	SaltSize = 16

	masterKeySize = 32
)

// Codec converts raw feature vectors into protected templates and back into
// the comparable (but still protected) bit-code form. Stateless and safe for
// concurrent use.
type Codec struct {
	masterKey []byte
	dims      map[domain.Modality]int
	codeBits  int
}

// NewCodec builds a codec from the 32-byte master key and the per-modality
// dimensionality configuration.
func NewCodec(masterKey []byte, cfg config.CodecConfig) (*Codec, error) {
	if len(masterKey) != masterKeySize {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "master key must be %d bytes", masterKeySize)
	}
	if cfg.CodeBits <= 0 || cfg.CodeBits%8 != 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "code bits must be a positive multiple of 8")
	}
	key := make([]byte, masterKeySize)
	copy(key, masterKey)
	return &Codec{
		masterKey: key,
		dims: map[domain.Modality]int{
			domain.ModalityFingerprint: cfg.FingerprintDims,
			domain.ModalityFace:        cfg.FaceDims,
			domain.ModalityIris:        cfg.IrisDims,
			domain.ModalityVoice:       cfg.VoiceDims,
		},
		codeBits: cfg.CodeBits,
	}, nil
}

// NewSalt generates a fresh protection salt for an identity.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

// Dims returns the expected feature-vector length for a modality.
func (c *Codec) Dims(modality domain.Modality) (int, bool) {
	d, ok := c.dims[modality]
	return d, ok
}

// Protect applies the keyed one-way transform to a raw feature vector,
// producing an opaque template payload. Identical inputs yield byte-identical
// output; matching depends on that determinism.
func (c *Codec) Protect(vector []float64, modality domain.Modality, salt []byte) (*ProtectedTemplate, error) {
	if err := c.validate(vector, modality, salt); err != nil {
		return nil, err
	}

	code := c.project(vector, modality, salt)

	sealed, err := c.seal(code, modality, salt)
	if err != nil {
		return nil, err
	}

	return &ProtectedTemplate{
		Modality:  modality,
		Payload:   sealed,
		Salt:      salt,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// PrepareForMatch applies the identical transform to a live capture so the
// matcher compares like representations. The result is ephemeral and must
// never be persisted.
func (c *Codec) PrepareForMatch(vector []float64, modality domain.Modality, salt []byte) (*ProtectedTemplate, error) {
	return c.Protect(vector, modality, salt)
}

// Open decrypts a template payload into its bit code for match-time use.
// The bit code is still the protected representation; the feature vector is
// not recoverable from it.
func (c *Codec) Open(tpl *ProtectedTemplate) ([]byte, error) {
	if tpl == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "template is required")
	}
	aead, err := c.sealer(tpl.Modality, tpl.Salt)
	if err != nil {
		return nil, err
	}
	if len(tpl.Payload) < chacha20poly1305.NonceSizeX {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "template payload is truncated")
	}
	nonce, sealed := tpl.Payload[:chacha20poly1305.NonceSizeX], tpl.Payload[chacha20poly1305.NonceSizeX:]
	code, err := aead.Open(nil, nonce, sealed, []byte(tpl.Modality))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvariantViolation, "template payload failed authentication")
	}
	return code, nil
}

// CodeBits returns the protected code width in bits.
func (c *Codec) CodeBits() int { return c.codeBits }

// Validate checks a raw feature vector against the modality's expected
// dimensionality without touching any identity state.
func (c *Codec) Validate(vector []float64, modality domain.Modality) error {
	dims, ok := c.dims[modality]
	if !ok {
		return dErrors.Newf(dErrors.CodeInvalidInput, "unsupported modality %q", modality)
	}
	if len(vector) != dims {
		return dErrors.Newf(dErrors.CodeInvalidInput,
			"feature vector for %s must have %d dimensions, got %d", modality, dims, len(vector))
	}
	for i, v := range vector {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return dErrors.Newf(dErrors.CodeInvalidInput, "feature vector element %d is not finite", i)
		}
	}
	return nil
}

func (c *Codec) validate(vector []float64, modality domain.Modality, salt []byte) error {
	if err := c.Validate(vector, modality); err != nil {
		return err
	}
	if len(salt) != SaltSize {
		return dErrors.Newf(dErrors.CodeInvalidInput, "salt must be %d bytes", SaltSize)
	}
	return nil
}

// project computes the keyed sign projection of the vector into a bit code.
// The projection matrix is never materialized beyond the keystream that
// defines it, and that keystream is derivable only with the master key.
func (c *Codec) project(vector []float64, modality domain.Modality, salt []byte) []byte {
	projKey := c.derive("biogate/projection/"+string(modality), salt, chacha20.KeySize)

	// Deterministic keystream: one sign bit per matrix coefficient.
	need := (c.codeBits*len(vector) + 7) / 8
	stream := make([]byte, need)
	cipher, err := chacha20.NewUnauthenticatedCipher(projKey, make([]byte, chacha20.NonceSize))
	if err != nil {
		// key and nonce sizes are fixed above
		panic(fmt.Sprintf("template: chacha20 init: %v", err))
	}
	cipher.XORKeyStream(stream, stream)

	code := make([]byte, c.codeBits/8)
	bit := 0
	for row := 0; row < c.codeBits; row++ {
		var dot float64
		for _, v := range vector {
			if stream[bit/8]&(1<<(bit%8)) != 0 {
				dot += v
			} else {
				dot -= v
			}
			bit++
		}
		if dot >= 0 {
			code[row/8] |= 1 << (row % 8)
		}
	}
	return code
}

// seal encrypts the bit code as nonce || ciphertext. The nonce is synthetic,
// an HMAC of the code itself, so sealing stays fully deterministic while
// distinct codes under the same salt never share a (key, nonce) pair.
func (c *Codec) seal(code []byte, modality domain.Modality, salt []byte) ([]byte, error) {
	aead, err := c.sealer(modality, salt)
	if err != nil {
		return nil, err
	}
	mac := hmac.New(sha256.New, c.derive("biogate/nonce/"+string(modality), salt, sha256.Size))
	mac.Write(code)
	nonce := mac.Sum(nil)[:chacha20poly1305.NonceSizeX]

	out := make([]byte, 0, len(nonce)+len(code)+aead.Overhead())
	out = append(out, nonce...)
	return aead.Seal(out, nonce, code, []byte(modality)), nil
}

func (c *Codec) sealer(modality domain.Modality, salt []byte) (cipher.AEAD, error) {
	if len(salt) != SaltSize {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "salt must be %d bytes", SaltSize)
	}
	sealKey := c.derive("biogate/seal/"+string(modality), salt, chacha20poly1305.KeySize)
	a, err := chacha20poly1305.NewX(sealKey)
	if err != nil {
		return nil, fmt.Errorf("init sealer: %w", err)
	}
	return a, nil
}

func (c *Codec) derive(info string, salt []byte, n int) []byte {
	out := make([]byte, n)
	r := hkdf.New(sha256.New, c.masterKey, salt, []byte(info))
	if _, err := io.ReadFull(r, out); err != nil {
		panic(fmt.Sprintf("template: hkdf: %v", err))
	}
	return out
}

// EqualPayload reports whether two payloads are identical in constant time.
func EqualPayload(a, b []byte) bool {
	return hmac.Equal(a, b)
}
