// Package didproof issues DID binding proofs: compact JWS tokens binding an
// identity to the digest of its enrolled template. The proof lets an external
// DID document reference the enrollment without carrying any biometric data.
package didproof

import (
	"encoding/base64"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"biogate/pkg/domain"
	dErrors "biogate/pkg/domain-errors"
)

// Claims are the binding proof claims. TemplateDigest is the base64 SHA-256
// of the protected payload; nothing biometric is recoverable from it.
type Claims struct {
	TemplateDigest string `json:"template_digest"`
	Modality       string `json:"modality"`
	jwt.RegisteredClaims
}

// Signer issues and verifies binding proofs with an HMAC key.
type Signer struct {
	signingKey []byte
	issuer     string
}

func NewSigner(signingKey []byte, issuer string) *Signer {
	return &Signer{signingKey: signingKey, issuer: issuer}
}

// BindingProof signs a proof tying identityID to the template digest.
func (s *Signer) BindingProof(identityID domain.IdentityID, modality domain.Modality, templateDigest []byte) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		TemplateDigest: base64.RawURLEncoding.EncodeToString(templateDigest),
		Modality:       modality.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  identityID.String(),
			Issuer:   s.issuer,
			IssuedAt: jwt.NewNumericDate(now),
			ID:       uuid.NewString(),
		},
	})
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "sign binding proof")
	}
	return signed, nil
}

// Verify parses and validates a binding proof, returning its claims.
func (s *Signer) Verify(proof string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(proof, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, dErrors.Newf(dErrors.CodeInvalidInput, "unexpected signing method %v", t.Header["alg"])
		}
		return s.signingKey, nil
	}, jwt.WithIssuer(s.issuer))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid binding proof")
	}
	if !token.Valid {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "invalid binding proof")
	}
	return claims, nil
}
