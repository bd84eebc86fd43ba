// Package crypto provides the RSA and AES primitives used by the zot protocol:
// PKCS#1 v1.5 signatures over SHA-256, PKCS#1 v1.5 encryption and AES-256-CBC
// session key envelopes.
package crypto

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"strings"

	zerrors "github.com/sprezz-net/sprezz/pkg/errors"
)

// DefaultKeyBits is the modulus size used for channel and site keys.
const DefaultKeyBits = 4096

const (
	pemPublicKey    = "PUBLIC KEY"
	pemRSAPublicKey = "RSA PUBLIC KEY"
	pemRSAPrivate   = "RSA PRIVATE KEY"
	pemPKCS8Private = "PRIVATE KEY"
)

// KeyPair holds an optional RSA private key and its public half. A KeyPair is
// immutable once constructed.
type KeyPair struct {
	private *rsa.PrivateKey
	public  *rsa.PublicKey
}

// Generate creates a fresh keypair. bits <= 0 selects DefaultKeyBits.
func Generate(bits int) (*KeyPair, error) {
	if bits <= 0 {
		bits = DefaultKeyBits
	}
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, zerrors.Wrap(zerrors.ErrKeygen, err)
	}
	return &KeyPair{private: key, public: &key.PublicKey}, nil
}

// FromPublicPEM parses a public key. Both "PUBLIC KEY" and the legacy
// "RSA PUBLIC KEY" headers are accepted, whichever DER encoding they carry.
func FromPublicPEM(data []byte) (*KeyPair, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, zerrors.Wrap(zerrors.ErrInvalidKey, fmt.Errorf("no PEM block found"))
	}
	if block.Type != pemPublicKey && block.Type != pemRSAPublicKey {
		return nil, zerrors.Wrap(zerrors.ErrInvalidKey, fmt.Errorf("unexpected PEM block %q", block.Type))
	}

	pub, err := parsePublicDER(block.Bytes)
	if err != nil {
		return nil, zerrors.Wrap(zerrors.ErrInvalidKey, err)
	}
	return &KeyPair{public: pub}, nil
}

// FromPrivatePEM parses a PKCS#1 or PKCS#8 RSA private key.
func FromPrivatePEM(data []byte) (*KeyPair, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, zerrors.Wrap(zerrors.ErrInvalidKey, fmt.Errorf("no PEM block found"))
	}

	var key *rsa.PrivateKey
	switch block.Type {
	case pemRSAPrivate:
		k, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, zerrors.Wrap(zerrors.ErrInvalidKey, err)
		}
		key = k
	case pemPKCS8Private:
		k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, zerrors.Wrap(zerrors.ErrInvalidKey, err)
		}
		rk, ok := k.(*rsa.PrivateKey)
		if !ok {
			return nil, zerrors.Wrap(zerrors.ErrInvalidKey, fmt.Errorf("PKCS#8 key is %T, not RSA", k))
		}
		key = rk
	default:
		return nil, zerrors.Wrap(zerrors.ErrInvalidKey, fmt.Errorf("unexpected PEM block %q", block.Type))
	}
	return &KeyPair{private: key, public: &key.PublicKey}, nil
}

func parsePublicDER(der []byte) (*rsa.PublicKey, error) {
	if k, err := x509.ParsePKIXPublicKey(der); err == nil {
		pub, ok := k.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("public key is %T, not RSA", k)
		}
		return pub, nil
	}
	return x509.ParsePKCS1PublicKey(der)
}

// HasPrivate reports whether the keypair can sign and decrypt.
func (k *KeyPair) HasPrivate() bool {
	return k != nil && k.private != nil
}

// PublicOnly returns a new KeyPair holding only the public key.
func (k *KeyPair) PublicOnly() *KeyPair {
	if k == nil {
		return &KeyPair{}
	}
	return &KeyPair{public: k.public}
}

// Sign digests message with SHA-256 and signs it with PKCS#1 v1.5.
func (k *KeyPair) Sign(message []byte) ([]byte, error) {
	if !k.HasPrivate() {
		return nil, zerrors.ErrNoKeyMaterial
	}
	digest := sha256.Sum256(message)
	sig, err := rsa.SignPKCS1v15(rand.Reader, k.private, crypto.SHA256, digest[:])
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	return sig, nil
}

// Verify reports whether signature is valid for message. A mismatch is not an
// error; only a keypair without any key returns ErrNoKeyMaterial.
func (k *KeyPair) Verify(message, signature []byte) (bool, error) {
	if k == nil || k.public == nil {
		return false, zerrors.ErrNoKeyMaterial
	}
	digest := sha256.Sum256(message)
	return rsa.VerifyPKCS1v15(k.public, crypto.SHA256, digest[:], signature) == nil, nil
}

// Encrypt applies PKCS#1 v1.5 encryption under the public key.
func (k *KeyPair) Encrypt(message []byte) ([]byte, error) {
	if k == nil || k.public == nil {
		return nil, zerrors.ErrNoKeyMaterial
	}
	ct, err := rsa.EncryptPKCS1v15(rand.Reader, k.public, message)
	if err != nil {
		return nil, fmt.Errorf("encrypt: %w", err)
	}
	return ct, nil
}

// Decrypt reverses Encrypt. Every padding or length problem yields the same
// ErrDecryptionFailed without the underlying cause.
func (k *KeyPair) Decrypt(ciphertext []byte) ([]byte, error) {
	if !k.HasPrivate() {
		return nil, zerrors.ErrNoKeyMaterial
	}
	msg, err := rsa.DecryptPKCS1v15(rand.Reader, k.private, ciphertext)
	if err != nil {
		return nil, zerrors.ErrDecryptionFailed
	}
	return msg, nil
}

// ExportPublicPEM returns the SubjectPublicKeyInfo in a "PUBLIC KEY" block,
// without a trailing newline.
func (k *KeyPair) ExportPublicPEM() (string, error) {
	if k == nil || k.public == nil {
		return "", zerrors.ErrNoKeyMaterial
	}
	der, err := x509.MarshalPKIXPublicKey(k.public)
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}
	out := pem.EncodeToMemory(&pem.Block{Type: pemPublicKey, Bytes: der})
	return strings.TrimRight(string(out), "\n"), nil
}

// ExportPrivatePEM returns the PKCS#1 private key, for persisting site and
// channel keys.
func (k *KeyPair) ExportPrivatePEM() ([]byte, error) {
	if !k.HasPrivate() {
		return nil, zerrors.ErrNoKeyMaterial
	}
	der := x509.MarshalPKCS1PrivateKey(k.private)
	return pem.EncodeToMemory(&pem.Block{Type: pemRSAPrivate, Bytes: der}), nil
}

// Equal reports whether both keypairs carry the same public key.
func (k *KeyPair) Equal(other *KeyPair) bool {
	if k == nil || other == nil || k.public == nil || other.public == nil {
		return false
	}
	return k.public.Equal(other.public)
}
