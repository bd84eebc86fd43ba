package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	zerrors "github.com/sprezz-net/sprezz/pkg/errors"
)

// AESKeySize selects AES-256.
const AESKeySize = 32

// Envelope is an AES-256-CBC ciphertext whose key and IV are each
// RSA-encrypted under the recipient's public key. All fields are base64url
// without padding.
type Envelope struct {
	Data string `json:"data"`
	Key  string `json:"key"`
	IV   string `json:"iv"`
}

// Complete reports whether all three envelope fields are present.
func (e *Envelope) Complete() bool {
	return e != nil && e.Data != "" && e.Key != "" && e.IV != ""
}

// AESEncapsulate encrypts plaintext under a random AES key and IV, then wraps
// both with the keypair's public key.
func (k *KeyPair) AESEncapsulate(plaintext []byte) (*Envelope, error) {
	key := make([]byte, AESKeySize)
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate AES key: %w", err)
	}
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("generate AES iv: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	padded := PKCS7Pad(plaintext, aes.BlockSize)
	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, padded)

	encKey, err := k.Encrypt(key)
	if err != nil {
		return nil, err
	}
	encIV, err := k.Encrypt(iv)
	if err != nil {
		return nil, err
	}

	return &Envelope{
		Data: Base64URLEncode(ct),
		Key:  Base64URLEncode(encKey),
		IV:   Base64URLEncode(encIV),
	}, nil
}

// AESDecapsulate reverses AESEncapsulate with the private key. Missing fields
// yield ErrInvalidEnvelope; every other failure collapses to ErrDecryptionFailed.
func (k *KeyPair) AESDecapsulate(env *Envelope) ([]byte, error) {
	if !env.Complete() {
		return nil, zerrors.ErrInvalidEnvelope
	}
	if !k.HasPrivate() {
		return nil, zerrors.ErrNoKeyMaterial
	}

	encKey, err := Base64URLDecode(env.Key)
	if err != nil {
		return nil, zerrors.ErrDecryptionFailed
	}
	encIV, err := Base64URLDecode(env.IV)
	if err != nil {
		return nil, zerrors.ErrDecryptionFailed
	}
	ct, err := Base64URLDecode(env.Data)
	if err != nil {
		return nil, zerrors.ErrDecryptionFailed
	}

	key, err := k.Decrypt(encKey)
	if err != nil {
		return nil, zerrors.ErrDecryptionFailed
	}
	iv, err := k.Decrypt(encIV)
	if err != nil {
		return nil, zerrors.ErrDecryptionFailed
	}
	if len(key) != AESKeySize || len(iv) != aes.BlockSize {
		return nil, zerrors.ErrDecryptionFailed
	}
	if len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return nil, zerrors.ErrDecryptionFailed
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, zerrors.ErrDecryptionFailed
	}
	plain := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ct)

	out, err := PKCS7Unpad(plain, aes.BlockSize)
	if err != nil {
		return nil, zerrors.ErrDecryptionFailed
	}
	return out, nil
}

// PKCS7Pad always appends between 1 and blockSize padding bytes.
func PKCS7Pad(message []byte, blockSize int) []byte {
	n := blockSize - len(message)%blockSize
	out := make([]byte, len(message), len(message)+n)
	copy(out, message)
	for i := 0; i < n; i++ {
		out = append(out, byte(n))
	}
	return out
}

// PKCS7Unpad strips and validates PKCS#7 padding.
func PKCS7Unpad(message []byte, blockSize int) ([]byte, error) {
	if len(message) == 0 || len(message)%blockSize != 0 {
		return nil, fmt.Errorf("invalid padded length %d", len(message))
	}
	n := int(message[len(message)-1])
	if n == 0 || n > blockSize {
		return nil, fmt.Errorf("invalid padding")
	}
	for _, b := range message[len(message)-n:] {
		if int(b) != n {
			return nil, fmt.Errorf("invalid padding")
		}
	}
	return message[:len(message)-n], nil
}
