package zot

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/jzelinskie/whirlpool"

	"github.com/sprezz-net/sprezz/pkg/crypto"
	zerrors "github.com/sprezz-net/sprezz/pkg/errors"
)

// CreateChannelGUID derives a guid from the site url, the nickname and a
// random salt so that recreating a nickname never reuses a guid.
func CreateChannelGUID(appURL, nickname string, salt uint64) string {
	return whirlpoolB64(fmt.Sprintf("%s/%s.%d", appURL, nickname, salt))
}

// CreateChannelSignature signs guid with key.
func CreateChannelSignature(guid string, key *crypto.KeyPair) (string, error) {
	sig, err := key.Sign([]byte(guid))
	if err != nil {
		return "", err
	}
	return crypto.Base64URLEncode(sig), nil
}

// CreateChannelHash binds a guid to its signature. Both arguments are the
// base64url text forms and are concatenated as text.
func CreateChannelHash(guid, signature string) string {
	return whirlpoolB64(guid + signature)
}

// VerifySignature checks a base64url signature over message. Undecodable
// signatures count as invalid rather than as errors.
func VerifySignature(key *crypto.KeyPair, message, signature string) (bool, error) {
	sig, err := crypto.Base64URLDecode(signature)
	if err != nil {
		return false, nil
	}
	return key.Verify([]byte(message), sig)
}

func whirlpoolB64(s string) string {
	h := whirlpool.New()
	h.Write([]byte(s))
	return crypto.Base64URLEncode(h.Sum(nil))
}

// randomSalt returns a non-negative 63-bit value.
func randomSalt(r io.Reader) (uint64, error) {
	if r == nil {
		r = rand.Reader
	}
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, zerrors.Wrap(zerrors.ErrKeygen, err)
	}
	return binary.BigEndian.Uint64(buf[:]) >> 1, nil
}
