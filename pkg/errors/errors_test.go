package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"crypto sentinel", ErrNoKeyMaterial, KindCrypto},
		{"wrapped protocol", fmt.Errorf("import: %w", ErrInvalidSignature), KindProtocol},
		{"state", ErrDuplicateChannel, KindState},
		{"remote", &RemoteError{Message: "Item not found."}, KindProtocol},
		{"http", fmt.Errorf("finger: %w", &HTTPError{StatusCode: 404}), KindProtocol},
		{"plain", fmt.Errorf("boom"), KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestWrapMatchesSentinelAndCause(t *testing.T) {
	cause := fmt.Errorf("short read")
	err := Wrap(ErrDecryptionFailed, cause)

	assert.True(t, Is(err, ErrDecryptionFailed))
	assert.True(t, Is(err, cause))
	assert.False(t, Is(err, ErrInvalidEnvelope))
	assert.Equal(t, ErrNotFound, Wrap(ErrNotFound, nil))
}

func TestRemoteErrorAs(t *testing.T) {
	err := fmt.Errorf("finger admin@example.com: %w", &RemoteError{Message: "Item not found."})

	var re *RemoteError
	assert.True(t, As(err, &re))
	assert.Equal(t, "Item not found.", re.Message)
}
