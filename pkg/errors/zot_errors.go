package errors

var (
	// Crypto errors
	ErrNoKeyMaterial    = Crypto("no usable key material")
	ErrDecryptionFailed = Crypto("decryption failed")
	ErrInvalidEnvelope  = Crypto("invalid AES envelope")
	ErrKeygen           = Crypto("key generation failed")
	ErrInvalidKey       = Crypto("invalid key encoding")

	// Protocol errors
	ErrInvalidSignature = Protocol("invalid signature")
	ErrMissingSiteKey   = Protocol("missing hub site key")
	ErrInvalidAddress   = Protocol("invalid channel address")
	ErrInvalidResponse  = Protocol("invalid protocol response")

	// State errors
	ErrDuplicateChannel  = State("channel already exists")
	ErrNotFound          = State("not found")
	ErrAlreadyExists     = State("already exists")
	ErrIDExhausted       = State("no available id found")
	ErrNoDeliveryHandler = State("no delivery handler registered")
	ErrForgedSender      = State("sender is not owner or author")
)
