package errors

// Kind buckets protocol engine failures.
type Kind string

const (
	KindUnknown  Kind = "UNKNOWN"
	KindCrypto   Kind = "CRYPTO_ERROR"
	KindProtocol Kind = "PROTOCOL_ERROR"
	KindState    Kind = "STATE_ERROR"
)
