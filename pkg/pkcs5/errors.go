package pkcs5

import "errors"

var (
	// ErrUnsupportedPRF is returned for a PRF selector outside the supported set.
	ErrUnsupportedPRF = errors.New("pkcs5: unsupported PRF")

	// ErrDerivedKeyTooLong is returned when dkLen exceeds (2^32 - 1) * hLen.
	ErrDerivedKeyTooLong = errors.New("pkcs5: derived key too long")

	// ErrInvalidIterationCount is returned when iterations < 1.
	ErrInvalidIterationCount = errors.New("pkcs5: invalid iteration count")

	// ErrInvalidKeyLength is returned when dkLen < 1.
	ErrInvalidKeyLength = errors.New("pkcs5: invalid derived key length")

	// ErrEngineDestroyed is returned by an engine after Destroy.
	ErrEngineDestroyed = errors.New("pkcs5: engine destroyed")

	// ErrPRFProvider wraps failures raised by the underlying PRF.
	ErrPRFProvider = errors.New("pkcs5: PRF provider failure")
)
