package pki

import "errors"

// ---------------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------------

var (
	// ErrNotFound is returned when a certificate or key file expected on disk
	// is absent.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned by create operations on an occupied path.
	ErrAlreadyExists = errors.New("already exists")

	// ErrNotAuthorized is returned when a node that is not a CA is asked to
	// sign.
	ErrNotAuthorized = errors.New("not a certificate authority")

	// ErrTrustViolation is returned when a certificate in a CA directory names
	// a different issuer key.
	ErrTrustViolation = errors.New("trust violation")

	// ErrStorageInconsistency is returned when files on disk disagree with
	// each other, e.g. a certificate without its key.
	ErrStorageInconsistency = errors.New("storage inconsistency")

	// ErrDecryption is returned when a key file fails authentication. Either
	// the process key is wrong or the file was tampered with or moved.
	ErrDecryption = errors.New("key decryption failed")

	// ErrInvalidPEM is returned when PEM data cannot be decoded or parsed.
	ErrInvalidPEM = errors.New("invalid PEM data")

	// ErrInvalidName is returned for child names that cannot be used as file
	// names in a CA directory.
	ErrInvalidName = errors.New("invalid certificate name")
)
