package e2ee

import "errors"

var (
	ErrDecryptionFailed = errors.New("e2ee: message authentication failed")
	ErrNoCandidateKey   = errors.New("e2ee: no candidate key decrypted the message")
	ErrMissingNonce     = errors.New("e2ee: ciphertext carries no nonce")
	ErrInvalidKey       = errors.New("e2ee: invalid key material")
)
