package decoder

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"errors"
	"fmt"
)

// Encrypted frame header layout
const (
	NonceOffset        = 7
	KeyMatchOffset     = 9
	EncryptedHeaderLen = 10
	KeyHexLen          = 32
)

var (
	ErrInvalidKey    = errors.New("invalid encryption key")
	ErrFrameTooShort = errors.New("frame too short")
)

// Decrypted is the plaintext payload of an encrypted advertisement
type Decrypted struct {
	Payload  []byte
	KeyMatch bool // frame key-match byte equals the first key byte
	Nonce    uint16
}

// ParseKey converts a 32 character hex string into an AES-128 key
func ParseKey(hexKey string) ([]byte, error) {
	if len(hexKey) != KeyHexLen {
		return nil, fmt.Errorf("%w: expected %d hex characters, got %d", ErrInvalidKey, KeyHexLen, len(hexKey))
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return key, nil
}

// Decrypt runs AES-128-CTR over the payload that follows the encrypted header.
// The counter block starts with the two nonce bytes of the frame, the rest is zero.
// A key-match mismatch does not fail decryption; it is reported in KeyMatch.
func Decrypt(frame []byte, hexKey string) (*Decrypted, error) {
	key, err := ParseKey(hexKey)
	if err != nil {
		return nil, err
	}

	if len(frame) < EncryptedHeaderLen {
		return nil, fmt.Errorf("%w: expected at least %d bytes, got %d", ErrFrameTooShort, EncryptedHeaderLen, len(frame))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	var counter [aes.BlockSize]byte
	counter[0] = frame[NonceOffset]
	counter[1] = frame[NonceOffset+1]

	ciphertext := frame[EncryptedHeaderLen:]
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCTR(block, counter[:]).XORKeyStream(plaintext, ciphertext)

	return &Decrypted{
		Payload:  plaintext,
		KeyMatch: frame[KeyMatchOffset] == key[0],
		Nonce:    Unsigned16(frame, NonceOffset),
	}, nil
}
