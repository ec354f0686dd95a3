package client

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingDecryptionKey is returned when the engine sends an encrypted
	// payload and no decryption key is configured.
	ErrMissingDecryptionKey = errors.New("encrypted payload received but no decryption key configured")

	// ErrDecryption is returned when an encrypted payload cannot be decrypted.
	ErrDecryption = errors.New("failed to decrypt payload")
)

// decryptPayload decrypts a GrowthBook encrypted payload of the form
// "<base64 iv>.<base64 ciphertext>" with AES-CBC and PKCS#7 padding.
func decryptPayload(encrypted, keyB64 string) ([]byte, error) {
	if keyB64 == "" {
		return nil, ErrMissingDecryptionKey
	}

	ivB64, ctB64, ok := strings.Cut(encrypted, ".")
	if !ok {
		return nil, fmt.Errorf("%w: malformed payload", ErrDecryption)
	}
	key, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid key encoding", ErrDecryption)
	}
	iv, err := base64.StdEncoding.DecodeString(ivB64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid iv encoding", ErrDecryption)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(ctB64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid ciphertext encoding", ErrDecryption)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("%w: iv must be %d bytes", ErrDecryption, aes.BlockSize)
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext is not a multiple of the block size", ErrDecryption)
	}

	plain := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ciphertext)

	return unpad(plain)
}

func unpad(b []byte) ([]byte, error) {
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, fmt.Errorf("%w: bad padding", ErrDecryption)
	}
	if !bytes.Equal(b[len(b)-n:], bytes.Repeat([]byte{byte(n)}, n)) {
		return nil, fmt.Errorf("%w: bad padding", ErrDecryption)
	}
	return b[:len(b)-n], nil
}
