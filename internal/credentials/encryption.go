// Package credentials loads per-venue API credentials from a JSON file,
// optionally protected by password-based encryption.
package credentials

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

// Key-derivation parameters. The salt is fixed so that a passphrase always
// derives the same key; the credential file is the only thing encrypted
// with it.
var kdfSalt = []byte{
	0xbf, 0xcc, 0x80, 0xfd, 0x76, 0xaf, 0x4a, 0x19,
	0xec, 0x4e, 0xbb, 0xd0, 0xb1, 0xd4, 0x67, 0x57,
}

const (
	kdfIterations = 100000
	kdfKeyLen     = 32

	envelopeVersion = 0x80
)

var (
	// ErrInvalidToken indicates a malformed or truncated ciphertext.
	ErrInvalidToken = errors.New("credentials: invalid token")
	// ErrInvalidSignature indicates a failed authenticity check, usually a
	// wrong passphrase.
	ErrInvalidSignature = errors.New("credentials: signature mismatch")
)

// KeyFromPassphrase derives the 32-byte envelope key from a passphrase
// using PBKDF2-HMAC-SHA256 and returns it urlsafe-base64 encoded.
func KeyFromPassphrase(passphrase string) []byte {
	key := pbkdf2.Key([]byte(passphrase), kdfSalt, kdfIterations, kdfKeyLen, sha256.New)
	encoded := make([]byte, base64.URLEncoding.EncodedLen(len(key)))
	base64.URLEncoding.Encode(encoded, key)
	return encoded
}

// splitKey decodes the base64 key into its signing and encryption halves.
func splitKey(encodedKey []byte) (signingKey, encryptionKey []byte, err error) {
	key := make([]byte, base64.URLEncoding.DecodedLen(len(encodedKey)))
	n, err := base64.URLEncoding.Decode(key, encodedKey)
	if err != nil {
		return nil, nil, fmt.Errorf("credentials: bad key encoding: %w", err)
	}
	if n != kdfKeyLen {
		return nil, nil, fmt.Errorf("credentials: key must be %d bytes, got %d", kdfKeyLen, n)
	}
	return key[:16], key[16:32], nil
}

// Encrypt seals plaintext into a versioned authenticated envelope
// (AES-128-CBC + HMAC-SHA256) and returns it urlsafe-base64 encoded.
func Encrypt(plaintext []byte, passphrase string) ([]byte, error) {
	signingKey, encryptionKey, err := splitKey(KeyFromPassphrase(passphrase))
	if err != nil {
		return nil, err
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("credentials: iv: %w", err)
	}
	return encryptWithParams(plaintext, signingKey, encryptionKey, iv, time.Now())
}

func encryptWithParams(plaintext, signingKey, encryptionKey, iv []byte, now time.Time) ([]byte, error) {
	block, err := aes.NewCipher(encryptionKey)
	if err != nil {
		return nil, err
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	token := make([]byte, 0, 1+8+len(iv)+len(ciphertext)+sha256.Size)
	token = append(token, envelopeVersion)
	token = binary.BigEndian.AppendUint64(token, uint64(now.Unix()))
	token = append(token, iv...)
	token = append(token, ciphertext...)

	mac := hmac.New(sha256.New, signingKey)
	mac.Write(token)
	token = mac.Sum(token)

	encoded := make([]byte, base64.URLEncoding.EncodedLen(len(token)))
	base64.URLEncoding.Encode(encoded, token)
	return encoded, nil
}

// Decrypt opens an envelope produced by Encrypt. Decryption is the inverse
// of encryption for any plaintext and passphrase.
func Decrypt(encoded []byte, passphrase string) ([]byte, error) {
	signingKey, encryptionKey, err := splitKey(KeyFromPassphrase(passphrase))
	if err != nil {
		return nil, err
	}

	token := make([]byte, base64.URLEncoding.DecodedLen(len(encoded)))
	n, err := base64.URLEncoding.Decode(token, bytes.TrimRight(encoded, "\n"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	token = token[:n]

	const overhead = 1 + 8 + aes.BlockSize + sha256.Size
	if len(token) < overhead || token[0] != envelopeVersion {
		return nil, ErrInvalidToken
	}

	body := token[:len(token)-sha256.Size]
	signature := token[len(token)-sha256.Size:]

	mac := hmac.New(sha256.New, signingKey)
	mac.Write(body)
	if subtle.ConstantTimeCompare(mac.Sum(nil), signature) != 1 {
		return nil, ErrInvalidSignature
	}

	iv := body[9 : 9+aes.BlockSize]
	ciphertext := body[9+aes.BlockSize:]
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, ErrInvalidToken
	}

	block, err := aes.NewCipher(encryptionKey)
	if err != nil {
		return nil, err
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	return pkcs7Unpad(plaintext, aes.BlockSize)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, ErrInvalidToken
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, ErrInvalidToken
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, ErrInvalidToken
		}
	}
	return data[:len(data)-padLen], nil
}
