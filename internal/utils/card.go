package utils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/Dan9191/bank-cards/internal/sentinel"
)

// CardKeySize is the AES-128 key length in bytes
const CardKeySize = 16

const maskPrefix = "**** **** **** "

// CardCipher encrypts, decrypts and masks card numbers with AES-GCM
type CardCipher struct {
	aead       cipher.AEAD
	hmacSecret []byte
}

// NewCardCipher builds a cipher from a 16-byte key. hmacSecret keys the
// number fingerprints and may be empty only in tests.
func NewCardCipher(key, hmacSecret string) (*CardCipher, error) {
	if key == "" {
		return nil, fmt.Errorf("encryption key is not provided")
	}
	if len(key) != CardKeySize {
		return nil, fmt.Errorf("encryption key must be exactly %d bytes for AES-128, got %d", CardKeySize, len(key))
	}

	block, err := aes.NewCipher([]byte(key))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &CardCipher{aead: aead, hmacSecret: []byte(hmacSecret)}, nil
}

// Encrypt seals data under a fresh random nonce; output is
// base64(nonce || ciphertext || tag).
func (c *CardCipher) Encrypt(data string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("input data is empty: %w", sentinel.ErrInvalidInput)
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %v: %w", err, sentinel.ErrEncryption)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(data), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Corrupt input, a wrong key or a tampered tag
// all fail with ErrEncryption.
func (c *CardCipher) Decrypt(encryptedData string) (string, error) {
	if len(encryptedData) == 0 {
		return "", fmt.Errorf("encrypted data is empty: %w", sentinel.ErrEncryption)
	}

	data, err := base64.StdEncoding.DecodeString(encryptedData)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64: %v: %w", err, sentinel.ErrEncryption)
	}

	nonceSize := c.aead.NonceSize()
	if len(data) < nonceSize+c.aead.Overhead() {
		return "", fmt.Errorf("encrypted data too short: %d bytes: %w", len(data), sentinel.ErrEncryption)
	}

	plaintext, err := c.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("failed to open ciphertext: %v: %w", err, sentinel.ErrEncryption)
	}
	return string(plaintext), nil
}

// Mask decrypts a card number and hides all but its last four characters
func (c *CardCipher) Mask(encryptedData string) (string, error) {
	number, err := c.Decrypt(encryptedData)
	if err != nil {
		return "", err
	}
	if len(number) < 4 {
		return "", fmt.Errorf("card number too short to mask: length %d: %w", len(number), sentinel.ErrInvalidInput)
	}
	return maskPrefix + number[len(number)-4:], nil
}

// Fingerprint returns a keyed hash of a plaintext number. Ciphertexts are
// randomized, so uniqueness is enforced on this value instead.
func (c *CardCipher) Fingerprint(number string) string {
	return GenerateHMAC(number, c.hmacSecret)
}

// GenerateHMAC generates a hex HMAC-SHA256 of data
func GenerateHMAC(data string, secret []byte) string {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

// GenerateCardNumber generates a card number with the specified prefix and length
func GenerateCardNumber(prefix string, length int) (string, error) {
	if length < len(prefix) || length > 19 {
		return "", fmt.Errorf("invalid card number length: %d", length)
	}

	digits := make([]byte, length-len(prefix))
	if _, err := rand.Read(digits); err != nil {
		return "", fmt.Errorf("failed to generate random digits: %w", err)
	}

	var builder strings.Builder
	builder.WriteString(prefix)
	for _, b := range digits {
		builder.WriteByte(b%10 + '0')
	}
	return builder.String(), nil
}

// ValidateCardNumber checks that number is 13 to 19 ASCII digits
func ValidateCardNumber(number string) error {
	if len(number) < 13 || len(number) > 19 {
		return fmt.Errorf("card number must be 13-19 digits, got %d: %w", len(number), sentinel.ErrInvalidInput)
	}
	for i := 0; i < len(number); i++ {
		if number[i] < '0' || number[i] > '9' {
			return fmt.Errorf("card number must contain digits only: %w", sentinel.ErrInvalidInput)
		}
	}
	return nil
}

// DefaultExpiration returns the expiry date of a card issued at now.
// Cards are valid for 3 years.
func DefaultExpiration(now time.Time) time.Time {
	y, m, d := now.UTC().AddDate(3, 0, 0).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
