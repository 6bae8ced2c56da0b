package accountpool

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/scrypt"
)

const accountSalt = "antigravity-account-pool"

// Crypto handles AES-256-CBC token-at-rest encryption with an scrypt-derived
// key, matching the node-compatible format "{iv_hex}:{ciphertext_hex}" the
// teacher's account store produces.
type Crypto struct {
	encryptionKey string

	mu      sync.RWMutex
	derived []byte
}

func NewCrypto(encryptionKey string) *Crypto {
	return &Crypto{encryptionKey: encryptionKey}
}

func (c *Crypto) key() ([]byte, error) {
	c.mu.RLock()
	if c.derived != nil {
		defer c.mu.RUnlock()
		return c.derived, nil
	}
	c.mu.RUnlock()

	key, err := scrypt.Key([]byte(c.encryptionKey), []byte(accountSalt), 32768, 8, 1, 32)
	if err != nil {
		return nil, fmt.Errorf("scrypt derive: %w", err)
	}
	c.mu.Lock()
	c.derived = key
	c.mu.Unlock()
	return key, nil
}

func (c *Crypto) Encrypt(plaintext string) (string, error) {
	key, err := c.key()
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("aes cipher: %w", err)
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("rand iv: %w", err)
	}
	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)
	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(ciphertext), nil
}

func (c *Crypto) Decrypt(encrypted string) (string, error) {
	key, err := c.key()
	if err != nil {
		return "", err
	}
	parts := strings.SplitN(encrypted, ":", 2)
	if len(parts) != 2 {
		return "", errors.New("invalid encrypted format: missing ':'")
	}
	iv, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("decode iv: %w", err)
	}
	if len(iv) != aes.BlockSize {
		return "", fmt.Errorf("invalid iv length: %d", len(iv))
	}
	ciphertext, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	if len(ciphertext)%aes.BlockSize != 0 {
		return "", fmt.Errorf("ciphertext not block-aligned: %d", len(ciphertext))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("aes cipher: %w", err)
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)
	unpadded, err := pkcs7Unpad(plaintext, aes.BlockSize)
	if err != nil {
		return "", fmt.Errorf("unpad: %w", err)
	}
	return string(unpadded), nil
}

// HashID derives a stable account ID from a plaintext refresh token, used
// as the lookup key for sticky state (sessions, refresh locks) without
// persisting the refresh token itself in plaintext anywhere.
func (c *Crypto) HashID(refreshToken string) string {
	h := sha256.Sum256([]byte(refreshToken + c.encryptionKey))
	return hex.EncodeToString(h[:16])
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	pad := make([]byte, padding)
	for i := range pad {
		pad[i] = byte(padding)
	}
	return append(data, pad...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("empty data")
	}
	padding := int(data[len(data)-1])
	if padding == 0 || padding > blockSize || padding > len(data) {
		return nil, fmt.Errorf("invalid padding: %d", padding)
	}
	for i := len(data) - padding; i < len(data); i++ {
		if data[i] != byte(padding) {
			return nil, errors.New("invalid padding bytes")
		}
	}
	return data[:len(data)-padding], nil
}
