package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/scrypt"

	"tradegate/internal/logging"
)

// EnvManager reads prefixed environment variables, optionally decrypting
// values stored with an "ENC:" prefix. The encryption key comes from
// TRADEGATE_ENCRYPTION_KEY so secrets can live in otherwise world-readable
// deployment manifests.
type EnvManager struct {
	encryptionKey []byte
	prefix        string
}

// NewEnvManager creates an environment variable manager.
func NewEnvManager(encryptionKey string, prefix string) *EnvManager {
	if encryptionKey == "" {
		encryptionKey = os.Getenv("TRADEGATE_ENCRYPTION_KEY")
	}
	if prefix == "" {
		prefix = "TRADEGATE_"
	}

	key, _ := scrypt.Key([]byte(encryptionKey), []byte("tradegate-salt"), 32768, 8, 1, 32)

	return &EnvManager{
		encryptionKey: key,
		prefix:        prefix,
	}
}

// GetString gets a string environment variable.
func (em *EnvManager) GetString(key string, defaultValue string) string {
	value := os.Getenv(em.prefix + strings.ToUpper(key))
	if value == "" {
		return defaultValue
	}
	return value
}

// GetInt gets an integer environment variable.
func (em *EnvManager) GetInt(key string, defaultValue int) int {
	value := em.GetString(key, "")
	if value == "" {
		return defaultValue
	}
	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}
	return defaultValue
}

// GetBool gets a boolean environment variable.
func (em *EnvManager) GetBool(key string, defaultValue bool) bool {
	value := em.GetString(key, "")
	if value == "" {
		return defaultValue
	}
	if boolValue, err := strconv.ParseBool(value); err == nil {
		return boolValue
	}
	return defaultValue
}

// GetDuration gets a duration environment variable.
func (em *EnvManager) GetDuration(key string, defaultValue time.Duration) time.Duration {
	value := em.GetString(key, "")
	if value == "" {
		return defaultValue
	}
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}
	return defaultValue
}

// GetEncryptedString gets a string that may be stored encrypted. Plain
// values pass through unchanged.
func (em *EnvManager) GetEncryptedString(key string, defaultValue string) string {
	value := em.GetString(key, "")
	if value == "" {
		return defaultValue
	}
	if !strings.HasPrefix(value, "ENC:") {
		return value
	}

	decrypted, err := em.decrypt(strings.TrimPrefix(value, "ENC:"))
	if err != nil {
		logging.WithError(err).Warnf("Failed to decrypt %s, using default", key)
		return defaultValue
	}
	return decrypted
}

// EncryptValue encrypts a secret for storage as "ENC:<ciphertext>".
func (em *EnvManager) EncryptValue(plaintext string) (string, error) {
	encrypted, err := em.encrypt(plaintext)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt value: %w", err)
	}
	return "ENC:" + encrypted, nil
}

func (em *EnvManager) encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(em.encryptionKey)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.URLEncoding.EncodeToString(ciphertext), nil
}

func (em *EnvManager) decrypt(encryptedText string) (string, error) {
	ciphertext, err := base64.URLEncoding.DecodeString(encryptedText)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(em.encryptionKey)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
