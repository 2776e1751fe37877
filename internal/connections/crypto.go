package connections

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"strings"
)

const encryptedPrefix = "enc:"

type aesGcmEncryptor struct {
	key []byte
}

// newAesGcmEncryptor accepts a 32 byte key given either verbatim or base64
// encoded. An empty key disables encryption and returns nil.
func newAesGcmEncryptor(key string) (*aesGcmEncryptor, error) {
	if key == "" {
		return nil, nil
	}
	raw := []byte(key)
	if len(raw) != 32 {
		decoded, err := base64.StdEncoding.DecodeString(key)
		if err != nil || len(decoded) != 32 {
			return nil, ErrBadKey
		}
		raw = decoded
	}
	return &aesGcmEncryptor{key: raw}, nil
}

func (e *aesGcmEncryptor) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func (e *aesGcmEncryptor) Encrypt(plain string) (string, error) {
	gcm, err := e.gcm()
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plain), nil)
	return encryptedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens values written by Encrypt. Values without the prefix are
// returned unchanged so plain registries stay readable.
func (e *aesGcmEncryptor) Decrypt(value string) (string, error) {
	if !strings.HasPrefix(value, encryptedPrefix) {
		return value, nil
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, encryptedPrefix))
	if err != nil {
		return "", err
	}
	gcm, err := e.gcm()
	if err != nil {
		return "", err
	}
	if len(data) < gcm.NonceSize() {
		return "", errors.New("ciphertext too short")
	}
	nonce := data[:gcm.NonceSize()]
	enc := data[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, enc, nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
