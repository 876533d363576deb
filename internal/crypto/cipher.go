// Package crypto implements the Secret Cipher (§4.1): AES-GCM envelope
// encryption of JSON-serializable tenant secrets.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
)

// devKeyMaterial is the deterministic dev fallback key, used only when no
// master key is configured. Never used in production deployments.
const devKeyMaterial = "nexus-saas-dev-key"

// Blob is the wire representation of an encrypted payload.
type Blob struct {
	NonceB64      string `json:"nonce_b64"`
	CiphertextB64 string `json:"ciphertext_b64"`
}

// SecretCipher performs AES-GCM envelope encryption over JSON payloads.
// KeyVersion is a label on the cipher that callers store next to each blob
// (Blob itself holds only nonce and ciphertext); Decrypt always uses the one
// configured key, whatever label a blob was stored with.
type SecretCipher struct {
	key        []byte
	KeyVersion string
}

// New creates a SecretCipher. masterKeyB64 is a base64-encoded 16/24/32-byte
// AES key. If empty, a deterministic dev key is used and KeyVersion is
// "dev-v1" instead of "v1".
func New(masterKeyB64 string) (*SecretCipher, error) {
	var key []byte
	var version string

	if masterKeyB64 != "" {
		decoded, err := base64.StdEncoding.DecodeString(masterKeyB64)
		if err != nil {
			return nil, fmt.Errorf("decoding SECRETS_MASTER_KEY_B64: %w", err)
		}
		key = decoded
		version = "v1"
	} else {
		sum := sha256.Sum256([]byte(devKeyMaterial))
		key = sum[:]
		version = "dev-v1"
	}

	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("key_invalid: master key must decode to 16/24/32 bytes, got %d", len(key))
	}

	return &SecretCipher{key: key, KeyVersion: version}, nil
}

// Encrypt serializes obj to JSON and seals it under a fresh random nonce.
func (c *SecretCipher) Encrypt(obj any) (*Blob, error) {
	plaintext, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("marshaling payload: %w", err)
	}

	gcm, err := c.aead()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)
	return &Blob{
		NonceB64:      base64.StdEncoding.EncodeToString(nonce),
		CiphertextB64: base64.StdEncoding.EncodeToString(ciphertext),
	}, nil
}

// Decrypt inverts Encrypt, unmarshaling the recovered plaintext into out.
func (c *SecretCipher) Decrypt(blob *Blob, out any) error {
	gcm, err := c.aead()
	if err != nil {
		return err
	}

	nonce, err := base64.StdEncoding.DecodeString(blob.NonceB64)
	if err != nil {
		return fmt.Errorf("decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(blob.CiphertextB64)
	if err != nil {
		return fmt.Errorf("decoding ciphertext: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return fmt.Errorf("decrypting blob: %w", err)
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(plaintext, out)
}

func (c *SecretCipher) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return gcm, nil
}
