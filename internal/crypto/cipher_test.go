package crypto

import (
	"encoding/base64"
	"testing"
)

type secretPayload struct {
	BridgeSharedSecret     string `json:"bridge_shared_secret"`
	AssistantDefaultsVer   string `json:"assistant_defaults_version"`
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	in := secretPayload{BridgeSharedSecret: "s3cr3t-value", AssistantDefaultsVer: "2024-01-01"}
	blob, err := c.Encrypt(in)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	var out secretPayload
	if err := c.Decrypt(blob, &out); err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if out != in {
		t.Fatalf("got %+v, want %+v", out, in)
	}
}

func TestDevFallbackKeyVersion(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.KeyVersion != "dev-v1" {
		t.Fatalf("got KeyVersion=%q, want dev-v1", c.KeyVersion)
	}
}

func TestConfiguredKeyVersion(t *testing.T) {
	key := make([]byte, 32)
	c, err := New(base64.StdEncoding.EncodeToString(key))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.KeyVersion != "v1" {
		t.Fatalf("got KeyVersion=%q, want v1", c.KeyVersion)
	}
}

func TestInvalidKeyLength(t *testing.T) {
	key := make([]byte, 10)
	_, err := New(base64.StdEncoding.EncodeToString(key))
	if err == nil {
		t.Fatalf("expected error for invalid key length")
	}
}

func TestDecryptTamperedCiphertextFails(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	blob, err := c.Encrypt(map[string]string{"a": "b"})
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	raw, _ := base64.StdEncoding.DecodeString(blob.CiphertextB64)
	raw[0] ^= 0xFF
	blob.CiphertextB64 = base64.StdEncoding.EncodeToString(raw)

	var out map[string]string
	if err := c.Decrypt(blob, &out); err == nil {
		t.Fatalf("expected decrypt error on tampered ciphertext")
	}
}
