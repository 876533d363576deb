package orchestrator

import (
	"context"
	"fmt"

	"github.com/nexusruntime/nexus/internal/crypto"
)

func (s *Service) readSecret(ctx context.Context, tenantID string) (tenantSecretPayload, error) {
	row, err := s.q.GetTenantSecret(ctx, tenantID)
	if err != nil {
		return tenantSecretPayload{}, err
	}
	var payload tenantSecretPayload
	blob := &crypto.Blob{NonceB64: row.NonceB64, CiphertextB64: row.CiphertextB64}
	if err := s.cipher.Decrypt(blob, &payload); err != nil {
		return tenantSecretPayload{}, fmt.Errorf("decrypting tenant secret: %w", err)
	}
	return payload, nil
}

func (s *Service) writeSecret(ctx context.Context, tenantID string, payload tenantSecretPayload) error {
	blob, err := s.cipher.Encrypt(payload)
	if err != nil {
		return fmt.Errorf("encrypting tenant secret: %w", err)
	}
	_, err = s.q.UpsertTenantSecret(ctx, tenantID, blob.NonceB64, blob.CiphertextB64, s.cipher.KeyVersion)
	return err
}
