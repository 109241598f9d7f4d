package security

import (
	"bytes"
	"context"
	"testing"
)

func TestAppKeySecretProvider_EncryptDecryptRoundTrip(t *testing.T) {
	provider, err := NewAppKeySecretProviderFromString("super-secret-test-key", WithKeyID("integrations"), WithVersion(3))
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	plaintext := []byte("token-value-123")
	encrypted, err := provider.Encrypt(context.Background(), plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if bytes.Contains(encrypted, plaintext) {
		t.Fatalf("expected encrypted payload to hide plaintext")
	}
	if !bytes.HasPrefix(encrypted, []byte(envelopePrefix)) {
		t.Fatalf("expected envelope prefix")
	}

	decrypted, err := provider.Decrypt(context.Background(), encrypted)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Fatalf("expected roundtrip plaintext; got %q", string(decrypted))
	}

	meta, err := ParseEnvelopeMetadata(encrypted)
	if err != nil {
		t.Fatalf("parse metadata: %v", err)
	}
	if meta.KeyID != "integrations" || meta.Version != 3 || meta.Algorithm != envelopeAlgorithm {
		t.Fatalf("unexpected metadata %+v", meta)
	}
}

func TestAppKeySecretProvider_RejectsUnknownKey(t *testing.T) {
	issuer, err := NewAppKeySecretProviderFromString("super-secret-test-key", WithKeyID("k1"), WithVersion(1))
	if err != nil {
		t.Fatalf("new issuer provider: %v", err)
	}
	receiver, err := NewAppKeySecretProviderFromString("super-secret-test-key", WithKeyID("k2"), WithVersion(2))
	if err != nil {
		t.Fatalf("new receiver provider: %v", err)
	}

	encrypted, err := issuer.Encrypt(context.Background(), []byte("payload"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := receiver.Decrypt(context.Background(), encrypted); err == nil {
		t.Fatalf("expected unknown key error")
	}
}

func TestAppKeySecretProvider_DecryptsWithRetiredKey(t *testing.T) {
	ctx := context.Background()
	old, err := NewAppKeySecretProviderFromString("old-key", WithKeyID("app"), WithVersion(1))
	if err != nil {
		t.Fatalf("new old provider: %v", err)
	}
	sealed, err := old.Encrypt(ctx, []byte("refresh-token"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	rotated, err := NewAppKeySecretProviderFromString("new-key",
		WithKeyID("app"),
		WithVersion(2),
		WithRetiredKey([]byte("old-key"), "app", 1),
	)
	if err != nil {
		t.Fatalf("new rotated provider: %v", err)
	}
	plaintext, err := rotated.Decrypt(ctx, sealed)
	if err != nil {
		t.Fatalf("decrypt with retired key: %v", err)
	}
	if string(plaintext) != "refresh-token" {
		t.Fatalf("unexpected plaintext %q", plaintext)
	}
	if !rotated.NeedsRotation(sealed) {
		t.Fatalf("expected retired ciphertext to need rotation")
	}
	fresh, _ := rotated.Encrypt(ctx, plaintext)
	if rotated.NeedsRotation(fresh) {
		t.Fatalf("expected fresh ciphertext to be current")
	}
}

func TestAppKeySecretProvider_TamperedCiphertextFails(t *testing.T) {
	provider, err := NewAppKeySecretProviderFromString("key")
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	if _, err := provider.Decrypt(context.Background(), []byte("plain-token")); err == nil {
		t.Fatalf("expected missing prefix error")
	}
	if _, err := provider.Decrypt(context.Background(), []byte(envelopePrefix+`{"kid":"app-key","ver":1,"nonce":"AAAA","ciphertext":"AAAA"}`)); err == nil {
		t.Fatalf("expected tampered payload to fail")
	}
}

func TestNewAppKeySecretProvider_Validation(t *testing.T) {
	if _, err := NewAppKeySecretProvider(nil); err == nil {
		t.Fatalf("expected empty key material error")
	}
	if _, err := NewAppKeySecretProviderFromString("k", WithRetiredKey([]byte("k"), "app-key", 1)); err == nil {
		t.Fatalf("expected retired key collision error")
	}
}
