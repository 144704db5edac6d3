package encryption

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/kms"

	"github.com/franckdigital/xamila-backend-sub001/internal/config"
)

func localConfig(t *testing.T) config.KMSConfig {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatal(err)
	}
	return config.KMSConfig{LocalKey: base64.StdEncoding.EncodeToString(key), IndexKey: "index"}
}

func TestEncryptDecryptLocalKey(t *testing.T) {
	em, err := NewEncryptionManager(localConfig(t), nil, true)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	ctx := context.Background()

	sealed, err := em.Encrypt(ctx, "AB1234567")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	em.ClearCache()

	got, err := em.Decrypt(ctx, sealed)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if got != "AB1234567" {
		t.Fatalf("expected AB1234567, got %q", got)
	}
	if em.CacheSize() != 1 {
		t.Fatalf("expected unwrapped key cached, got %d", em.CacheSize())
	}
}

func TestEncryptIsRandomised(t *testing.T) {
	em, _ := NewEncryptionManager(localConfig(t), nil, true)
	a, _ := em.Encrypt(context.Background(), "same")
	b, _ := em.Encrypt(context.Background(), "same")
	if a == b {
		t.Fatal("expected distinct envelopes for the same plaintext")
	}
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	em, _ := NewEncryptionManager(localConfig(t), nil, true)
	sealed, _ := em.Encrypt(context.Background(), "secret")

	other, _ := NewEncryptionManager(localConfig(t), nil, true)
	if _, err := other.Decrypt(context.Background(), sealed); !errors.Is(err, ErrDecryptionFailed) {
		t.Fatalf("expected ErrDecryptionFailed, got %v", err)
	}
}

func TestBlindIndexNormalises(t *testing.T) {
	em, _ := NewEncryptionManager(localConfig(t), nil, true)
	if em.BlindIndex(" ab123 ") != em.BlindIndex("AB123") {
		t.Fatal("expected blind index to ignore case and surrounding space")
	}
	if em.BlindIndex("AB123") == em.BlindIndex("AB124") {
		t.Fatal("expected different values to index differently")
	}
}

func TestProductionRequiresKeys(t *testing.T) {
	if _, err := NewEncryptionManager(config.KMSConfig{IndexKey: "x"}, nil, true); !errors.Is(err, ErrMissingKey) {
		t.Fatalf("expected ErrMissingKey for local key, got %v", err)
	}
	cfg := localConfig(t)
	cfg.IndexKey = ""
	if _, err := NewEncryptionManager(cfg, nil, true); !errors.Is(err, ErrMissingKey) {
		t.Fatalf("expected ErrMissingKey for index key, got %v", err)
	}
	if _, err := NewEncryptionManager(config.KMSConfig{}, nil, false); err != nil {
		t.Fatalf("expected development fallback, got %v", err)
	}
}

type fakeKMS struct {
	generated int
	decrypted int
}

func (f *fakeKMS) GenerateDataKey(ctx context.Context, in *kms.GenerateDataKeyInput, _ ...func(*kms.Options)) (*kms.GenerateDataKeyOutput, error) {
	f.generated++
	key := make([]byte, 32)
	key[0] = byte(f.generated)
	return &kms.GenerateDataKeyOutput{Plaintext: key, CiphertextBlob: append([]byte("wrapped:"), key...)}, nil
}

func (f *fakeKMS) Decrypt(ctx context.Context, in *kms.DecryptInput, _ ...func(*kms.Options)) (*kms.DecryptOutput, error) {
	f.decrypted++
	return &kms.DecryptOutput{Plaintext: in.CiphertextBlob[len("wrapped:"):]}, nil
}

func TestEncryptWithKMS(t *testing.T) {
	fake := &fakeKMS{}
	em, err := NewEncryptionManager(config.KMSConfig{Enabled: true, KeyID: "arn:key", IndexKey: "i"}, fake, true)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	ctx := context.Background()
	sealed, err := em.Encrypt(ctx, "P0001")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	em.ClearCache()
	got, err := em.Decrypt(ctx, sealed)
	if err != nil || got != "P0001" {
		t.Fatalf("expected P0001, got %q %v", got, err)
	}
	if fake.generated != 1 || fake.decrypted != 1 {
		t.Fatalf("expected one generate and one decrypt, got %d %d", fake.generated, fake.decrypted)
	}
}
