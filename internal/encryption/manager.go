package encryption

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"go.uber.org/zap"

	"github.com/franckdigital/xamila-backend-sub001/internal/config"
	"github.com/franckdigital/xamila-backend-sub001/internal/util"
)

var (
	ErrEncryptionFailed = errors.New("encryption failed")
	ErrDecryptionFailed = errors.New("decryption failed")
	ErrMissingKey       = errors.New("field encryption key not configured")
)

const (
	envelopeVersion = "v1"
	localKeyID      = "local"
)

// FieldCipher protects individual column values and derives a
// deterministic blind index for the ones that need equality lookups.
type FieldCipher interface {
	Encrypt(ctx context.Context, plaintext string) (string, error)
	Decrypt(ctx context.Context, sealed string) (string, error)
	BlindIndex(value string) string
}

// KMSAPI is the subset of the KMS client the manager calls.
type KMSAPI interface {
	GenerateDataKey(ctx context.Context, in *kms.GenerateDataKeyInput, optFns ...func(*kms.Options)) (*kms.GenerateDataKeyOutput, error)
	Decrypt(ctx context.Context, in *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// EncryptedData is the envelope persisted for a sealed value.
type EncryptedData struct {
	EncryptedValue string    `json:"v"`
	EncryptedDEK   string    `json:"k"`
	KeyID          string    `json:"kid"`
	Version        string    `json:"ver"`
	CreatedAt      time.Time `json:"at"`
}

type DataKey struct {
	Plaintext  []byte
	Ciphertext []byte
	KeyID      string
}

// EncryptionManager implements envelope encryption: every value gets its
// own data key, wrapped either by KMS or by the local master key.
type EncryptionManager struct {
	kmsClient KMSAPI
	kmsKeyID  string
	masterKey []byte
	indexKey  []byte
	keyCache  sync.Map
}

var _ FieldCipher = (*EncryptionManager)(nil)

// NewEncryptionManager requires kmsClient when cfg.Enabled. Without KMS,
// cfg.LocalKey must hold a base64 32-byte key; outside production a random
// one is generated so development runs do not need key material.
func NewEncryptionManager(cfg config.KMSConfig, kmsClient KMSAPI, production bool) (*EncryptionManager, error) {
	em := &EncryptionManager{kmsClient: kmsClient, kmsKeyID: cfg.KeyID}

	if cfg.Enabled {
		if kmsClient == nil || cfg.KeyID == "" {
			return nil, fmt.Errorf("%w: KMS enabled without client or key id", ErrMissingKey)
		}
	} else {
		key, err := decodeKey(cfg.LocalKey)
		switch {
		case err == nil:
			em.masterKey = key
		case cfg.LocalKey == "" && !production:
			em.masterKey = randomKey()
			util.Warn("FIELD_ENCRYPTION_KEY not set, using an ephemeral key")
		default:
			return nil, err
		}
	}

	if cfg.IndexKey != "" {
		em.indexKey = []byte(cfg.IndexKey)
	} else if production {
		return nil, fmt.Errorf("%w: FIELD_INDEX_KEY", ErrMissingKey)
	} else {
		em.indexKey = []byte("development-blind-index-key")
	}
	return em, nil
}

func decodeKey(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, fmt.Errorf("%w: FIELD_ENCRYPTION_KEY", ErrMissingKey)
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(key) != 32 {
		return nil, fmt.Errorf("%w: FIELD_ENCRYPTION_KEY must be 32 bytes base64", ErrMissingKey)
	}
	return key, nil
}

func randomKey() []byte {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		util.Fatal("Failed to generate local encryption key", zap.Error(err))
	}
	return key
}

// GenerateDataKey returns a fresh AES-256 data key and its wrapped form.
func (em *EncryptionManager) GenerateDataKey(ctx context.Context) (*DataKey, error) {
	if em.kmsClient == nil {
		dek := randomKey()
		wrapped, err := seal(em.masterKey, dek)
		if err != nil {
			return nil, err
		}
		return &DataKey{Plaintext: dek, Ciphertext: wrapped, KeyID: localKeyID}, nil
	}

	result, err := em.kmsClient.GenerateDataKey(ctx, &kms.GenerateDataKeyInput{
		KeyId:   aws.String(em.kmsKeyID),
		KeySpec: types.DataKeySpecAes256,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate data key: %w", err)
	}
	return &DataKey{
		Plaintext:  result.Plaintext,
		Ciphertext: result.CiphertextBlob,
		KeyID:      em.kmsKeyID,
	}, nil
}

// Encrypt seals plaintext and returns the JSON envelope.
func (em *EncryptionManager) Encrypt(ctx context.Context, plaintext string) (string, error) {
	dataKey, err := em.GenerateDataKey(ctx)
	if err != nil {
		return "", err
	}

	ciphertext, err := seal(dataKey.Plaintext, []byte(plaintext))
	if err != nil {
		return "", err
	}

	wrapped := base64.StdEncoding.EncodeToString(dataKey.Ciphertext)
	em.keyCache.Store(wrapped, dataKey.Plaintext)

	out, err := json.Marshal(EncryptedData{
		EncryptedValue: base64.StdEncoding.EncodeToString(ciphertext),
		EncryptedDEK:   wrapped,
		KeyID:          dataKey.KeyID,
		Version:        envelopeVersion,
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	return string(out), nil
}

// Decrypt opens an envelope produced by Encrypt.
func (em *EncryptionManager) Decrypt(ctx context.Context, sealed string) (string, error) {
	var data EncryptedData
	if err := json.Unmarshal([]byte(sealed), &data); err != nil {
		return "", fmt.Errorf("%w: invalid envelope", ErrDecryptionFailed)
	}
	if data.Version != envelopeVersion {
		return "", fmt.Errorf("%w: unsupported version %q", ErrDecryptionFailed, data.Version)
	}

	dek, err := em.unwrapKey(ctx, &data)
	if err != nil {
		return "", err
	}

	ciphertext, err := base64.StdEncoding.DecodeString(data.EncryptedValue)
	if err != nil {
		return "", fmt.Errorf("%w: invalid ciphertext format", ErrDecryptionFailed)
	}
	plaintext, err := open(dek, ciphertext)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func (em *EncryptionManager) unwrapKey(ctx context.Context, data *EncryptedData) ([]byte, error) {
	if cached, ok := em.keyCache.Load(data.EncryptedDEK); ok {
		return cached.([]byte), nil
	}

	blob, err := base64.StdEncoding.DecodeString(data.EncryptedDEK)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid DEK format", ErrDecryptionFailed)
	}

	var dek []byte
	if data.KeyID == localKeyID {
		if em.masterKey == nil {
			return nil, fmt.Errorf("%w: local key unavailable", ErrDecryptionFailed)
		}
		if dek, err = open(em.masterKey, blob); err != nil {
			return nil, err
		}
	} else {
		if em.kmsClient == nil {
			return nil, fmt.Errorf("%w: KMS unavailable", ErrDecryptionFailed)
		}
		result, err := em.kmsClient.Decrypt(ctx, &kms.DecryptInput{CiphertextBlob: blob})
		if err != nil {
			return nil, fmt.Errorf("%w: failed to decrypt DEK: %v", ErrDecryptionFailed, err)
		}
		dek = result.Plaintext
	}

	em.keyCache.Store(data.EncryptedDEK, dek)
	return dek, nil
}

// BlindIndex is a keyed HMAC of the normalised value, stable across
// encryptions so it can back a unique index.
func (em *EncryptionManager) BlindIndex(value string) string {
	mac := hmac.New(sha256.New, em.indexKey)
	mac.Write([]byte(strings.ToUpper(strings.TrimSpace(value))))
	return hex.EncodeToString(mac.Sum(nil))
}

func (em *EncryptionManager) ClearCache() {
	em.keyCache.Range(func(key, _ any) bool {
		em.keyCache.Delete(key)
		return true
	})
}

func (em *EncryptionManager) CacheSize() int {
	count := 0
	em.keyCache.Range(func(_, _ any) bool {
		count++
		return true
	})
	return count
}

func seal(key, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func open(key, ciphertext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}
	nonce, body := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
