package hashing

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
)

var (
	ErrInvalidHash         = errors.New("invalid hash format")
	ErrIncompatibleVersion = errors.New("incompatible argon2 version")
	ErrUnknownPepper       = errors.New("pepper version not found")
)

const algorithm = "argon2id"

type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultParams follows the OWASP argon2id baseline.
func DefaultParams() Argon2Params {
	return Argon2Params{
		Memory:      64 * 1024,
		Iterations:  3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

type Pepper struct {
	Value   string
	Version int
}

// Hasher hashes passwords with argon2id and a versioned pepper. Hashes
// record their parameters and pepper version so old hashes keep verifying
// after either changes.
type Hasher struct {
	params        Argon2Params
	currentPepper *Pepper
	peppers       map[int]*Pepper
	mu            sync.RWMutex
}

// NewHasher takes peppers oldest first; the last one signs new hashes.
// Pepper versions are their 1-based positions.
func NewHasher(params Argon2Params, peppers []string) *Hasher {
	h := &Hasher{
		params:  params,
		peppers: make(map[int]*Pepper),
	}
	for i, value := range peppers {
		h.addPepper(&Pepper{Value: value, Version: i + 1})
	}
	if h.currentPepper == nil {
		h.addPepper(&Pepper{Value: "", Version: 0})
	}
	return h
}

func (h *Hasher) addPepper(p *Pepper) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.peppers[p.Version] = p
	h.currentPepper = p
}

// RotatePepper installs a new signing pepper, keeping older ones for
// verification.
func (h *Hasher) RotatePepper(value string) int {
	h.mu.RLock()
	next := h.currentPepper.Version + 1
	h.mu.RUnlock()
	h.addPepper(&Pepper{Value: value, Version: next})
	return next
}

// HashPassword returns an encoded hash:
// $argon2id$v=19$m=65536,t=3,p=2,pv=1$<salt>$<key>
func (h *Hasher) HashPassword(password string) (string, error) {
	h.mu.RLock()
	pepper := h.currentPepper
	h.mu.RUnlock()

	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	key := argon2.IDKey(
		[]byte(password+pepper.Value),
		salt,
		h.params.Iterations,
		h.params.Memory,
		h.params.Parallelism,
		h.params.KeyLength,
	)

	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d,pv=%d$%s$%s",
		algorithm,
		argon2.Version,
		h.params.Memory,
		h.params.Iterations,
		h.params.Parallelism,
		pepper.Version,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// VerifyPassword recomputes the key with the parameters stored in encoded
// and compares in constant time.
func (h *Hasher) VerifyPassword(password, encoded string) (bool, error) {
	d, err := decodeHash(encoded)
	if err != nil {
		return false, err
	}

	pepper, err := h.getPepper(d.pepperVersion)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey(
		[]byte(password+pepper),
		d.salt,
		d.params.Iterations,
		d.params.Memory,
		d.params.Parallelism,
		uint32(len(d.key)),
	)

	return subtle.ConstantTimeCompare(computed, d.key) == 1, nil
}

// NeedsRehash reports whether encoded was produced with other parameters
// or an older pepper than the hasher currently uses.
func (h *Hasher) NeedsRehash(encoded string) bool {
	d, err := decodeHash(encoded)
	if err != nil {
		return true
	}
	h.mu.RLock()
	current := h.currentPepper.Version
	h.mu.RUnlock()

	return d.pepperVersion != current ||
		d.params.Memory != h.params.Memory ||
		d.params.Iterations != h.params.Iterations ||
		d.params.Parallelism != h.params.Parallelism ||
		uint32(len(d.key)) != h.params.KeyLength
}

func (h *Hasher) getPepper(version int) (string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if p, ok := h.peppers[version]; ok {
		return p.Value, nil
	}
	return "", fmt.Errorf("%w: %d", ErrUnknownPepper, version)
}

type decodedHash struct {
	params        Argon2Params
	pepperVersion int
	salt          []byte
	key           []byte
}

func decodeHash(encoded string) (*decodedHash, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != algorithm {
		return nil, ErrInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return nil, ErrInvalidHash
	}
	if version != argon2.Version {
		return nil, ErrIncompatibleVersion
	}

	d := &decodedHash{}
	for _, kv := range strings.Split(parts[3], ",") {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, ErrInvalidHash
		}
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return nil, ErrInvalidHash
		}
		switch name {
		case "m":
			d.params.Memory = uint32(n)
		case "t":
			d.params.Iterations = uint32(n)
		case "p":
			if n > 255 {
				return nil, ErrInvalidHash
			}
			d.params.Parallelism = uint8(n)
		case "pv":
			d.pepperVersion = int(n)
		default:
			return nil, ErrInvalidHash
		}
	}
	if d.params.Memory == 0 || d.params.Iterations == 0 || d.params.Parallelism == 0 {
		return nil, ErrInvalidHash
	}

	var err error
	if d.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return nil, ErrInvalidHash
	}
	if d.key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil || len(d.key) == 0 {
		return nil, ErrInvalidHash
	}
	return d, nil
}
