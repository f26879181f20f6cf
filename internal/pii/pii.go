// Package pii implements envelope encryption for a memory's PII flag map
// when any of its flags is sensitive (memory content itself is not
// encrypted), grounded in the
// AES-256-GCM pattern used for admin token encryption elsewhere in this
// corpus, reshaped to Capsule's {version, iv, tag, data} envelope with
// separate base64 iv/tag fields rather than a combined hex blob.
package pii

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/capsule-memory/capsule/pkg/models"
)

const envelopeVersion = 1

// KeyProvider resolves an encryption key for a request, honoring the
// bring-your-own-key (BYOK) option over the process default key.
type KeyProvider struct {
	mu         sync.RWMutex
	defaultKey [32]byte
	byokKeys   map[string][32]byte // keyRef -> derived key
}

// NewKeyProvider derives the process-default key from the given secret
// (typically read from CAPSULE_PII_KEY) via SHA-256, matching the
// derive-then-use shape of the teacher's admin token encryption.
func NewKeyProvider(secret string) *KeyProvider {
	kp := &KeyProvider{byokKeys: make(map[string][32]byte)}
	kp.defaultKey = sha256.Sum256([]byte(secret))
	return kp
}

// RegisterBYOKKey derives and stores a caller-supplied key under keyRef.
func (kp *KeyProvider) RegisterBYOKKey(keyRef, secret string) {
	kp.mu.Lock()
	defer kp.mu.Unlock()
	kp.byokKeys[keyRef] = sha256.Sum256([]byte(secret))
}

func (kp *KeyProvider) resolve(keyRef string) ([32]byte, error) {
	if keyRef == "" {
		return kp.defaultKey, nil
	}
	kp.mu.RLock()
	defer kp.mu.RUnlock()
	k, ok := kp.byokKeys[keyRef]
	if !ok {
		return [32]byte{}, fmt.Errorf("unknown BYOK key ref: %s", keyRef)
	}
	return k, nil
}

// Encrypt seals plaintext into a PIIEnvelope using AES-256-GCM under the
// key named by keyRef (empty = default process key).
func (kp *KeyProvider) Encrypt(plaintext, keyRef string) (*models.PIIEnvelope, error) {
	key, err := kp.resolve(keyRef)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}

	iv := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("generate iv: %w", err)
	}

	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	// Go's GCM appends the tag to the ciphertext; split it back out so the
	// envelope carries iv/tag/data as distinct fields.
	tagSize := gcm.Overhead()
	data := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	return &models.PIIEnvelope{
		Version: envelopeVersion,
		IV:      base64.StdEncoding.EncodeToString(iv),
		Tag:     base64.StdEncoding.EncodeToString(tag),
		Data:    base64.StdEncoding.EncodeToString(data),
		KeyRef:  keyRef,
	}, nil
}

// Decrypt opens a PIIEnvelope back into plaintext.
func (kp *KeyProvider) Decrypt(env *models.PIIEnvelope) (string, error) {
	if env == nil {
		return "", fmt.Errorf("nil envelope")
	}
	if env.Version != envelopeVersion {
		return "", fmt.Errorf("unsupported envelope version: %d", env.Version)
	}

	key, err := kp.resolve(env.KeyRef)
	if err != nil {
		return "", err
	}

	iv, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil {
		return "", fmt.Errorf("decode iv: %w", err)
	}
	tag, err := base64.StdEncoding.DecodeString(env.Tag)
	if err != nil {
		return "", fmt.Errorf("decode tag: %w", err)
	}
	data, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		return "", fmt.Errorf("decode data: %w", err)
	}

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return "", fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("new gcm: %w", err)
	}

	sealed := append(append([]byte{}, data...), tag...)
	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

// EncryptFlags seals a PII flag map into an envelope, for use when any
// flag in the map is true (sensitive).
func (kp *KeyProvider) EncryptFlags(flags map[string]bool, keyRef string) (*models.PIIEnvelope, error) {
	raw, err := json.Marshal(flags)
	if err != nil {
		return nil, fmt.Errorf("marshal pii flags: %w", err)
	}
	return kp.Encrypt(string(raw), keyRef)
}

// DecryptFlags opens a PII flag envelope back into its flag map.
func (kp *KeyProvider) DecryptFlags(env *models.PIIEnvelope) (map[string]bool, error) {
	raw, err := kp.Decrypt(env)
	if err != nil {
		return nil, err
	}
	var flags map[string]bool
	if err := json.Unmarshal([]byte(raw), &flags); err != nil {
		return nil, fmt.Errorf("unmarshal pii flags: %w", err)
	}
	return flags, nil
}
