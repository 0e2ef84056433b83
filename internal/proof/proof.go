// Package proof produces and verifies password-encrypted .attestproof
// artifacts binding a conversation to the attestation evidence that was
// valid when it happened. Artifacts are fully self-contained: a third party
// with only the file and the password can verify them later.
package proof

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/scrtlabs/attesthub/internal/dual"
	"golang.org/x/crypto/pbkdf2"
)

// FileExtension is the conventional artifact file extension.
const FileExtension = ".attestproof"

// FormatVersion is the payload schema version embedded in the envelope.
const FormatVersion = "2.0.0"

const (
	DefaultIterations     = 100_000
	DefaultMinPasswordLen = 8

	magic          = "ATPF"
	envelopeVer    = 0x01
	saltLen        = 16
	nonceLen       = 12
	hashLen        = sha256.Size
	keyLen         = 32
	gcmTagLen      = 16
	headerLen      = len(magic) + 1 + 4 + saltLen + nonceLen + hashLen
	minArtifactLen = headerLen + gcmTagLen
)

var (
	// ErrWeakPassword rejects passwords below the configured minimum.
	ErrWeakPassword = errors.New("password too short")
	// ErrWrongPasswordOrCorrupted covers AEAD authentication failure.
	// Wrong password and corrupted ciphertext are indistinguishable by
	// design so the artifact cannot be used as a password oracle.
	ErrWrongPasswordOrCorrupted = errors.New("wrong password or corrupted file")
	// ErrTamperedArtifact means decryption succeeded (the password was
	// provably correct) but the embedded integrity hash does not match.
	ErrTamperedArtifact = errors.New("artifact integrity hash mismatch")
	// ErrMalformedArtifact means the envelope header is unusable.
	ErrMalformedArtifact = errors.New("not a valid attestproof artifact")
)

// Message is one turn of the conversation transcript.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}

// Payload is the plaintext that gets serialized, hashed and encrypted.
type Payload struct {
	Version     string       `json:"version"`
	CreatedAt   time.Time    `json:"created_at"`
	Transcript  []Message    `json:"transcript"`
	Attestation *dual.Result `json:"attestation"`
}

// Engine generates and verifies proof artifacts. It holds no shared
// mutable state; every call is independent.
type Engine struct {
	iterations     int
	minPasswordLen int
}

func NewEngine(iterations, minPasswordLen int) *Engine {
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	if minPasswordLen <= 0 {
		minPasswordLen = DefaultMinPasswordLen
	}
	return &Engine{iterations: iterations, minPasswordLen: minPasswordLen}
}

// Generate serializes {transcript, attestation, now} canonically, hashes
// it, derives a key from password with a fresh random salt, and seals the
// payload into a self-describing envelope:
//
//	"ATPF" | ver(1) | iterations(4 BE) | salt(16) | nonce(12) | sha256(plaintext)(32) | ciphertext
func (e *Engine) Generate(transcript []Message, attestation *dual.Result, password string) ([]byte, error) {
	if len(password) < e.minPasswordLen {
		return nil, fmt.Errorf("%w: need at least %d characters", ErrWeakPassword, e.minPasswordLen)
	}

	payload := Payload{
		Version:     FormatVersion,
		CreatedAt:   time.Now().UTC(),
		Transcript:  transcript,
		Attestation: attestation,
	}
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("serialize proof payload: %w", err)
	}
	digest := sha256.Sum256(plaintext)

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	gcm, err := newAEAD(password, salt, e.iterations)
	if err != nil {
		return nil, err
	}
	ct := gcm.Seal(nil, nonce, plaintext, nil)

	out := make([]byte, 0, headerLen+len(ct))
	out = append(out, magic...)
	out = append(out, envelopeVer)
	out = binary.BigEndian.AppendUint32(out, uint32(e.iterations))
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, digest[:]...)
	out = append(out, ct...)
	return out, nil
}

// Verify derives the key from the embedded salt and parameters, decrypts,
// then recomputes the integrity hash. The stored hash is consulted only
// after successful decryption; it never bypasses the password check.
func (e *Engine) Verify(artifact []byte, password string) (*Payload, error) {
	if len(artifact) < minArtifactLen || string(artifact[:len(magic)]) != magic {
		return nil, ErrMalformedArtifact
	}
	if artifact[len(magic)] != envelopeVer {
		return nil, fmt.Errorf("%w: unsupported envelope version %d", ErrMalformedArtifact, artifact[len(magic)])
	}

	off := len(magic) + 1
	iterations := int(binary.BigEndian.Uint32(artifact[off : off+4]))
	off += 4
	salt := artifact[off : off+saltLen]
	off += saltLen
	nonce := artifact[off : off+nonceLen]
	off += nonceLen
	storedHash := artifact[off : off+hashLen]
	off += hashLen
	ct := artifact[off:]

	if iterations <= 0 {
		return nil, ErrMalformedArtifact
	}

	gcm, err := newAEAD(password, salt, iterations)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, ErrWrongPasswordOrCorrupted
	}

	digest := sha256.Sum256(plaintext)
	if !hmac.Equal(digest[:], storedHash) {
		return nil, ErrTamperedArtifact
	}

	var payload Payload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, fmt.Errorf("%w: payload decode failed", ErrMalformedArtifact)
	}
	return &payload, nil
}

func newAEAD(password string, salt []byte, iterations int) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(password), salt, iterations, keyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return gcm, nil
}

// Filename builds the conventional download name for a new artifact.
func Filename(t time.Time) string {
	return "attesthub_proof_" + t.UTC().Format("20060102_150405") + FileExtension
}
