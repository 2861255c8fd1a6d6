package tape

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/agentchaos/chaosproxy/pkg/chaoserrors"
)

// encryptedMagic prefixes encrypted tape files.
var encryptedMagic = []byte("AGCTAPE1")

// ParseKey derives the 256-bit tape key from CHAOS_TAPE_KEY. Accepts
// 64 hex chars or base64 of 32 bytes; anything else is hashed to 32 bytes
// so operators can use passphrases.
func ParseKey(raw string) []byte {
	if raw == "" {
		return nil
	}
	if len(raw) == 2*chacha20poly1305.KeySize {
		if b, err := hex.DecodeString(raw); err == nil {
			return b
		}
	}
	if b, err := base64.StdEncoding.DecodeString(raw); err == nil && len(b) == chacha20poly1305.KeySize {
		return b
	}
	sum := sha256.Sum256([]byte(raw))
	return sum[:]
}

// encrypt seals plaintext with XChaCha20-Poly1305:
// magic || nonce || ciphertext.
func encrypt(key, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("tape key: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(encryptedMagic)+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, encryptedMagic...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, encryptedMagic), nil
}

// decrypt opens a sealed tape. Plaintext tapes (no magic) pass through so
// a key can be configured while old unencrypted tapes still load.
func decrypt(key, data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, encryptedMagic) {
		return data, nil
	}
	if len(key) == 0 {
		return nil, &chaoserrors.TapeIOError{
			Op: "decrypt", Path: "<tape>",
			Err: fmt.Errorf("tape is encrypted but no CHAOS_TAPE_KEY configured"),
		}
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("tape key: %w", err)
	}
	rest := data[len(encryptedMagic):]
	if len(rest) < aead.NonceSize() {
		return nil, &chaoserrors.TapeIOError{
			Op: "decrypt", Path: "<tape>", Err: fmt.Errorf("truncated encrypted tape"),
		}
	}
	nonce, ciphertext := rest[:aead.NonceSize()], rest[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, encryptedMagic)
	if err != nil {
		return nil, &chaoserrors.TapeIOError{Op: "decrypt", Path: "<tape>", Err: err}
	}
	return plaintext, nil
}
