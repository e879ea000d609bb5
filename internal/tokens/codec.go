package tokens

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/bissquit/bagwatch/internal/domain"
)

var (
	// ErrPassphraseRequired is returned when sealed data is decoded without a passphrase.
	ErrPassphraseRequired = errors.New("stored tokens are encrypted, passphrase required")
	// ErrDecrypt is returned when sealed data cannot be opened with the passphrase.
	ErrDecrypt = errors.New("cannot decrypt stored tokens, wrong passphrase or corrupted data")
)

var sealedMagic = []byte("bwt1")

const (
	saltSize = 16

	argonTime    = 2
	argonMemory  = 19 * 1024
	argonThreads = 1
)

// Codec converts credentials to the blob every backend stores. With a
// passphrase the blob is sealed with XChaCha20-Poly1305 under an Argon2id key.
type Codec struct {
	passphrase []byte
}

// NewCodec returns a codec; an empty passphrase stores plain JSON.
func NewCodec(passphrase string) *Codec {
	c := &Codec{}
	if passphrase != "" {
		c.passphrase = []byte(passphrase)
	}
	return c
}

// Sealed reports whether Encode encrypts.
func (c *Codec) Sealed() bool {
	return len(c.passphrase) > 0
}

// Encode serializes creds.
func (c *Codec) Encode(creds domain.Credentials) ([]byte, error) {
	plain, err := json.Marshal(creds)
	if err != nil {
		return nil, fmt.Errorf("marshal tokens: %w", err)
	}
	if !c.Sealed() {
		return plain, nil
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	aead, err := chacha20poly1305.NewX(c.key(salt))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	out := make([]byte, 0, len(sealedMagic)+saltSize+len(nonce)+len(plain)+aead.Overhead())
	out = append(out, sealedMagic...)
	out = append(out, salt...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plain, sealedMagic), nil
}

// Decode parses data written by Encode. Plain data is accepted even when a
// passphrase is configured, so enabling encryption keeps existing tokens.
func (c *Codec) Decode(data []byte) (domain.Credentials, error) {
	var creds domain.Credentials

	if !bytes.HasPrefix(data, sealedMagic) {
		if err := json.Unmarshal(data, &creds); err != nil {
			return creds, fmt.Errorf("decode tokens: %w", err)
		}
		return creds, nil
	}
	if !c.Sealed() {
		return creds, ErrPassphraseRequired
	}

	rest := data[len(sealedMagic):]
	if len(rest) < saltSize+chacha20poly1305.NonceSizeX {
		return creds, ErrDecrypt
	}
	salt, rest := rest[:saltSize], rest[saltSize:]
	nonce, ciphertext := rest[:chacha20poly1305.NonceSizeX], rest[chacha20poly1305.NonceSizeX:]

	aead, err := chacha20poly1305.NewX(c.key(salt))
	if err != nil {
		return creds, fmt.Errorf("create cipher: %w", err)
	}
	plain, err := aead.Open(nil, nonce, ciphertext, sealedMagic)
	if err != nil {
		return creds, ErrDecrypt
	}
	if err := json.Unmarshal(plain, &creds); err != nil {
		return creds, fmt.Errorf("decode tokens: %w", err)
	}
	return creds, nil
}

func (c *Codec) key(salt []byte) []byte {
	return argon2.IDKey(c.passphrase, salt, argonTime, argonMemory, argonThreads, chacha20poly1305.KeySize)
}
