package auth

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrMalformedCredential is returned when a raw credential cannot be decoded
// or decrypted. The login flow folds it into the generic denial.
var ErrMalformedCredential = errors.New("malformed credential")

// Scheme selects how a customer's raw credentials are turned into the bytes
// stored in users.hashed_key. Customers pick one in the controller database.
type Scheme string

const (
	// SchemePlain compares the raw credential bytes.
	SchemePlain Scheme = "plain"
	// SchemeSHA256 compares sha256(raw).
	SchemeSHA256 Scheme = "sha256"
	// SchemeDecryptSHA256 decrypts the AES-CBC base64 credential, then hashes it.
	SchemeDecryptSHA256 Scheme = "decrypt-sha256"
	// SchemeDecryptBase64 decrypts the credential and base64-decodes the result.
	SchemeDecryptBase64 Scheme = "decrypt-base64"
)

// Schemes lists every supported scheme.
var Schemes = []Scheme{SchemePlain, SchemeSHA256, SchemeDecryptSHA256, SchemeDecryptBase64}

// ParseScheme validates a scheme name. An empty name selects SchemeSHA256.
func ParseScheme(name string) (Scheme, error) {
	if strings.TrimSpace(name) == "" {
		return SchemeSHA256, nil
	}
	for _, s := range Schemes {
		if string(s) == name {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown credential scheme %q", name)
}

// NeedsCipher reports whether the scheme decrypts its input.
func (s Scheme) NeedsCipher() bool {
	return s == SchemeDecryptSHA256 || s == SchemeDecryptBase64
}

// Prepare converts raw into the canonical stored form.
func (s Scheme) Prepare(raw string, c *Cipher) ([]byte, error) {
	switch s {
	case SchemePlain:
		return []byte(raw), nil
	case SchemeSHA256:
		return digest(raw), nil
	case SchemeDecryptSHA256, SchemeDecryptBase64:
		if c == nil {
			return nil, fmt.Errorf("scheme %s: no cipher configured", s)
		}
		plain, err := c.Decrypt(raw)
		if err != nil {
			return nil, err
		}
		if s == SchemeDecryptSHA256 {
			return digest(plain), nil
		}
		decoded, err := base64.StdEncoding.DecodeString(plain)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedCredential, err)
		}
		return decoded, nil
	default:
		return nil, fmt.Errorf("unknown credential scheme %q", s)
	}
}

func digest(s string) []byte {
	sum := sha256.Sum256([]byte(s))
	return sum[:]
}

// Cipher is the fixed-key, fixed-IV AES-CBC cipher legacy clients encrypt
// credentials with.
type Cipher struct {
	block cipher.Block
	iv    []byte
}

// NewCipher validates key (16, 24 or 32 bytes) and iv (one block).
func NewCipher(key, iv []byte) (*Cipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("credential cipher key: %w", err)
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("credential cipher iv must be %d bytes, got %d", aes.BlockSize, len(iv))
	}
	return &Cipher{block: block, iv: bytes.Clone(iv)}, nil
}

// Decrypt base64-decodes and decrypts encoded, then strips the control
// characters \x00-\x16 that legacy clients leave as padding.
func (c *Cipher) Decrypt(encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedCredential, err)
	}
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: ciphertext is not a whole number of blocks", ErrMalformedCredential)
	}

	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(c.block, c.iv).CryptBlocks(out, data)
	if !utf8.Valid(out) {
		return "", fmt.Errorf("%w: decrypted credential is not utf-8", ErrMalformedCredential)
	}

	return strings.Map(func(r rune) rune {
		if r <= 0x16 {
			return -1
		}
		return r
	}, string(out)), nil
}

// Encrypt is the inverse of Decrypt with PKCS#7 padding. Operators use it to
// produce credentials for legacy tenants.
func (c *Cipher) Encrypt(plain string) string {
	pad := aes.BlockSize - len(plain)%aes.BlockSize
	data := append([]byte(plain), bytes.Repeat([]byte{byte(pad)}, pad)...)
	out := make([]byte, len(data))
	cipher.NewCBCEncrypter(c.block, c.iv).CryptBlocks(out, data)
	return base64.StdEncoding.EncodeToString(out)
}
