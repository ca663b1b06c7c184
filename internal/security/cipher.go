package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

// tokenPrefix は暗号文のフォーマットバージョン。
const tokenPrefix = "v1:"

// ErrCiphertext は暗号文を現在の鍵で復号できないことを示す。
var ErrCiphertext = errors.New("security: cannot decrypt ciphertext")

// TokenCipher は共通鍵によるトークンの暗号化と復号を行う。
type TokenCipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// AESCipher はAES-256-GCMによるTokenCipherの実装。
// 暗号文は "v1:" + base64(nonce || sealed) の形式で、DBのTEXT列にそのまま保存できる。
type AESCipher struct {
	aead cipher.AEAD
}

// NewAESCipher は鍵素材からAESCipherを生成する。
// 16/24/32バイトの鍵はそのまま使い、それ以外はSHA-256で32バイトに正規化する。
func NewAESCipher(keyMaterial string) (*AESCipher, error) {
	key := []byte(strings.TrimSpace(keyMaterial))
	if len(key) == 0 {
		return nil, fmt.Errorf("security: key material is required")
	}
	if l := len(key); l != 16 && l != 24 && l != 32 {
		sum := sha256.Sum256(key)
		key = sum[:]
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("security: create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("security: create gcm: %w", err)
	}
	return &AESCipher{aead: aead}, nil
}

// Encrypt は平文を暗号化する。同じ平文でも毎回異なる暗号文になる。
func (c *AESCipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("security: nonce generation failed: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return tokenPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt は暗号文を復号する。
// 形式不正、改ざん、鍵の不一致はいずれもErrCiphertextを返す。
func (c *AESCipher) Decrypt(ciphertext string) (string, error) {
	encoded, ok := strings.CutPrefix(ciphertext, tokenPrefix)
	if !ok {
		return "", fmt.Errorf("%w: unknown format", ErrCiphertext)
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCiphertext, err)
	}
	if len(raw) < c.aead.NonceSize() {
		return "", fmt.Errorf("%w: too short", ErrCiphertext)
	}
	nonce, sealed := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plain, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCiphertext, err)
	}
	return string(plain), nil
}

var _ TokenCipher = (*AESCipher)(nil)
