package storage

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const keyDerivationInfo = "readiness-wizard storage v1"

// codec applies the optional compression and encryption transforms.
// Encoding compresses first and encrypts second; decoding reverses that.
type codec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	aead    cipher.AEAD
}

func newCodec(cfg Config) (*codec, error) {
	c := &codec{}

	if cfg.CompressionEnabled {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("create zstd encoder: %w", err)
		}
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("create zstd decoder: %w", err)
		}
		c.encoder = enc
		c.decoder = dec
	}

	if cfg.EncryptionEnabled {
		if cfg.EncryptionKey == "" {
			return nil, errors.New("encryption enabled without an encryption key")
		}
		key := make([]byte, chacha20poly1305.KeySize)
		kdf := hkdf.New(sha256.New, []byte(cfg.EncryptionKey), nil, []byte(keyDerivationInfo))
		if _, err := io.ReadFull(kdf, key); err != nil {
			return nil, fmt.Errorf("derive encryption key: %w", err)
		}
		aead, err := chacha20poly1305.NewX(key)
		if err != nil {
			return nil, fmt.Errorf("create cipher: %w", err)
		}
		c.aead = aead
	}

	return c, nil
}

// binary reports whether encoded values are base64 rather than plain JSON.
func (c *codec) binary() bool {
	return c.encoder != nil || c.aead != nil
}

func (c *codec) encode(plain []byte) (string, error) {
	if !c.binary() {
		return string(plain), nil
	}

	out := plain
	if c.encoder != nil {
		out = c.encoder.EncodeAll(out, make([]byte, 0, len(out)))
	}
	if c.aead != nil {
		nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(out)+c.aead.Overhead())
		if _, err := rand.Read(nonce); err != nil {
			return "", fmt.Errorf("generate nonce: %w", err)
		}
		out = c.aead.Seal(nonce, nonce, out, nil)
	}
	return base64.StdEncoding.EncodeToString(out), nil
}

func (c *codec) decode(raw string) ([]byte, error) {
	if !c.binary() {
		return []byte(raw), nil
	}

	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	if c.aead != nil {
		ns := c.aead.NonceSize()
		if len(data) < ns+c.aead.Overhead() {
			return nil, errors.New("ciphertext too short")
		}
		data, err = c.aead.Open(nil, data[:ns], data[ns:], nil)
		if err != nil {
			return nil, fmt.Errorf("decrypt: %w", err)
		}
	}
	if c.decoder != nil {
		data, err = c.decoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("decompress: %w", err)
		}
	}
	return data, nil
}
