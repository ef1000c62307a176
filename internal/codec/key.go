package codec

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	configMagic = "DMG1"
	configVer   = uint16(1)
	nonceSize   = 12
)

// KeySize is the length of every artifact and config key.
const KeySize = 32

// ParseKey decodes a KeySize-byte key given in base64 or hex, optionally
// prefixed with "base64:" or "hex:". Without a prefix base64 is tried first.
func ParseKey(key string) ([]byte, error) {
	s := strings.TrimSpace(key)
	if s == "" {
		return nil, errors.New("encryption key is empty")
	}
	decoders := []func(string) ([]byte, error){base64.StdEncoding.DecodeString, hex.DecodeString}
	switch {
	case strings.HasPrefix(s, "base64:"):
		s, decoders = strings.TrimPrefix(s, "base64:"), decoders[:1]
	case strings.HasPrefix(s, "hex:"):
		s, decoders = strings.TrimPrefix(s, "hex:"), decoders[1:]
	}
	var lastErr error
	for _, decode := range decoders {
		data, err := decode(s)
		switch {
		case err != nil:
			lastErr = err
		case len(data) != KeySize:
			lastErr = fmt.Errorf("got %d bytes", len(data))
		default:
			return data, nil
		}
	}
	return nil, fmt.Errorf("encryption key must be %d bytes of base64 or hex: %w", KeySize, lastErr)
}

// SealConfig encrypts a config file with AES-GCM behind a small header:
// magic, version, nonce.
func SealConfig(plain []byte, key []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	buf := &bytes.Buffer{}
	buf.WriteString(configMagic)
	if err := binary.Write(buf, binary.BigEndian, configVer); err != nil {
		return nil, err
	}
	buf.Write(nonce)
	buf.Write(aead.Seal(nil, nonce, plain, nil))
	return buf.Bytes(), nil
}

// OpenConfig decrypts a payload produced by SealConfig.
func OpenConfig(sealed []byte, key []byte) ([]byte, error) {
	header := len(configMagic) + 2 + nonceSize
	if len(sealed) < header {
		return nil, fmt.Errorf("config cipher too short")
	}
	if string(sealed[:len(configMagic)]) != configMagic {
		return nil, fmt.Errorf("invalid config header")
	}
	if ver := binary.BigEndian.Uint16(sealed[4:6]); ver != configVer {
		return nil, fmt.Errorf("unsupported config version %d", ver)
	}
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, sealed[6:header], sealed[header:], nil)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
