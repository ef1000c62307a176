package codec

import (
	"bytes"
	"encoding/base64"
	"io"
	"testing"
)

func testKey() []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func TestParseKeyBase64(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString(testKey())
	parsed, err := ParseKey(encoded)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(parsed, testKey()) {
		t.Fatalf("unexpected key: %x", parsed)
	}
	if _, err := ParseKey("hex:abcd"); err == nil {
		t.Fatalf("expected short key to be rejected")
	}
}

func TestLayersRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte(`{"id":"c1","data":{"status":"open"}}`), 200)
	cases := []Options{
		{Compression: None},
		{Compression: Gzip},
		{Compression: Zstd},
		{Compression: Zstd, Encrypt: true, Key: testKey()},
		{Compression: None, Encrypt: true, Key: testKey()},
	}
	for _, opts := range cases {
		var buf bytes.Buffer
		w, err := NewWriter(&buf, opts)
		if err != nil {
			t.Fatalf("%+v: writer: %v", opts, err)
		}
		if _, err := w.Write(payload); err != nil {
			t.Fatalf("%+v: write: %v", opts, err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("%+v: close: %v", opts, err)
		}
		if opts.Encrypt && bytes.Contains(buf.Bytes(), []byte("status")) {
			t.Fatalf("%+v: ciphertext leaks plaintext", opts)
		}
		r, err := NewReader(&buf, opts)
		if err != nil {
			t.Fatalf("%+v: reader: %v", opts, err)
		}
		got, err := io.ReadAll(r)
		if err != nil {
			t.Fatalf("%+v: read: %v", opts, err)
		}
		_ = r.Close()
		if !bytes.Equal(got, payload) {
			t.Fatalf("%+v: payload mismatch", opts)
		}
	}
}

func TestExtension(t *testing.T) {
	if ext := (Options{Compression: Zstd, Encrypt: true}).Extension(); ext != ".zst.enc" {
		t.Fatalf("unexpected extension: %s", ext)
	}
	if ext := (Options{Compression: None}).Extension(); ext != "" {
		t.Fatalf("unexpected extension: %s", ext)
	}
}

func TestSealConfig(t *testing.T) {
	sealed, err := SealConfig([]byte("global:\n  log_level: debug\n"), testKey())
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	plain, err := OpenConfig(sealed, testKey())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if string(plain) != "global:\n  log_level: debug\n" {
		t.Fatalf("unexpected plaintext: %q", plain)
	}
	wrong := testKey()
	wrong[0] ^= 0xff
	if _, err := OpenConfig(sealed, wrong); err == nil {
		t.Fatalf("expected wrong key to fail")
	}
}
