// Package codec layers compression and DARE encryption over artifact streams.
// Writers apply compression first and encryption second; readers undo them in
// reverse order.
package codec

import (
	"compress/gzip"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/minio/sio"
)

const (
	None = "none"
	Gzip = "gzip"
	Zstd = "zstd"
)

// Options selects the layers applied to an artifact.
type Options struct {
	Compression string
	Encrypt     bool
	Key         []byte
}

// Validate rejects unknown compression names and encryption without a key.
func (o Options) Validate() error {
	switch o.Compression {
	case "", None, Gzip, Zstd:
	default:
		return fmt.Errorf("unsupported compression: %s", o.Compression)
	}
	if o.Encrypt && len(o.Key) != KeySize {
		return fmt.Errorf("encryption requires a %d-byte key", KeySize)
	}
	return nil
}

// Extension returns the suffix appended to a ".json" artifact name, e.g.
// ".zst.enc".
func (o Options) Extension() string {
	ext := ""
	switch o.Compression {
	case Gzip:
		ext += ".gz"
	case Zstd:
		ext += ".zst"
	}
	if o.Encrypt {
		ext += ".enc"
	}
	return ext
}

// NewWriter returns a writer that compresses then encrypts into w. Closing it
// flushes every layer.
func NewWriter(w io.Writer, opts Options) (io.WriteCloser, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	var closers []io.Closer
	out := w
	if opts.Encrypt {
		enc, err := sio.EncryptWriter(out, sio.Config{Key: opts.Key})
		if err != nil {
			return nil, fmt.Errorf("encrypt: %w", err)
		}
		out = enc
		closers = append(closers, enc)
	}
	switch opts.Compression {
	case Gzip:
		gz := gzip.NewWriter(out)
		out = gz
		closers = append(closers, gz)
	case Zstd:
		zw, err := zstd.NewWriter(out)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		out = zw
		closers = append(closers, zw)
	}
	return &layeredWriter{Writer: out, closers: closers}, nil
}

// NewReader reverses NewWriter.
func NewReader(r io.Reader, opts Options) (io.ReadCloser, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	in := r
	if opts.Encrypt {
		dec, err := sio.DecryptReader(in, sio.Config{Key: opts.Key})
		if err != nil {
			return nil, fmt.Errorf("decrypt: %w", err)
		}
		in = dec
	}
	switch opts.Compression {
	case Gzip:
		gz, err := gzip.NewReader(in)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		return gz, nil
	case Zstd:
		dec, err := zstd.NewReader(in)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		return zstdReadCloser{Decoder: dec}, nil
	default:
		return io.NopCloser(in), nil
	}
}

// layeredWriter closes its layers innermost first.
type layeredWriter struct {
	io.Writer
	closers []io.Closer
}

func (l *layeredWriter) Close() error {
	for i := len(l.closers) - 1; i >= 0; i-- {
		if err := l.closers[i].Close(); err != nil {
			return err
		}
	}
	return nil
}

type zstdReadCloser struct{ *zstd.Decoder }

func (z zstdReadCloser) Close() error {
	z.Decoder.Close()
	return nil
}
