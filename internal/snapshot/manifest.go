package snapshot

import (
	"path"
	"time"

	"github.com/rowjay/docmigrate/internal/codec"
)

// ManifestName is the file written at the root of every snapshot.
const ManifestName = "manifest.json"

// Manifest describes one snapshot. It is written once, after every
// collection file, and never modified.
type Manifest struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Environment string    `json:"environment"`
	Prefix      string    `json:"prefix"`
	CreatedAt   time.Time `json:"created_at"`
	Collections []Entry   `json:"collections"`
	Empty       []string  `json:"empty,omitempty"`
	Failed      []string  `json:"failed,omitempty"`
	Compression string    `json:"compression"`
	Encryption  bool      `json:"encryption"`
	ToolVersion string    `json:"tool_version"`
}

// Entry is one collection file inside a snapshot.
type Entry struct {
	Name      string `json:"name"`
	Documents int    `json:"documents"`
	Bytes     int64  `json:"bytes"`
	Key       string `json:"key"`
}

// Complete reports whether every requested collection was written.
func (m *Manifest) Complete() bool { return len(m.Failed) == 0 }

// Entry returns the file entry for a collection.
func (m *Manifest) Entry(collection string) (Entry, bool) {
	for _, e := range m.Collections {
		if e.Name == collection {
			return e, true
		}
	}
	return Entry{}, false
}

// CollectionNames lists restorable collections in snapshot order.
func (m *Manifest) CollectionNames() []string {
	names := make([]string, len(m.Collections))
	for i, e := range m.Collections {
		names[i] = e.Name
	}
	return names
}

func (m *Manifest) manifestKey() string {
	return path.Join(m.Prefix, ManifestName)
}

func (m *Manifest) codecOptions(key []byte) codec.Options {
	return codec.Options{Compression: m.Compression, Encrypt: m.Encryption, Key: key}
}
