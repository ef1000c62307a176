package document

import (
	"encoding/json"
	"sort"
)

// IDKind records the native type of a document id so stores that key by
// typed ids (MongoDB _id) get the same id back on write.
type IDKind string

const (
	IDString   IDKind = ""
	IDObjectID IDKind = "objectid"
	IDInt32    IDKind = "int32"
	IDInt64    IDKind = "int64"
)

// Document is one record of a collection. ID and IDKind are preserved
// verbatim by every copy, backup and restore.
type Document struct {
	ID     string `json:"id"`
	IDKind IDKind `json:"id_kind,omitempty"`
	Data   Map    `json:"data"`
}

// New builds a document from plain Go values.
func New(id string, data map[string]any) (Document, error) {
	m, err := MapFromAny(data)
	if err != nil {
		return Document{}, err
	}
	return Document{ID: id, Data: m}, nil
}

// Clone returns a deep copy.
func (d Document) Clone() Document {
	return Document{ID: d.ID, IDKind: d.IDKind, Data: d.Data.Clone()}
}

// Key identifies the document within its collection. Ids of different
// kinds never collide, so the int 1 and the string "1" stay two documents.
func (d Document) Key() string {
	if d.IDKind == IDString {
		return d.ID
	}
	return string(d.IDKind) + ":" + d.ID
}

// Equal compares id and payload.
func (d Document) Equal(o Document) bool {
	return d.ID == o.ID && d.IDKind == o.IDKind && d.Data.Equal(o.Data)
}

// Size is the encoded JSON length of the document, used for collection
// size estimates.
func (d Document) Size() int64 {
	b, err := json.Marshal(d)
	if err != nil {
		return 0
	}
	return int64(len(b))
}

// SortByID orders docs by id, then id kind, in place.
func SortByID(docs []Document) {
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].ID != docs[j].ID {
			return docs[i].ID < docs[j].ID
		}
		return docs[i].IDKind < docs[j].IDKind
	})
}
