package doc

import (
	"encoding/json"
	"maps"
)

// Document is a stored document: the application payload plus the fixed
// envelope (primary key, revision, tombstone flag, write time, attachments).
//
// Data never contains the primary key field; Schema.ToMap re-inserts it.
type Document struct {
	ID          string                `json:"id"`
	Rev         string                `json:"_rev"`
	Deleted     bool                  `json:"_deleted"`
	Meta        Meta                  `json:"_meta"`
	Attachments map[string]Attachment `json:"_attachments,omitempty"`
	Data        map[string]any        `json:"data,omitempty"`
}

// Meta holds per-document bookkeeping that is not application data.
type Meta struct {
	// LWT is the last-write-time in milliseconds.
	LWT int64 `json:"lwt"`
}

// Attachment is attachment metadata. Data carries inline base64 content
// only on write rows; stored documents keep the digest and length.
type Attachment struct {
	Digest      string `json:"digest"`
	Length      int64  `json:"length"`
	ContentType string `json:"type"`
	Data        string `json:"data,omitempty"`
}

// Clone returns a deep copy. Callers may mutate the result freely.
func (d Document) Clone() Document {
	out := d
	if d.Attachments != nil {
		out.Attachments = maps.Clone(d.Attachments)
	}
	if d.Data != nil {
		out.Data = CloneMap(d.Data)
	}
	return out
}

// Ptr returns a pointer to a deep copy of d.
func (d Document) Ptr() *Document {
	c := d.Clone()
	return &c
}

// StripAttachmentData returns a copy of d whose attachments carry no inline data.
func (d Document) StripAttachmentData() Document {
	out := d.Clone()
	for id, a := range out.Attachments {
		a.Data = ""
		out.Attachments[id] = a
	}
	return out
}

// Field returns a top-level data field.
func (d Document) Field(name string) (any, bool) {
	v, ok := d.Data[name]
	return v, ok
}

// CloneMap deep-copies a JSON-shaped map.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = e
		}
		return out
	default:
		return v
	}
}

// MarshalData encodes a document payload for storage columns.
// A nil payload encodes as an empty object.
func MarshalData(data map[string]any) ([]byte, error) {
	if data == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(data)
}

// UnmarshalData decodes a payload written by MarshalData.
// Numbers decode as float64, matching what arrives over any JSON transport.
func UnmarshalData(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}
