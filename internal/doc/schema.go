package doc

import (
	"errors"
	"fmt"
	"strings"
)

// Envelope field paths understood by Schema.Value.
const (
	FieldDeleted = "_deleted"
	FieldRev     = "_rev"
	FieldLWT     = "_meta.lwt"
)

// Schema describes a collection: its primary key and declared indexes.
type Schema struct {
	Name       string     `json:"name" yaml:"name"`
	Version    int        `json:"version" yaml:"version"`
	PrimaryKey string     `json:"primary_key" yaml:"primary_key"`
	Indexes    [][]string `json:"indexes,omitempty" yaml:"indexes,omitempty"`

	// CompositeKey, when set, composes the primary key from data fields.
	CompositeKey *CompositeKey `json:"composite_key,omitempty" yaml:"composite_key,omitempty"`
}

// CompositeKey joins several data fields into the primary key value.
type CompositeKey struct {
	Fields    []string `json:"fields" yaml:"fields"`
	Separator string   `json:"separator" yaml:"separator"`
}

// Validate checks that the schema can address documents.
func (s Schema) Validate() error {
	if s.Name == "" {
		return errors.New("schema: name is required")
	}
	if s.PrimaryKey == "" {
		return fmt.Errorf("schema %s: primary_key is required", s.Name)
	}
	if ck := s.CompositeKey; ck != nil {
		if len(ck.Fields) == 0 {
			return fmt.Errorf("schema %s: composite_key needs fields", s.Name)
		}
		if ck.Separator == "" {
			return fmt.Errorf("schema %s: composite_key needs a separator", s.Name)
		}
	}
	for i, idx := range s.Indexes {
		if len(idx) == 0 {
			return fmt.Errorf("schema %s: index %d is empty", s.Name, i)
		}
		for _, f := range idx {
			if f == "" {
				return fmt.Errorf("schema %s: index %d has an empty field", s.Name, i)
			}
		}
	}
	return nil
}

// ComposeID builds the primary key from data. Without a composite key the
// primary key field itself must be a non-empty string.
func (s Schema) ComposeID(data map[string]any) (string, error) {
	if s.CompositeKey == nil {
		id, ok := data[s.PrimaryKey].(string)
		if !ok || id == "" {
			return "", fmt.Errorf("schema %s: missing primary key %q", s.Name, s.PrimaryKey)
		}
		return id, nil
	}
	parts := make([]string, len(s.CompositeKey.Fields))
	for i, f := range s.CompositeKey.Fields {
		v, ok := lookupPath(data, f)
		if !ok {
			return "", fmt.Errorf("schema %s: missing composite key field %q", s.Name, f)
		}
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, s.CompositeKey.Separator), nil
}

// Value resolves a field path against d. The primary key and the envelope
// fields (_deleted, _rev, _meta.lwt) map onto Document; anything else is
// a dotted path into Data.
func (s Schema) Value(d Document, path string) (any, bool) {
	switch path {
	case s.PrimaryKey:
		return d.ID, true
	case FieldDeleted:
		return d.Deleted, true
	case FieldRev:
		return d.Rev, true
	case FieldLWT:
		return d.Meta.LWT, true
	}
	return lookupPath(d.Data, path)
}

// ToMap renders the flat application form: data fields, the primary key
// and the envelope fields side by side.
func (s Schema) ToMap(d Document) map[string]any {
	m := CloneMap(d.Data)
	if m == nil {
		m = map[string]any{}
	}
	m[s.PrimaryKey] = d.ID
	m["_rev"] = d.Rev
	m["_deleted"] = d.Deleted
	m["_meta"] = map[string]any{"lwt": d.Meta.LWT}
	atts := make(map[string]any, len(d.Attachments))
	for id, a := range d.Attachments {
		att := map[string]any{"digest": a.Digest, "length": a.Length, "type": a.ContentType}
		if a.Data != "" {
			att["data"] = a.Data
		}
		atts[id] = att
	}
	m["_attachments"] = atts
	return m
}

// FromMap parses the flat application form produced by ToMap (or typed by
// a user). Missing envelope fields stay at their zero values.
func (s Schema) FromMap(m map[string]any) (Document, error) {
	data := CloneMap(m)
	var d Document

	id, err := s.ComposeID(data)
	if err != nil {
		return Document{}, err
	}
	d.ID = id
	if s.CompositeKey == nil {
		delete(data, s.PrimaryKey)
	} else if existing, ok := data[s.PrimaryKey].(string); ok && existing != id {
		return Document{}, fmt.Errorf("schema %s: primary key %q does not match composite fields (%q)", s.Name, existing, id)
	} else {
		delete(data, s.PrimaryKey)
	}

	if rev, ok := data["_rev"].(string); ok {
		d.Rev = rev
	}
	if del, ok := data["_deleted"].(bool); ok {
		d.Deleted = del
	}
	if meta, ok := data["_meta"].(map[string]any); ok {
		if lwt, ok := ToFloat(meta["lwt"]); ok {
			d.Meta.LWT = int64(lwt)
		}
	}
	if atts, ok := data["_attachments"].(map[string]any); ok && len(atts) > 0 {
		d.Attachments = make(map[string]Attachment, len(atts))
		for attID, raw := range atts {
			am, ok := raw.(map[string]any)
			if !ok {
				return Document{}, fmt.Errorf("schema %s: attachment %q is not an object", s.Name, attID)
			}
			a := Attachment{}
			a.Digest, _ = am["digest"].(string)
			a.ContentType, _ = am["type"].(string)
			a.Data, _ = am["data"].(string)
			if n, ok := ToFloat(am["length"]); ok {
				a.Length = int64(n)
			}
			d.Attachments[attID] = a
		}
	}
	for _, k := range []string{"_rev", "_deleted", "_meta", "_attachments"} {
		delete(data, k)
	}
	d.Data = data
	return d, nil
}

func lookupPath(data map[string]any, path string) (any, bool) {
	if data == nil {
		return nil, false
	}
	if v, ok := data[path]; ok {
		return v, true
	}
	head, rest, nested := strings.Cut(path, ".")
	if !nested {
		return nil, false
	}
	child, ok := data[head].(map[string]any)
	if !ok {
		return nil, false
	}
	return lookupPath(child, rest)
}
