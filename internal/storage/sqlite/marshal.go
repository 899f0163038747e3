package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/roach88/docsync/internal/doc"
)

// selectFrom returns the SELECT head shared by the documents and
// tombstones tables. The deleted flag is derived from the table.
func selectFrom(table string) string {
	deleted := "0"
	if table == tableTombstones {
		deleted = "1"
	}
	return "SELECT id, rev, lwt, data, attachments, " + deleted + " AS deleted FROM " + table
}

// marshalData converts a document payload to canonical JSON TEXT.
// Uses RFC 8785 canonical JSON so identical payloads store identical bytes.
func marshalData(data map[string]any) (string, error) {
	if data == nil {
		return "{}", nil
	}
	out, err := doc.MarshalCanonical(data)
	if err != nil {
		return "", fmt.Errorf("marshal data: %w", err)
	}
	return string(out), nil
}

// marshalAttachments stores attachment metadata only; payloads live in
// the attachments table.
func marshalAttachments(atts map[string]doc.Attachment) (string, error) {
	if len(atts) == 0 {
		return "{}", nil
	}
	meta := make(map[string]any, len(atts))
	for id, a := range atts {
		meta[id] = map[string]any{"digest": a.Digest, "length": a.Length, "type": a.ContentType}
	}
	out, err := doc.MarshalCanonical(meta)
	if err != nil {
		return "", fmt.Errorf("marshal attachments: %w", err)
	}
	return string(out), nil
}

func unmarshalAttachments(raw string) (map[string]doc.Attachment, error) {
	if raw == "" || raw == "{}" {
		return nil, nil
	}
	var atts map[string]doc.Attachment
	if err := json.Unmarshal([]byte(raw), &atts); err != nil {
		return nil, fmt.Errorf("unmarshal attachments: %w", err)
	}
	return atts, nil
}

// scanDocument reads one row selected with selectFrom.
func scanDocument(rows *sql.Rows) (doc.Document, error) {
	var (
		d        doc.Document
		data     string
		attsJSON string
	)
	if err := rows.Scan(&d.ID, &d.Rev, &d.Meta.LWT, &data, &attsJSON, &d.Deleted); err != nil {
		return doc.Document{}, fmt.Errorf("scan document: %w", err)
	}
	payload, err := doc.UnmarshalData([]byte(data))
	if err != nil {
		return doc.Document{}, fmt.Errorf("unmarshal data for %q: %w", d.ID, err)
	}
	d.Data = payload
	if d.Attachments, err = unmarshalAttachments(attsJSON); err != nil {
		return doc.Document{}, err
	}
	return d, nil
}
