package bulkwrite

import (
	"crypto/sha256"
	"encoding/base64"

	"github.com/roach88/docsync/internal/doc"
)

// NewAttachment builds write-side attachment metadata for raw content.
// The digest is "sha256-" followed by the base64 SHA-256 of the content.
func NewAttachment(contentType string, content []byte) doc.Attachment {
	sum := sha256.Sum256(content)
	return doc.Attachment{
		Digest:      "sha256-" + base64.StdEncoding.EncodeToString(sum[:]),
		Length:      int64(len(content)),
		ContentType: contentType,
		Data:        base64.StdEncoding.EncodeToString(content),
	}
}

func addedAttachments(d doc.Document) []AttachmentOp {
	if d.Deleted {
		return nil
	}
	var ops []AttachmentOp
	for _, attID := range doc.SortedKeys(d.Attachments) {
		a := d.Attachments[attID]
		if a.Data == "" {
			continue
		}
		ops = append(ops, AttachmentOp{DocumentID: d.ID, AttachmentID: attID, Digest: a.Digest, Data: a.Data})
	}
	return ops
}

// diffAttachments records the blob operations that turn stored's
// attachments into next's.
func (o *Output) diffAttachments(stored, next doc.Document) {
	for _, attID := range doc.SortedKeys(stored.Attachments) {
		if _, kept := next.Attachments[attID]; !kept || next.Deleted {
			o.AttachmentsRemove = append(o.AttachmentsRemove, AttachmentOp{
				DocumentID:   stored.ID,
				AttachmentID: attID,
				Digest:       stored.Attachments[attID].Digest,
			})
		}
	}
	if next.Deleted {
		return
	}
	for _, attID := range doc.SortedKeys(next.Attachments) {
		a := next.Attachments[attID]
		if a.Data == "" {
			continue
		}
		op := AttachmentOp{DocumentID: next.ID, AttachmentID: attID, Digest: a.Digest, Data: a.Data}
		old, had := stored.Attachments[attID]
		switch {
		case !had:
			o.AttachmentsAdd = append(o.AttachmentsAdd, op)
		case old.Digest != a.Digest:
			o.AttachmentsUpdate = append(o.AttachmentsUpdate, op)
		}
	}
}
