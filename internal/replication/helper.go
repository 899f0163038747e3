package replication

import (
	"context"
	"fmt"
	"maps"

	"github.com/roach88/docsync/internal/doc"
	"github.com/roach88/docsync/internal/storage"
)

// nextRevision builds the document to write into dest: the state of
// from, stamped with a new write time and a revision following previous
// (dest's current document, or nil). Attachment payloads that dest does
// not already hold under the same digest are read from source.
func (s *State) nextRevision(ctx context.Context, dest, source storage.Instance, from doc.Document, previous *doc.Document) (doc.Document, error) {
	next := doc.Document{
		ID:      from.ID,
		Deleted: from.Deleted,
		Data:    doc.CloneMap(from.Data),
	}
	if len(from.Attachments) > 0 && !from.Deleted {
		next.Attachments = maps.Clone(from.Attachments)
		for attID, att := range next.Attachments {
			if previous != nil {
				if old, ok := previous.Attachments[attID]; ok && old.Digest == att.Digest {
					att.Data = ""
					next.Attachments[attID] = att
					continue
				}
			}
			if att.Data != "" {
				continue
			}
			data, err := source.GetAttachmentData(ctx, from.ID, attID, att.Digest)
			if err != nil {
				return doc.Document{}, fmt.Errorf("read attachment %s/%s: %w", from.ID, attID, err)
			}
			att.Data = data
			next.Attachments[attID] = att
		}
	}

	next.Meta.LWT = s.input.Clock.Now()
	rev, err := doc.CreateRevision(dest.Token(), next, previous)
	if err != nil {
		return doc.Document{}, err
	}
	next.Rev = rev
	return next, nil
}

func documentIDs(docs []doc.Document) []string {
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	return ids
}

func byID(docs []doc.Document) map[string]doc.Document {
	out := make(map[string]doc.Document, len(docs))
	for _, d := range docs {
		out[d.ID] = d
	}
	return out
}
