package doc

import (
	"fmt"
	"strconv"
	"strings"
)

// Revision is a parsed "<height>-<hash>" token.
type Revision struct {
	Height int
	Hash   string
}

// String renders the wire form.
func (r Revision) String() string {
	return strconv.Itoa(r.Height) + "-" + r.Hash
}

// ParseRevision parses a revision token. Height must be positive and the
// hash non-empty.
func ParseRevision(rev string) (Revision, error) {
	heightPart, hash, ok := strings.Cut(rev, "-")
	if !ok || hash == "" {
		return Revision{}, fmt.Errorf("invalid revision %q: want <height>-<hash>", rev)
	}
	height, err := strconv.Atoi(heightPart)
	if err != nil || height < 1 {
		return Revision{}, fmt.Errorf("invalid revision %q: bad height", rev)
	}
	return Revision{Height: height, Hash: hash}, nil
}

// Height returns the height of rev, or 0 when rev is not a valid token.
func Height(rev string) int {
	r, err := ParseRevision(rev)
	if err != nil {
		return 0
	}
	return r.Height
}

// revisionHashLen is the number of hex characters kept from the digest.
const revisionHashLen = 32

// CreateRevision derives the revision for writing d on top of previous.
//
// Height is previous height + 1 (or 1 when previous is nil). The hash is a
// digest of d's canonical form without _rev, followed by previous._rev,
// or by instanceToken when there is no previous revision. Two writers that
// produce the same content on the same base therefore produce the same
// token, and equal tokens imply equal documents.
func CreateRevision(instanceToken string, d Document, previous *Document) (string, error) {
	height := 1
	seed := instanceToken
	if previous != nil {
		prev, err := ParseRevision(previous.Rev)
		if err != nil {
			return "", fmt.Errorf("previous document %q: %w", previous.ID, err)
		}
		height = prev.Height + 1
		seed = previous.Rev
	}

	body, err := MarshalCanonical(envelope(d, false))
	if err != nil {
		return "", fmt.Errorf("revision of %q: %w", d.ID, err)
	}
	data := make([]byte, 0, len(body)+1+len(seed))
	data = append(data, body...)
	data = append(data, 0x00)
	data = append(data, seed...)

	hash := HashWithDomain(DomainRevision, data)
	return Revision{Height: height, Hash: hash[:revisionHashLen]}.String(), nil
}

// MustCreateRevision is like CreateRevision but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustCreateRevision(instanceToken string, d Document, previous *Document) string {
	rev, err := CreateRevision(instanceToken, d, previous)
	if err != nil {
		panic(err)
	}
	return rev
}

// Canonical returns the canonical encoding of the full document,
// revision included.
func Canonical(d Document) ([]byte, error) {
	return MarshalCanonical(envelope(d, true))
}

// Equal reports whether two documents are identical, revision and
// write time included.
func Equal(a, b Document) bool {
	return CanonicalEqual(envelope(a, true), envelope(b, true))
}

// EqualState reports whether two documents carry the same state,
// ignoring _rev and _meta. Replicas of one logical document compare
// equal under EqualState even though each store derived its own revision.
func EqualState(a, b Document) bool {
	return CanonicalEqual(state(a), state(b))
}

func envelope(d Document, withRev bool) map[string]any {
	m := state(d)
	m["_meta"] = map[string]any{"lwt": d.Meta.LWT}
	if withRev {
		m["_rev"] = d.Rev
	}
	return m
}

func state(d Document) map[string]any {
	data := d.Data
	if data == nil {
		data = map[string]any{}
	}
	atts := make(map[string]any, len(d.Attachments))
	for id, a := range d.Attachments {
		atts[id] = map[string]any{
			"digest": a.Digest,
			"length": a.Length,
			"type":   a.ContentType,
		}
	}
	return map[string]any{
		"id":           d.ID,
		"data":         data,
		"_deleted":     d.Deleted,
		"_attachments": atts,
	}
}
