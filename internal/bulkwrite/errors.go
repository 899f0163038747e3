package bulkwrite

import (
	"errors"
	"fmt"

	"github.com/roach88/docsync/internal/doc"
)

// StatusConflict marks a revision precondition failure.
const StatusConflict = 409

// ErrInvalidWriteRow is returned when a write row is malformed. It signals
// caller misuse and is never retried.
var ErrInvalidWriteRow = errors.New("invalid write row")

// WriteError is a per-row write failure. Conflicts are returned as data in
// Output.Errors, never as the error result of Categorize.
type WriteError struct {
	Status     int    `json:"status"`
	DocumentID string `json:"document_id"`
	WriteRow   Row    `json:"write_row"`

	// DocumentInDB is the stored state the row conflicted with, so the
	// writer can retry with the right precondition.
	DocumentInDB *doc.Document `json:"document_in_db,omitempty"`
}

// Error implements the error interface.
func (e *WriteError) Error() string {
	if e.DocumentInDB != nil {
		return fmt.Sprintf("write error %d on %q: stored revision is %s", e.Status, e.DocumentID, e.DocumentInDB.Rev)
	}
	return fmt.Sprintf("write error %d on %q", e.Status, e.DocumentID)
}

// IsConflict reports whether err is (or wraps) a 409 WriteError.
func IsConflict(err error) bool {
	var we *WriteError
	if errors.As(err, &we) {
		return we.Status == StatusConflict
	}
	return false
}

func invalidRow(index int, id, reason string) error {
	return fmt.Errorf("%w: row %d (%q): %s", ErrInvalidWriteRow, index, id, reason)
}
