package doc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRevision(t *testing.T) {
	r, err := ParseRevision("3-abc")
	require.NoError(t, err)
	assert.Equal(t, Revision{Height: 3, Hash: "abc"}, r)
	assert.Equal(t, "3-abc", r.String())

	for _, bad := range []string{"", "abc", "0-abc", "-1-abc", "x-abc", "3-"} {
		_, err := ParseRevision(bad)
		assert.Error(t, err, bad)
		assert.Equal(t, 0, Height(bad), bad)
	}
}

func TestCreateRevisionHeights(t *testing.T) {
	d := Document{ID: "a", Data: map[string]any{"n": 1}, Meta: Meta{LWT: 10}}

	first := MustCreateRevision("token", d, nil)
	assert.Equal(t, 1, Height(first))

	d.Rev = first
	next := d.Clone()
	next.Data["n"] = 2
	second := MustCreateRevision("token", next, &d)
	assert.Equal(t, 2, Height(second))
	assert.NotEqual(t, first[2:], second[2:])
}

func TestCreateRevisionDeterministic(t *testing.T) {
	d := Document{ID: "a", Data: map[string]any{"x": "y", "n": 1.0}}
	same := Document{ID: "a", Data: map[string]any{"n": 1, "x": "y"}}

	assert.Equal(t, MustCreateRevision("t", d, nil), MustCreateRevision("t", same, nil))
	assert.NotEqual(t, MustCreateRevision("t", d, nil), MustCreateRevision("other", d, nil))
}

func TestCreateRevisionIgnoresCurrentRev(t *testing.T) {
	d := Document{ID: "a", Rev: "1-foo"}
	e := Document{ID: "a", Rev: "9-bar"}
	assert.Equal(t, MustCreateRevision("t", d, nil), MustCreateRevision("t", e, nil))
}

func TestCreateRevisionRejectsBadPrevious(t *testing.T) {
	_, err := CreateRevision("t", Document{ID: "a"}, &Document{ID: "a", Rev: "garbage"})
	assert.Error(t, err)
}

func TestEqualAndEqualState(t *testing.T) {
	a := Document{ID: "a", Rev: "1-x", Meta: Meta{LWT: 1}, Data: map[string]any{"v": 1}}
	b := a.Clone()
	assert.True(t, Equal(a, b))

	b.Rev = "2-y"
	b.Meta.LWT = 2
	assert.False(t, Equal(a, b))
	assert.True(t, EqualState(a, b))

	b.Deleted = true
	assert.False(t, EqualState(a, b))
}

func TestEqualStateIgnoresInlineAttachmentData(t *testing.T) {
	a := Document{ID: "a", Attachments: map[string]Attachment{
		"f": {Digest: "d1", Length: 3, ContentType: "text/plain", Data: "YWJj"},
	}}
	b := a.StripAttachmentData()
	assert.True(t, EqualState(a, b))
	assert.Equal(t, "YWJj", a.Attachments["f"].Data)
	assert.Empty(t, b.Attachments["f"].Data)
}
