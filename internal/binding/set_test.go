package binding

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newDocument(title string, modified bool) *Object {
	return NewObject(map[string]any{"title": title, "modified": modified})
}

func newLabel() *Object {
	return NewObject(map[string]any{"text": "", "visible": false})
}

func TestBindSyncsOnConnect(t *testing.T) {
	set := NewSet()
	label := newLabel()

	_, err := set.Bind("title", label, "text", Options{})
	require.NoError(t, err)
	v, _ := label.Get("text")
	require.Equal(t, "", v)

	doc := newDocument("main.c", false)
	require.NoError(t, set.SetSource(doc))
	v, _ = label.Get("text")
	require.Equal(t, "main.c", v)

	require.NoError(t, doc.Set("title", "util.c"))
	v, _ = label.Get("text")
	require.Equal(t, "util.c", v)
}

func TestSetSourceDisconnectsOldSource(t *testing.T) {
	set := NewSet()
	label := newLabel()
	_, err := set.Bind("title", label, "text", Options{})
	require.NoError(t, err)

	first := newDocument("first", false)
	second := newDocument("second", false)
	require.NoError(t, set.SetSource(first))
	require.NoError(t, set.SetSource(second))
	require.Same(t, second, set.Source())

	require.Zero(t, first.Subscribers("title"))
	require.NoError(t, first.Set("title", "stale"))
	v, _ := label.Get("text")
	require.Equal(t, "second", v)

	require.NoError(t, set.SetSource(nil))
	require.Zero(t, second.Subscribers("title"))
}

func TestSetSourceRejectsIncompatibleSource(t *testing.T) {
	set := NewSet()
	label := newLabel()
	_, err := set.Bind("title", label, "text", Options{})
	require.NoError(t, err)

	doc := newDocument("main.c", false)
	require.NoError(t, set.SetSource(doc))

	err = set.SetSource(NewObject(map[string]any{"name": "x"}))
	require.ErrorIs(t, err, ErrUnknownProperty)
	require.Same(t, doc, set.Source())
	require.Equal(t, 1, doc.Subscribers("title"))
}

func TestBindWithTransformAndBidirectional(t *testing.T) {
	set := NewSet()
	label := newLabel()
	_, err := set.Bind("title", label, "text", Options{
		Flags: Bidirectional,
		To:    func(v any) (any, bool) { return strings.ToUpper(v.(string)), true },
		From:  func(v any) (any, bool) { return strings.ToLower(v.(string)), true },
	})
	require.NoError(t, err)

	doc := newDocument("main.c", false)
	require.NoError(t, set.SetSource(doc))
	v, _ := label.Get("text")
	require.Equal(t, "MAIN.C", v)

	require.NoError(t, label.Set("text", "README"))
	v, _ = doc.Get("title")
	require.Equal(t, "readme", v)
	v, _ = label.Get("text")
	require.Equal(t, "README", v)
}

func TestTransformCanDropUpdates(t *testing.T) {
	set := NewSet()
	label := newLabel()
	_, err := set.Bind("modified", label, "visible", Options{
		To: func(v any) (any, bool) { return v, v.(bool) },
	})
	require.NoError(t, err)

	doc := newDocument("main.c", false)
	require.NoError(t, set.SetSource(doc))
	require.NoError(t, doc.Set("modified", true))
	v, _ := label.Get("visible")
	require.Equal(t, true, v)

	require.NoError(t, doc.Set("modified", false))
	v, _ = label.Get("visible")
	require.Equal(t, true, v)
}

func TestUnbindAndRelease(t *testing.T) {
	set := NewSet()
	label := newLabel()
	title, err := set.Bind("title", label, "text", Options{Flags: Bidirectional})
	require.NoError(t, err)
	_, err = set.Bind("modified", label, "visible", Options{})
	require.NoError(t, err)

	doc := newDocument("main.c", true)
	require.NoError(t, set.SetSource(doc))

	require.True(t, set.Unbind(title))
	require.False(t, set.Unbind(title))
	require.Equal(t, 1, set.Len())
	require.Zero(t, doc.Subscribers("title"))
	require.Zero(t, label.Subscribers("text"))

	set.Release()
	require.Zero(t, doc.Subscribers("modified"))
	require.Nil(t, set.Source())
	require.Error(t, set.SetSource(doc))
	_, err = set.Bind("title", label, "text", Options{})
	require.Error(t, err)
}

func TestBindValidatesProperties(t *testing.T) {
	set := NewSet()
	label := newLabel()

	_, err := set.Bind("title", label, "missing", Options{})
	require.ErrorIs(t, err, ErrUnknownProperty)
	_, err = set.Bind("title", nil, "text", Options{})
	require.Error(t, err)

	require.NoError(t, set.SetSource(newDocument("x", false)))
	_, err = set.Bind("missing", label, "text", Options{})
	require.ErrorIs(t, err, ErrUnknownProperty)
	require.Zero(t, set.Len())
}
