package binding

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestObjectSetNotifiesSubscribersInOrder(t *testing.T) {
	o := NewObject(map[string]any{"title": ""})

	var got []string
	s1, err := o.Subscribe("title", func(v any) { got = append(got, "a:"+v.(string)) })
	require.NoError(t, err)
	_, err = o.Subscribe("title", func(v any) { got = append(got, "b:"+v.(string)) })
	require.NoError(t, err)

	require.NoError(t, o.Set("title", "main.c"))
	require.NoError(t, o.Set("title", "main.c"))
	require.Equal(t, []string{"a:main.c", "b:main.c"}, got)

	s1.Close()
	s1.Close()
	require.NoError(t, o.Set("title", "util.c"))
	require.Equal(t, []string{"a:main.c", "b:main.c", "b:util.c"}, got)
	require.Equal(t, 1, o.Subscribers("title"))

	v, ok := o.Get("title")
	require.True(t, ok)
	require.Equal(t, "util.c", v)
}

func TestObjectRejectsUnknownProperties(t *testing.T) {
	o := NewObject(map[string]any{"title": ""})

	require.ErrorIs(t, o.Set("missing", 1), ErrUnknownProperty)
	_, err := o.Subscribe("missing", func(any) {})
	require.ErrorIs(t, err, ErrUnknownProperty)
	require.False(t, o.Has("missing"))
}
