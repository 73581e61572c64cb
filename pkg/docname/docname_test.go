package docname

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"/my-doc", "my-doc"},
		{"my-doc", "my-doc"},
		{"/ws/my-doc", "my-doc"},
		{"/api/my-doc", "my-doc"},
		{"/socket/my-doc", "my-doc"},
		{"/ws/api/my-doc", "my-doc"},
		{"/notes/2024", "notes/2024"},
		{"/hello%20world", "hello world"},
		{"/a%2Fb", "a/b"},
		{"/100%", "100%"},
		{"//my-doc//", "my-doc"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Normalize(c.raw, "default-doc"), "raw=%q", c.raw)
	}
}

func TestNormalizeEmptyFallsBackToDefault(t *testing.T) {
	for _, raw := range []string{"", "/", "//", "/ws/", "/api/", "/ws/api/"} {
		assert.Equal(t, "default-doc", Normalize(raw, "default-doc"), "raw=%q", raw)
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	paths := []string{
		"/my-doc",
		"/ws/my-doc",
		"/hello%20world",
		"/hello%2520world",
		"/a%2Fb",
		"/ws%2Fhidden",
		"/100%",
		"/api/api/doc",
		"",
		"/%zz",
	}
	for _, p := range paths {
		once := Normalize(p, "default-doc")
		assert.Equal(t, once, Normalize(once, "default-doc"), "raw=%q", p)
	}
}

func TestNormalizeEquivalentEncodingsCollide(t *testing.T) {
	assert.Equal(t, Normalize("/hello%20world", "d"), Normalize("/hello world", "d"))
	assert.Equal(t, Normalize("/my-doc", "d"), Normalize("/ws/my-doc", "d"))
}
