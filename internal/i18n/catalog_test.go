package i18n

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func TestTranslate(t *testing.T) {
	c := New(language.English)
	require.NoError(t, c.Add("en", map[string]string{"title_error_404": "Not found"}))
	require.NoError(t, c.Add("de", map[string]string{"title_error_404": "Nicht gefunden"}))
	require.NoError(t, c.Add("ru", map[string]string{"greeting": "Привет"}))

	tests := []struct {
		name   string
		accept string
		key    string
		want   string
	}{
		{name: "exact", accept: "de", key: "title_error_404", want: "Nicht gefunden"},
		{name: "regional", accept: "de-CH,de;q=0.9", key: "title_error_404", want: "Nicht gefunden"},
		{name: "weighted", accept: "fr;q=0.9,de;q=0.8", key: "title_error_404", want: "Nicht gefunden"},
		{name: "missing key falls back to default language", accept: "ru", key: "title_error_404", want: "Not found"},
		{name: "unknown language", accept: "ja", key: "title_error_404", want: "Not found"},
		{name: "no header", key: "title_error_404", want: "Not found"},
		{name: "unknown key", accept: "de", key: "nope", want: "fallback"},
		{name: "garbage header", accept: "@@@", key: "title_error_404", want: "Not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Translate(tt.accept, tt.key, "fallback"))
		})
	}
}

func TestAddMergesAndRejectsBadTags(t *testing.T) {
	c := New(language.English)
	require.NoError(t, c.Add("de", map[string]string{"a": "1"}))
	require.NoError(t, c.Add("de", map[string]string{"b": "2"}))

	assert.Equal(t, []string{"en", "de"}, c.Languages())
	assert.Equal(t, "1", c.Translate("de", "a", ""))
	assert.Equal(t, "2", c.Translate("de", "b", ""))

	assert.Error(t, c.Add("not a language!", nil))
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.yaml")
	require.NoError(t, os.WriteFile(path, []byte("de:\n  title_error_404: Nicht gefunden\n"), 0o600))

	c := New(language.English)
	require.NoError(t, c.LoadFile(path))
	assert.Equal(t, "Nicht gefunden", c.Translate("de", "title_error_404", "Not found"))

	assert.Error(t, c.LoadFile(filepath.Join(t.TempDir(), "missing.yaml")))
}
