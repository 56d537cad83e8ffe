package pipeline

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticTranslator map[string]string

func (s staticTranslator) Translate(lang, key, fallback string) string {
	if v, ok := s[lang+":"+key]; ok {
		return v
	}
	return fallback
}

type staticSources map[string]any

func (s staticSources) Get(name string) (any, bool) {
	v, ok := s[name]
	return v, ok
}

func TestRespondWritesOnce(t *testing.T) {
	w := httptest.NewRecorder()
	rc := NewRequestContext(w, httptest.NewRequest(http.MethodGet, "/", nil), ContextOptions{})

	require.NoError(t, rc.Respond(map[string]int{"n": 1}, 0, nil))
	assert.ErrorIs(t, rc.Respond("second", http.StatusTeapot, nil), ErrAlreadyResponded)
	assert.ErrorIs(t, rc.Fail(assert.AnError), ErrAlreadyResponded)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, http.StatusOK, rc.Status())
	assert.JSONEq(t, `{"n":1}`, w.Body.String())
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	select {
	case <-rc.Responded():
	default:
		t.Fatal("Responded not closed")
	}
}

func TestRespondKeepsExplicitContentType(t *testing.T) {
	w := httptest.NewRecorder()
	rc := NewRequestContext(w, httptest.NewRequest(http.MethodGet, "/", nil), ContextOptions{})

	require.NoError(t, rc.Respond(map[string]int{"n": 1}, 0, map[string]string{"Content-Type": "application/vnd.api+json"}))
	assert.Equal(t, "application/vnd.api+json", w.Header().Get("Content-Type"))
}

func TestContextIPAndParams(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/p?a=1&a=2&b=x", nil)
	req.RemoteAddr = "10.0.0.7:51234"
	rc := NewRequestContext(httptest.NewRecorder(), req, ContextOptions{})

	assert.Equal(t, "10.0.0.7", rc.IP)
	assert.Equal(t, "/p", rc.Path)
	assert.Equal(t, "1", rc.Param("a"))
	assert.Equal(t, []string{"1", "2"}, rc.Params()["a"])

	rc = NewRequestContext(httptest.NewRecorder(), req, ContextOptions{IP: "203.0.113.1"})
	assert.Equal(t, "203.0.113.1", rc.IP)
}

func TestI18nAndDAL(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Language", "de")
	rc := NewRequestContext(httptest.NewRecorder(), req, ContextOptions{
		Translator:  staticTranslator{"de:title_error_404": "Nicht gefunden"},
		DataSources: staticSources{"main": "db-handle"},
	})

	assert.Equal(t, "Nicht gefunden", rc.I18n("title_error_404", "Not found"))
	assert.Equal(t, "fallback", rc.I18n("missing", "fallback"))

	v, ok := rc.DAL("main")
	assert.True(t, ok)
	assert.Equal(t, "db-handle", v)
	_, ok = rc.DAL("other")
	assert.False(t, ok)

	bare := NewRequestContext(httptest.NewRecorder(), req, ContextOptions{})
	assert.Equal(t, "Not found", bare.I18n("title_error_404", "Not found"))
	_, ok = bare.DAL("main")
	assert.False(t, ok)
}

func TestPostBodyTooLarge(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"a":"`+strings.Repeat("x", 64)+`"}`))
	req.Header.Set("Content-Type", "application/json")
	rc := NewRequestContext(httptest.NewRecorder(), req, ContextOptions{MaxBodyBytes: 16})

	assert.ErrorIs(t, rc.ParsePost(), ErrBodyTooLarge)
	assert.Empty(t, rc.Post())
}

func TestPostMultipart(t *testing.T) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("name", "report"))
	fw, err := mw.CreateFormFile("upload", "data.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte("payload"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rc := NewRequestContext(httptest.NewRecorder(), req, ContextOptions{})

	require.NoError(t, rc.ParsePost())
	assert.Equal(t, "report", rc.Post()["name"])
	require.Len(t, rc.Files()["upload"], 1)
	assert.Equal(t, "data.txt", rc.Files()["upload"][0].Filename)
}

func TestPostRawBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("plain text"))
	req.Header.Set("Content-Type", "text/plain")
	rc := NewRequestContext(httptest.NewRecorder(), req, ContextOptions{})

	require.NoError(t, rc.ParsePost())
	assert.Empty(t, rc.Post())
	assert.Equal(t, "plain text", string(rc.RawBody()))
}

func TestWithPoolingFlag(t *testing.T) {
	tests := []struct {
		name   string
		target string
		body   string
		want   bool
	}{
		{name: "query one", target: "/?withPooling=1", want: true},
		{name: "query true", target: "/?withPooling=true", want: true},
		{name: "query false", target: "/?withPooling=false", want: false},
		{name: "query zero", target: "/?withPooling=0", want: false},
		{name: "post bool", target: "/", body: `{"withPooling":true}`, want: true},
		{name: "post number", target: "/", body: `{"withPooling":0}`, want: false},
		{name: "absent", target: "/", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method := http.MethodGet
			var body *strings.Reader
			if tt.body != "" {
				method = http.MethodPost
				body = strings.NewReader(tt.body)
			}
			var req *http.Request
			if body != nil {
				req = httptest.NewRequest(method, tt.target, body)
				req.Header.Set("Content-Type", "application/json")
			} else {
				req = httptest.NewRequest(method, tt.target, nil)
			}
			rc := NewRequestContext(httptest.NewRecorder(), req, ContextOptions{})
			assert.Equal(t, tt.want, rc.withPooling())
		})
	}
}
