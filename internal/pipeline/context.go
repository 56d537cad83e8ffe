package pipeline

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/pipeserve/internal/infrastructure/logging"
	"github.com/GriffinCanCode/pipeserve/internal/shared/id"
)

// ErrAlreadyResponded is returned by a second attempt to write a response.
var ErrAlreadyResponded = errors.New("response already written")

// DefaultMaxBodyBytes caps post bodies when no limit is configured.
const DefaultMaxBodyBytes int64 = 10 << 20

// ContextOptions carries the per-server collaborators of a request.
type ContextOptions struct {
	IP           string
	MaxBodyBytes int64
	Logger       *logging.Logger
	Translator   Translator
	DataSources  DataSources
}

// RequestContext is the per-request view handed to middleware and handlers.
// It writes at most one response.
type RequestContext struct {
	ID      id.RequestID
	Request *http.Request
	Writer  http.ResponseWriter
	Path    string
	IP      string
	Headers http.Header

	params url.Values
	module *Module

	maxBody  int64
	postOnce sync.Once
	post     map[string]any
	files    map[string][]*multipart.FileHeader
	raw      []byte
	postErr  error

	responseFree atomic.Bool
	written      atomic.Bool
	responded    chan struct{}
	status       atomic.Int32

	logger     *logging.Logger
	translator Translator
	sources    DataSources
}

// NewRequestContext adapts a raw request and response writer.
func NewRequestContext(w http.ResponseWriter, r *http.Request, opts ContextOptions) *RequestContext {
	rid := id.NewRequestID()

	ip := opts.IP
	if ip == "" {
		ip = remoteIP(r.RemoteAddr)
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	return &RequestContext{
		ID:         rid,
		Request:    r,
		Writer:     w,
		Path:       r.URL.Path,
		IP:         ip,
		Headers:    r.Header,
		params:     r.URL.Query(),
		maxBody:    maxBody,
		responded:  make(chan struct{}),
		logger:     logger.With(zap.String("request_id", rid.String())),
		translator: opts.Translator,
		sources:    opts.DataSources,
	}
}

func remoteIP(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// Context returns the request's context.
func (rc *RequestContext) Context() context.Context {
	return rc.Request.Context()
}

// Module returns the route being executed, or nil before resolution.
func (rc *RequestContext) Module() *Module {
	return rc.module
}

// Meta returns the route configuration.
func (rc *RequestContext) Meta() Meta {
	if rc.module == nil {
		return Meta{}
	}
	return rc.module.Meta
}

// Logger returns a logger tagged with the request id.
func (rc *RequestContext) Logger() *logging.Logger {
	return rc.logger
}

// Param returns the first query value for name.
func (rc *RequestContext) Param(name string) string {
	return rc.params.Get(name)
}

// detach returns a copy for work that outlives the response, such as a
// deferred pooled handler. Its context is never cancelled and it cannot
// write to the client.
func (rc *RequestContext) detach() *RequestContext {
	_ = rc.ParsePost()

	d := &RequestContext{
		ID:         rc.ID,
		Request:    rc.Request.WithContext(context.WithoutCancel(rc.Context())),
		Writer:     detachedWriter{header: make(http.Header)},
		Path:       rc.Path,
		IP:         rc.IP,
		Headers:    rc.Headers,
		params:     rc.params,
		module:     rc.module,
		maxBody:    rc.maxBody,
		post:       rc.post,
		files:      rc.files,
		raw:        rc.raw,
		postErr:    rc.postErr,
		responded:  make(chan struct{}),
		logger:     rc.logger,
		translator: rc.translator,
		sources:    rc.sources,
	}
	d.postOnce.Do(func() {})
	d.written.Store(true)
	close(d.responded)
	return d
}

// detachedWriter swallows writes from handlers that run after the response.
type detachedWriter struct {
	header http.Header
}

func (w detachedWriter) Header() http.Header         { return w.header }
func (w detachedWriter) Write(b []byte) (int, error) { return len(b), nil }
func (w detachedWriter) WriteHeader(int)             {}

// Params returns all query values.
func (rc *RequestContext) Params() url.Values {
	return rc.params
}

// ParsePost parses the request body once. Later calls return the first
// outcome.
func (rc *RequestContext) ParsePost() error {
	rc.postOnce.Do(func() {
		rc.post, rc.files, rc.raw, rc.postErr = parseBody(rc.Writer, rc.Request, rc.maxBody)
	})
	return rc.postErr
}

// Post returns the parsed body fields. It is empty when parsing failed.
func (rc *RequestContext) Post() map[string]any {
	if err := rc.ParsePost(); err != nil || rc.post == nil {
		return map[string]any{}
	}
	return rc.post
}

// PostValue returns one body field.
func (rc *RequestContext) PostValue(name string) (any, bool) {
	v, ok := rc.Post()[name]
	return v, ok
}

// Files returns uploaded multipart files.
func (rc *RequestContext) Files() map[string][]*multipart.FileHeader {
	_ = rc.ParsePost()
	return rc.files
}

// RawBody returns the body of a request whose content type is neither JSON
// nor a form.
func (rc *RequestContext) RawBody() []byte {
	_ = rc.ParsePost()
	return rc.raw
}

// SetResponseFree tells the pipeline the handler writes the response itself
// through Respond.
func (rc *RequestContext) SetResponseFree(free bool) {
	rc.responseFree.Store(free)
}

// ResponseFree reports whether the pipeline should leave the response alone.
func (rc *RequestContext) ResponseFree() bool {
	return rc.responseFree.Load()
}

// Responded is closed once a response has been written.
func (rc *RequestContext) Responded() <-chan struct{} {
	return rc.responded
}

// Status returns the written status code, or 0 before a response.
func (rc *RequestContext) Status() int {
	return int(rc.status.Load())
}

// Respond writes data with status and headers. Strings and byte slices are
// written as is; other values are encoded as JSON. Only the first call
// writes anything.
func (rc *RequestContext) Respond(data any, status int, headers map[string]string) error {
	if !rc.written.CompareAndSwap(false, true) {
		return ErrAlreadyResponded
	}
	defer close(rc.responded)

	body, contentType, err := encodeBody(data)
	if err != nil {
		rc.logger.Error("failed to encode response", zap.Error(err))
		body, contentType = errorBody(err), jsonContentType
		status = http.StatusOK
	}

	h := rc.Writer.Header()
	for k, v := range headers {
		h.Set(k, v)
	}
	if contentType != "" && h.Get("Content-Type") == "" {
		h.Set("Content-Type", contentType)
	}
	if status == 0 {
		status = http.StatusOK
	}
	rc.status.Store(int32(status))

	rc.Writer.WriteHeader(status)
	if len(body) > 0 {
		if _, err := rc.Writer.Write(body); err != nil {
			rc.logger.Debug("response write failed", zap.Error(err))
		}
	}
	return nil
}

// Fail writes {"error": message}. A *Failure supplies status and headers;
// anything else is sent with status 200.
func (rc *RequestContext) Fail(err error) error {
	res := normalize(Err(err))
	return rc.Respond(res.Data, res.Status, res.Headers)
}

// I18n looks up a localized string for the request's preferred language.
func (rc *RequestContext) I18n(key, fallback string) string {
	if rc.translator == nil {
		return fallback
	}
	return rc.translator.Translate(rc.Headers.Get("Accept-Language"), key, fallback)
}

// DAL returns a loaded data access layer by name.
func (rc *RequestContext) DAL(name string) (any, bool) {
	if rc.sources == nil {
		return nil, false
	}
	return rc.sources.Get(name)
}

// poolingID returns the requested pooling id from the query or the body.
func (rc *RequestContext) poolingID() string {
	if v := rc.Param("poolingId"); v != "" {
		return v
	}
	v, ok := rc.PostValue("poolingId")
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// withPooling reports whether the client asked for a deferred response.
func (rc *RequestContext) withPooling() bool {
	if v := rc.Param("withPooling"); v != "" {
		return truthy(v)
	}
	v, ok := rc.PostValue("withPooling")
	if !ok {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return truthy(t)
	case float64:
		return t != 0
	case nil:
		return false
	default:
		return true
	}
}

func truthy(s string) bool {
	s = strings.TrimSpace(s)
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s != "" && s != "0"
}

const jsonContentType = "application/json"

func encodeBody(data any) ([]byte, string, error) {
	switch v := data.(type) {
	case nil:
		return nil, "", nil
	case []byte:
		return v, "", nil
	case string:
		return []byte(v), "", nil
	default:
		b, err := sonic.Marshal(v)
		if err != nil {
			return nil, "", err
		}
		return b, jsonContentType, nil
	}
}

func errorBody(err error) []byte {
	b, mErr := sonic.Marshal(map[string]string{"error": err.Error()})
	if mErr != nil {
		return []byte(`{"error":"internal error"}`)
	}
	return b
}
