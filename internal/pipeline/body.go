package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin/binding"
)

// Body parsing errors.
var (
	ErrBodyTooLarge  = errors.New("request body too large")
	ErrMalformedBody = errors.New("malformed request body")
)

const multipartMemory = 32 << 20

func parseBody(w http.ResponseWriter, r *http.Request, limit int64) (map[string]any, map[string][]*multipart.FileHeader, []byte, error) {
	if r.Body == nil || r.Body == http.NoBody || r.Method == http.MethodGet || r.Method == http.MethodHead {
		return map[string]any{}, nil, nil, nil
	}
	if r.ContentLength > limit {
		return nil, nil, nil, ErrBodyTooLarge
	}

	mediaType := ""
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mt, _, err := mime.ParseMediaType(ct)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("%w: content type: %v", ErrMalformedBody, err)
		}
		mediaType = mt
	}

	switch mediaType {
	case "application/json":
		raw, err := readLimited(r.Body, limit)
		if err != nil {
			return nil, nil, nil, err
		}
		post, err := decodeJSONObject(raw)
		return post, nil, raw, err

	case "application/x-www-form-urlencoded":
		raw, err := readLimited(r.Body, limit)
		if err != nil {
			return nil, nil, nil, err
		}
		values := map[string][]string{}
		if err := binding.FormPost.Bind(formRequest(r, raw), &values); err != nil {
			return nil, nil, nil, fmt.Errorf("%w: %v", ErrMalformedBody, err)
		}
		return flatten(values), nil, raw, nil

	case "multipart/form-data":
		// binding.FormMultipart maps into structs only; the file headers
		// are read straight off the parsed form.
		r.Body = http.MaxBytesReader(w, r.Body, limit)
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				return nil, nil, nil, ErrBodyTooLarge
			}
			return nil, nil, nil, fmt.Errorf("%w: %v", ErrMalformedBody, err)
		}
		return flatten(r.MultipartForm.Value), r.MultipartForm.File, nil, nil

	default:
		raw, err := readLimited(r.Body, limit)
		if err != nil {
			return nil, nil, nil, err
		}
		return map[string]any{}, nil, raw, nil
	}
}

// formRequest carries only the body so form binding ignores the method and
// the URL query.
func formRequest(r *http.Request, raw []byte) *http.Request {
	return &http.Request{
		Method:        http.MethodPost,
		URL:           &url.URL{},
		Header:        http.Header{"Content-Type": r.Header.Values("Content-Type")},
		Body:          io.NopCloser(bytes.NewReader(raw)),
		ContentLength: int64(len(raw)),
	}
}

func readLimited(body io.Reader, limit int64) ([]byte, error) {
	raw, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(raw)) > limit {
		return nil, ErrBodyTooLarge
	}
	return raw, nil
}

func decodeJSONObject(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var post map[string]any
	if err := sonic.Unmarshal(raw, &post); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}
	if post == nil {
		post = map[string]any{}
	}
	return post, nil
}

// flatten keeps single values as strings and repeated keys as slices.
func flatten(values map[string][]string) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		switch len(v) {
		case 0:
			out[k] = ""
		case 1:
			out[k] = v[0]
		default:
			out[k] = append([]string(nil), v...)
		}
	}
	return out
}
