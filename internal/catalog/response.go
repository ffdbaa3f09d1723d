package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
)

// responseKind tags the shape of a chunk response.
type responseKind int

const (
	kindNotFound responseKind = iota
	kindSingle
	kindMany
)

// chunkResponse is a decoded chunk: a single object (one id requested), an
// array, or nothing when the catalog answered 404.
type chunkResponse[T any] struct {
	kind   responseKind
	single T
	many   []T
}

// Items normalizes every shape to a slice.
func (r chunkResponse[T]) Items() []T {
	switch r.kind {
	case kindSingle:
		return []T{r.single}
	case kindMany:
		return r.many
	default:
		return nil
	}
}

// StatusError is returned for any non-success, non-404 catalog response.
type StatusError struct {
	StatusCode int
	Path       string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("catalog returned status %d for %s: %s", e.StatusCode, e.Path, e.Body)
}

// maxErrorBody caps how much of an error body is kept on a StatusError.
const maxErrorBody = 512

// decodeChunk interprets one catalog answer.
func decodeChunk[T any](status int, path string, body []byte) (chunkResponse[T], error) {
	var resp chunkResponse[T]

	if status == http.StatusNotFound {
		resp.kind = kindNotFound
		return resp, nil
	}
	if status < 200 || status > 299 {
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return resp, &StatusError{StatusCode: status, Path: path, Body: string(body)}
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &resp.many); err != nil {
			return resp, fmt.Errorf("decode catalog response for %s: %w", path, err)
		}
		resp.kind = kindMany
		return resp, nil
	}

	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		resp.kind = kindNotFound
		return resp, nil
	}
	if err := json.Unmarshal(trimmed, &resp.single); err != nil {
		return resp, fmt.Errorf("decode catalog response for %s: %w", path, err)
	}
	resp.kind = kindSingle
	return resp, nil
}
