package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/maxsupermanhd/SlideChunk/primitives"
)

func apiHandle(f func(http.ResponseWriter, *http.Request) (int, string)) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		code, content := f(w, r)
		setServerHeaders(w)
		w.WriteHeader(code)
		w.Write([]byte(content))
	}
}

func setServerHeaders(w http.ResponseWriter) {
	w.Header().Set("Server", "SlideChunk "+CommitHash)
	w.Header().Set("Cache-Control", "no-cache")
}

func marshalOrFail(code int, content interface{}) (int, string) {
	resp, err := json.Marshal(content)
	if err != nil {
		return 500, "JSON serialization failed: " + err.Error()
	}
	return code, string(resp) + "\n"
}

func setContentTypeJson(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
}

func errorStatus(err error) int {
	switch primitives.KindOf(err) {
	case primitives.ErrNotFound:
		return http.StatusNotFound
	case primitives.ErrUnsupportedFormat:
		return http.StatusUnsupportedMediaType
	case primitives.ErrCacheMissing:
		return http.StatusConflict
	case primitives.ErrFormat, primitives.ErrDecode:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

type apiError struct {
	Error string                     `json:"error"`
	Kind  string                     `json:"kind,omitempty"`
	Chunk *primitives.TileDescriptor `json:"chunk,omitempty"`
}

func respondError(w http.ResponseWriter, err error) (int, string) {
	setContentTypeJson(w)
	resp := apiError{Error: err.Error()}
	if k := primitives.KindOf(err); k != nil {
		resp.Kind = k.Error()
	}
	var terr *primitives.TileError
	if errors.As(err, &terr) {
		resp.Chunk = &terr.Tile
	}
	return marshalOrFail(errorStatus(err), resp)
}
