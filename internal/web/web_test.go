package web

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestHandle(t *testing.T) {
	errBoom := errors.New("boom")

	tests := []struct {
		name        string
		handler     HandlerFunc
		wantCode    int
		wantBody    string
		contentType string
		wantLogged  bool
	}{
		{
			name: "success passes through",
			handler: func(w http.ResponseWriter, r *http.Request) error {
				return Text(w, http.StatusOK, "ok")
			},
			wantCode:    http.StatusOK,
			wantBody:    "ok",
			contentType: "text/plain; charset=utf-8",
		},
		{
			name: "error before write answers 500",
			handler: func(w http.ResponseWriter, r *http.Request) error {
				return errBoom
			},
			wantCode:    http.StatusInternalServerError,
			wantBody:    `{"error":"Internal Server Error"}`,
			contentType: "application/json",
			wantLogged:  true,
		},
		{
			name: "error after write keeps the response",
			handler: func(w http.ResponseWriter, r *http.Request) error {
				if err := Text(w, http.StatusAccepted, "accepted"); err != nil {
					return err
				}
				return errBoom
			},
			wantCode:    http.StatusAccepted,
			wantBody:    "accepted",
			contentType: "text/plain; charset=utf-8",
			wantLogged:  true,
		},
		{
			name: "error after headers only keeps the status",
			handler: func(w http.ResponseWriter, r *http.Request) error {
				w.WriteHeader(http.StatusNoContent)
				return errBoom
			},
			wantCode:   http.StatusNoContent,
			wantBody:   "",
			wantLogged: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, observed := observer.New(zap.DebugLevel)

			rec := httptest.NewRecorder()
			Handle(zap.New(core), tt.handler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/things", nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantBody, strings.TrimSpace(rec.Body.String()))
			if tt.contentType != "" {
				assert.Equal(t, tt.contentType, rec.Header().Get("Content-Type"))
			}

			entries := observed.FilterMessage("Unhandled handler error").All()
			if !tt.wantLogged {
				assert.Empty(t, entries)
				return
			}
			require.Len(t, entries, 1)
			fields := entries[0].ContextMap()
			assert.Equal(t, http.MethodGet, fields["method"])
			assert.Equal(t, "/things", fields["path"])
			assert.Equal(t, "boom", fields["error"])
		})
	}
}

func TestHandle_MiddlewareSeesHandlerError(t *testing.T) {
	errBoom := errors.New("boom")
	var seen error

	observe := func(next HandlerFunc) HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) error {
			seen = next(w, r)
			return seen
		}
	}
	h := func(w http.ResponseWriter, r *http.Request) error { return errBoom }

	rec := httptest.NewRecorder()
	Handle(zap.NewNop(), h, observe).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.ErrorIs(t, seen, errBoom)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestChain_Order(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(w http.ResponseWriter, r *http.Request) error {
				order = append(order, name+" in")
				err := next(w, r)
				order = append(order, name+" out")
				return err
			}
		}
	}
	h := func(w http.ResponseWriter, r *http.Request) error {
		order = append(order, "handler")
		return nil
	}

	err := Chain(h, mw("outer"), mw("inner"))(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	require.NoError(t, err)
	assert.Equal(t, []string{"outer in", "inner in", "handler", "inner out", "outer out"}, order)
}

func TestJSON(t *testing.T) {
	rec := httptest.NewRecorder()

	require.NoError(t, JSON(rec, http.StatusCreated, map[string]string{"path": "/chain"}))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"path":"/chain"}`, rec.Body.String())
}
