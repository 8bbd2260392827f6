package builtin_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"context"

	"github.com/stretchr/testify/require"

	"github.com/mel-run/taskflow/internal/handler/builtin"
	"github.com/mel-run/taskflow/internal/model"
)

func TestHTTPCallHandler_SuccessfulGET(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	h := builtin.HTTPCallHandler{}
	out, err := h.Execute(context.Background(), model.JSONMap{"url": srv.URL, "method": "GET"}, model.JSONMap{}, time.Second)
	require.NoError(t, err)
	require.Equal(t, 200, out["status_code"])
	require.Contains(t, out["body"], "ok")
}

func TestHTTPCallHandler_NonOKStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	h := builtin.HTTPCallHandler{}
	_, err := h.Execute(context.Background(), model.JSONMap{"url": srv.URL}, model.JSONMap{}, time.Second)
	require.Error(t, err)
}

func TestHTTPCallHandler_MissingURL(t *testing.T) {
	h := builtin.HTTPCallHandler{}
	_, err := h.Execute(context.Background(), model.JSONMap{}, model.JSONMap{}, 0)
	require.Error(t, err)
}

func TestHTTPCallHandler_TimeoutEnforcedByHandler(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(200 * time.Millisecond):
		case <-r.Context().Done():
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h := builtin.HTTPCallHandler{}
	_, err := h.Execute(context.Background(), model.JSONMap{"url": srv.URL}, model.JSONMap{}, 10*time.Millisecond)
	require.Error(t, err)
}
