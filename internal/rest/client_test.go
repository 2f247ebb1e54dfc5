package rest_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"taskbridge/internal/rest"
)

func TestClient_DecodesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/lists/", r.URL.Path)
		_ = json.NewEncoder(w).Encode([]map[string]any{{"id": 1, "title": "groceries"}})
	}))
	defer srv.Close()

	client := rest.NewClient(srv.URL)

	var out []struct {
		ID    int64  `json:"id"`
		Title string `json:"title"`
	}
	require.NoError(t, client.Do(context.Background(), http.MethodGet, "/lists/", nil, &out))
	require.Len(t, out, 1)
	require.Equal(t, "groceries", out[0].Title)
}

func TestClient_SendsJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "weekend", body["title"])
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"id": 9, "title": body["title"]})
	}))
	defer srv.Close()

	client := rest.NewClient(srv.URL)

	var out struct {
		ID int64 `json:"id"`
	}
	err := client.Do(context.Background(), http.MethodPost, "/lists/", map[string]string{"title": "weekend"}, &out)
	require.NoError(t, err)
	require.Equal(t, int64(9), out.ID)
}

func TestClient_ExtractsDetailFromError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"detail": "List not found"})
	}))
	defer srv.Close()

	client := rest.NewClient(srv.URL)

	err := client.Do(context.Background(), http.MethodDelete, "/lists/99", nil, nil)

	var apiErr *rest.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	require.Equal(t, "List not found", apiErr.Detail)
	require.Equal(t, "List not found", apiErr.Error())
}

func TestClient_ErrorWithoutDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := rest.NewClient(srv.URL)

	err := client.Do(context.Background(), http.MethodGet, "/lists/", nil, nil)

	var apiErr *rest.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Contains(t, apiErr.Error(), "500")
}

func TestClient_NoContentSkipsDecode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := rest.NewClient(srv.URL)

	var out map[string]any
	require.NoError(t, client.Do(context.Background(), http.MethodDelete, "/lists/1", nil, &out))
	require.Nil(t, out)
}

func TestClient_NetworkFailure(t *testing.T) {
	client := rest.NewClient("http://127.0.0.1:1")

	err := client.Do(context.Background(), http.MethodGet, "/lists/", nil, nil)
	require.Error(t, err)

	// Transport failures are not APIErrors.
	var apiErr *rest.APIError
	require.False(t, errors.As(err, &apiErr))
}
