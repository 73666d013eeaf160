package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"studysync/pkg/types"
)

func passageServer(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/verses/ROM/8/28" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"verses": []types.Verse{{Reference: "Romans 8:28", Number: 28, Text: "And we know that all things work together for good"}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}
