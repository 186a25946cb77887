package secrets

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestEnvSource(t *testing.T) {
	t.Setenv("GOOGLE_SHEETS_CREDENTIALS", `{"type":"service_account"}`)

	value, err := EnvSource{}.Get(context.Background(), "google-sheets-credentials")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value != `{"type":"service_account"}` {
		t.Errorf("unexpected value %q", value)
	}
}

func TestEnvSourceMissing(t *testing.T) {
	_, err := EnvSource{}.Get(context.Background(), "secret-that-does-not-exist")
	if err == nil {
		t.Fatal("expected error for missing secret")
	}
}

func TestManagerClientGet(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"payload": map[string]string{
				"data": base64.StdEncoding.EncodeToString([]byte("hunter2")),
			},
		})
	}))
	defer srv.Close()

	client := newManagerClientForTest(srv.URL, "my-project", StaticToken("tok"))
	value, err := client.Get(context.Background(), "google-sheets-credentials")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value != "hunter2" {
		t.Errorf("unexpected secret value %q", value)
	}
	if gotPath != "/projects/my-project/secrets/google-sheets-credentials/versions/latest:access" {
		t.Errorf("unexpected path %s", gotPath)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("unexpected auth header %q", gotAuth)
	}
}

func TestManagerClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	client := newManagerClientForTest(srv.URL, "my-project", StaticToken("tok"))
	_, err := client.Get(context.Background(), "nope")
	if err == nil {
		t.Fatal("expected error")
	}
}
