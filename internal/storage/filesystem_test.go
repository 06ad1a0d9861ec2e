package storage

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestUploadSelfieDataURI(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, "http://localhost:8080/static")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	raw := []byte("pretend png bytes")
	payload := "data:image/png;base64," + base64.StdEncoding.EncodeToString(raw)

	res, err := store.UploadSelfie(context.Background(), payload)
	if err != nil {
		t.Fatalf("UploadSelfie: %v", err)
	}
	if !strings.HasPrefix(res.Key, "selfies/selfie_") || !strings.HasSuffix(res.Key, ".png") {
		t.Fatalf("key = %q", res.Key)
	}
	if res.URL != "http://localhost:8080/static/"+res.Key {
		t.Fatalf("url = %q", res.URL)
	}

	stored, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(res.Key)))
	if err != nil {
		t.Fatalf("read stored file: %v", err)
	}
	if string(stored) != string(raw) {
		t.Fatal("stored bytes differ from the payload")
	}
}

func TestUploadSelfieBareBase64DefaultsToJPEG(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), "http://localhost:8080/static")
	if err != nil {
		t.Fatal(err)
	}

	res, err := store.UploadSelfie(context.Background(), base64.StdEncoding.EncodeToString([]byte("jpeg bytes")))
	if err != nil {
		t.Fatalf("UploadSelfie: %v", err)
	}
	if !strings.HasSuffix(res.Key, ".jpg") {
		t.Fatalf("key = %q, want .jpg extension", res.Key)
	}
}

func TestUploadSelfieRejectsBadPayload(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.UploadSelfie(context.Background(), ""); err == nil {
		t.Fatal("empty payload accepted")
	}
	if _, err := store.UploadSelfie(context.Background(), "not base64!!!"); err == nil {
		t.Fatal("invalid base64 accepted")
	}
	if _, err := store.UploadSelfie(context.Background(), "data:image/png|missing-comma"); err == nil {
		t.Fatal("malformed data URI accepted")
	}
}

func TestFetchOwnURLReadsDisk(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), "http://localhost:8080/static")
	if err != nil {
		t.Fatal(err)
	}

	raw := []byte("selfie bytes")
	uploaded, err := store.UploadSelfie(context.Background(), base64.StdEncoding.EncodeToString(raw))
	if err != nil {
		t.Fatal(err)
	}

	got, err := store.Fetch(context.Background(), uploaded.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(got) != string(raw) {
		t.Fatal("fetched bytes differ from the upload")
	}
}

func TestFetchDataURI(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), "")
	if err != nil {
		t.Fatal(err)
	}

	got, err := store.Fetch(context.Background(), "data:image/png;base64,"+base64.StdEncoding.EncodeToString([]byte("inline")))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(got) != "inline" {
		t.Fatalf("fetched %q", got)
	}
}

func TestFetchRemoteURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("remote bytes"))
	}))
	defer srv.Close()

	store, err := NewFileStore(t.TempDir(), "http://localhost:8080/static")
	if err != nil {
		t.Fatal(err)
	}

	got, err := store.Fetch(context.Background(), srv.URL+"/image.png")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(got) != "remote bytes" {
		t.Fatalf("fetched %q", got)
	}
}

func TestFetchRemoteErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	store, err := NewFileStore(t.TempDir(), "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Fetch(context.Background(), srv.URL+"/missing.png"); err == nil {
		t.Fatal("404 download reported no error")
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), "")
	if err != nil {
		t.Fatal(err)
	}

	uploaded, err := store.UploadSelfie(context.Background(), base64.StdEncoding.EncodeToString([]byte("x")))
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(context.Background(), uploaded.Key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Delete(context.Background(), uploaded.Key); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
}

func TestSanitizeKeyBlocksTraversal(t *testing.T) {
	if _, err := sanitizeKey("../../etc/passwd"); err == nil {
		t.Fatal("traversal key accepted")
	}
	if _, err := sanitizeKey(""); err == nil {
		t.Fatal("empty key accepted")
	}
	got, err := sanitizeKey("/selfies/./selfie_a.png")
	if err != nil {
		t.Fatalf("sanitizeKey: %v", err)
	}
	if got != "selfies/selfie_a.png" {
		t.Fatalf("sanitized = %q", got)
	}
}
