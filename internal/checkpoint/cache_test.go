package checkpoint

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestCache(t *testing.T, now *time.Time) *Cache {
	t.Helper()
	cache, err := New(Options{
		Dir: t.TempDir(),
		TTL: time.Hour,
		Now: func() time.Time { return *now },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return cache
}

func TestSessionIDDeterministic(t *testing.T) {
	a := SessionID("http://localhost:8080/static/selfies/selfie_abc.png")
	b := SessionID("http://localhost:8080/static/selfies/selfie_abc.png")
	if a != b {
		t.Fatalf("same ref produced different sessions: %q vs %q", a, b)
	}
	if len(a) != 12 {
		t.Fatalf("session id length = %d, want 12", len(a))
	}
	if c := SessionID("other"); c == a {
		t.Fatalf("distinct refs collided on %q", c)
	}
}

func TestCacheRoundTrip(t *testing.T) {
	now := time.Now()
	cache := newTestCache(t, &now)

	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	if !cache.Put("abc123", "styles", payload{Name: "classic", Count: 2}) {
		t.Fatal("Put reported failure")
	}

	var got payload
	if !cache.Get("abc123", "styles", &got) {
		t.Fatal("Get missed a fresh record")
	}
	if got.Name != "classic" || got.Count != 2 {
		t.Fatalf("round trip mangled value: %+v", got)
	}

	if cache.Get("abc123", "specs_0", &got) {
		t.Fatal("Get hit a key that was never stored")
	}
	if cache.Get("other", "styles", &got) {
		t.Fatal("Get leaked across sessions")
	}
}

func TestCacheExpiryDeletesRecord(t *testing.T) {
	now := time.Now()
	cache := newTestCache(t, &now)

	cache.Put("abc123", "analysis", "cached text")

	now = now.Add(59 * time.Minute)
	var text string
	if !cache.Get("abc123", "analysis", &text) {
		t.Fatal("record expired before its TTL")
	}

	now = now.Add(2 * time.Minute)
	if cache.Get("abc123", "analysis", &text) {
		t.Fatal("record survived past its TTL")
	}
	if _, err := os.Stat(cache.path("abc123", "analysis")); !os.IsNotExist(err) {
		t.Fatal("expired record file was not deleted")
	}
}

func TestCacheClear(t *testing.T) {
	now := time.Now()
	cache := newTestCache(t, &now)

	cache.Put("abc123", "styles", 1)
	cache.Put("abc123", "specs_0", 2)
	cache.Put("other9", "styles", 3)

	cache.Clear("abc123")

	var v int
	if cache.Get("abc123", "styles", &v) || cache.Get("abc123", "specs_0", &v) {
		t.Fatal("Clear left records for the session")
	}
	if !cache.Get("other9", "styles", &v) {
		t.Fatal("Clear removed another session's records")
	}
}

func TestCacheStatus(t *testing.T) {
	now := time.Now()
	cache := newTestCache(t, &now)

	cache.Put("abc123", "styles", 1)
	cache.Put("abc123", "img_on_face_0", 2)

	status := cache.Status("abc123")
	if len(status) != len(StepKeys) {
		t.Fatalf("Status returned %d keys, want %d", len(status), len(StepKeys))
	}
	if !status["styles"] || !status["img_on_face_0"] {
		t.Fatalf("Status missed stored steps: %v", status)
	}
	if status["analysis"] || status["img_product_1"] {
		t.Fatalf("Status reported absent steps as done: %v", status)
	}
}

func TestSweepExpired(t *testing.T) {
	now := time.Now()
	cache := newTestCache(t, &now)

	cache.Put("olds", "styles", 1)
	now = now.Add(2 * time.Hour)
	cache.Put("fresh", "styles", 2)

	// Unparsable files count as expired.
	junk := filepath.Join(cache.dir, "junk_record.json")
	if err := os.WriteFile(junk, []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	if removed := cache.SweepExpired(); removed != 2 {
		t.Fatalf("SweepExpired removed %d, want 2", removed)
	}
	var v int
	if !cache.Get("fresh", "styles", &v) {
		t.Fatal("sweep removed a live record")
	}
}

func TestSanitizeBlocksTraversal(t *testing.T) {
	now := time.Now()
	cache := newTestCache(t, &now)

	path := cache.path("../../etc", "styles")
	if filepath.Dir(path) != cache.dir {
		t.Fatalf("path escaped cache dir: %s", path)
	}
}
