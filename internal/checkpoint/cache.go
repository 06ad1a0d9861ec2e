package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"server/internal/infra"
)

// DefaultTTL bounds how long a checkpoint is considered valid.
const DefaultTTL = time.Hour

// StepKeys lists every checkpoint key one session can accumulate, in
// pipeline order.
var StepKeys = []string{
	"analysis",
	"styles",
	"specs_0",
	"specs_1",
	"img_on_face_0",
	"img_product_0",
	"img_on_face_1",
	"img_product_1",
}

// Options configures a Cache.
type Options struct {
	Dir    string
	TTL    time.Duration
	Logger *infra.Logger
	Now    func() time.Time
}

// Cache is a filesystem-backed, TTL-bound checkpoint store. Each record lives
// in its own JSON file named {session}_{key}.json so a crashed or retried run
// can resume individual pipeline steps without redoing completed work. There
// is no cross-process locking; the pipeline is the sole expected writer for a
// given session at a time and concurrent writes degrade to last-write-wins.
type Cache struct {
	dir    string
	ttl    time.Duration
	logger *infra.Logger
	now    func() time.Time
}

// record is the persisted shape of one checkpoint.
type record struct {
	Timestamp string          `json:"timestamp"`
	SessionID string          `json:"session_id"`
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
}

// New initializes a Cache rooted at opts.Dir, creating the directory if needed.
func New(opts Options) (*Cache, error) {
	dir := strings.TrimSpace(opts.Dir)
	if dir == "" {
		return nil, errors.New("checkpoint: cache dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("checkpoint: ensure cache dir: %w", err)
	}

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Cache{dir: dir, ttl: ttl, logger: logger, now: now}, nil
}

// SessionID derives the deterministic session identifier for an image
// reference. The same reference always maps to the same session, so a rerun
// against an already-stored selfie URL resumes that session's checkpoints.
// A resubmitted selfie is stored under a fresh key and starts a new session.
func SessionID(imageRef string) string {
	sum := sha256.Sum256([]byte(imageRef))
	return hex.EncodeToString(sum[:])[:12]
}

// Get loads the checkpoint for (session, key) into out. It reports false when
// no record exists or the record's age exceeds the TTL; an expired record is
// deleted as a side effect.
func (c *Cache) Get(session, key string, out any) bool {
	path := c.path(session, key)
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("checkpoint: unreadable record")
		return false
	}

	if c.expired(rec.Timestamp) {
		c.logger.Debug().Str("session", session).Str("key", key).Msg("checkpoint: expired")
		_ = os.Remove(path)
		return false
	}

	if out != nil {
		if err := json.Unmarshal(rec.Value, out); err != nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("checkpoint: undecodable value")
			return false
		}
	}

	c.logger.Debug().Str("session", session).Str("key", key).Msg("checkpoint: hit")
	return true
}

// Put stores value under (session, key) stamped with the current time,
// overwriting any previous record. It never fails hard: serialization or
// storage errors degrade to "no caching" and report false.
func (c *Cache) Put(session, key string, value any) bool {
	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("checkpoint: marshal value failed")
		return false
	}

	rec := record{
		Timestamp: c.now().Format(time.RFC3339Nano),
		SessionID: session,
		Key:       key,
		Value:     raw,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("checkpoint: marshal record failed")
		return false
	}

	if err := os.WriteFile(c.path(session, key), data, 0o644); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("checkpoint: write failed")
		return false
	}

	c.logger.Debug().Str("session", session).Str("key", key).Msg("checkpoint: saved")
	return true
}

// Clear removes every checkpoint belonging to the session. Individual
// deletion failures are swallowed; the sweep is best-effort.
func (c *Cache) Clear(session string) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return
	}

	deleted := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), session+"_") {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, entry.Name())); err == nil {
			deleted++
		}
	}
	if deleted > 0 {
		c.logger.Debug().Str("session", session).Int("deleted", deleted).Msg("checkpoint: session cleared")
	}
}

// Status reports, for each known step key, whether a non-expired checkpoint
// exists for the session.
func (c *Cache) Status(session string) map[string]bool {
	status := make(map[string]bool, len(StepKeys))
	for _, key := range StepKeys {
		status[key] = c.Get(session, key, nil)
	}
	return status
}

// SweepExpired scans the whole cache directory and removes every expired
// record, returning how many were deleted. Intended for periodic maintenance.
func (c *Cache) SweepExpired() int {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0
	}

	deleted := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(c.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var rec record
		if err := json.Unmarshal(data, &rec); err != nil || c.expired(rec.Timestamp) {
			if os.Remove(path) == nil {
				deleted++
			}
		}
	}
	if deleted > 0 {
		c.logger.Info().Int("deleted", deleted).Msg("checkpoint: swept expired records")
	}
	return deleted
}

func (c *Cache) path(session, key string) string {
	return filepath.Join(c.dir, fmt.Sprintf("%s_%s.json", sanitize(session), sanitize(key)))
}

func (c *Cache) expired(timestamp string) bool {
	stamped, err := time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		return true
	}
	return c.now().Sub(stamped) >= c.ttl
}

// sanitize keeps session ids and keys from escaping the cache directory.
func sanitize(s string) string {
	s = strings.ReplaceAll(s, "/", "-")
	s = strings.ReplaceAll(s, "\\", "-")
	return strings.ReplaceAll(s, "..", "-")
}
