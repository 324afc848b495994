// Package buildcache maps pinned build specs to the filesystem
// locations of already-built artifacts. Entries are content-addressed
// by a digest of (repo, revision, workdir, command) so that platforms
// and programs sharing a build spec reuse one build.
package buildcache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/natefinch/atomic"
)

const manifestName = "manifest.json"

// Key identifies one build. Two specs with identical key fields produce
// identical artifacts and share a cache entry.
type Key struct {
	Repo    string
	Rev     string
	Workdir string
	Cmd     string
}

// Digest returns the content address for the key.
func (k Key) Digest() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s", k.Repo, k.Rev, k.Workdir, k.Cmd)
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Artifact is a resolved build output: an absolute path plus the
// pinned source it was built from. Artifacts are never reused across a
// revision mismatch because the revision is part of the cache key.
type Artifact struct {
	Path string `json:"path"`
	Repo string `json:"repo"`
	Rev  string `json:"rev"`
}

type manifest struct {
	Repo      string              `json:"repo"`
	Rev       string              `json:"rev"`
	Workdir   string              `json:"workdir"`
	Cmd       string              `json:"cmd"`
	Artifacts map[string]Artifact `json:"artifacts"`
	BuiltAt   time.Time           `json:"built-at"`
}

// Cache is a content-addressed directory of build manifests.
type Cache struct {
	root string
}

// New returns a cache rooted at the given directory. The directory is
// created lazily on the first Store.
func New(root string) *Cache {
	return &Cache{root: root}
}

// Dir returns the cache directory for a key.
func (c *Cache) Dir(key Key) string {
	return filepath.Join(c.root, key.Digest())
}

// Resolve looks up the artifacts recorded for a key. A hit requires
// the manifest to exist AND every recorded artifact file to still be
// present on disk; an entry whose files were externally deleted is a
// miss (triggering a rebuild), never an error.
func (c *Cache) Resolve(key Key) (map[string]Artifact, bool) {
	data, err := os.ReadFile(filepath.Join(c.Dir(key), manifestName))
	if err != nil {
		return nil, false
	}

	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, false
	}
	if m.Repo != key.Repo || m.Rev != key.Rev || m.Workdir != key.Workdir || m.Cmd != key.Cmd {
		return nil, false
	}

	for _, art := range m.Artifacts {
		if _, err := os.Stat(art.Path); err != nil {
			return nil, false
		}
	}
	return m.Artifacts, true
}

// Store records the resolved artifact paths for a key. The manifest is
// written atomically so a crashed run never leaves a partial entry.
func (c *Cache) Store(key Key, artifacts map[string]Artifact) error {
	dir := c.Dir(key)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache dir: %w", err)
	}

	m := manifest{
		Repo:      key.Repo,
		Rev:       key.Rev,
		Workdir:   key.Workdir,
		Cmd:       key.Cmd,
		Artifacts: artifacts,
		BuiltAt:   time.Now().UTC(),
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cache manifest: %w", err)
	}

	if err := atomic.WriteFile(filepath.Join(dir, manifestName), bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write cache manifest: %w", err)
	}
	return nil
}
