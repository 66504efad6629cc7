package models

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// SchemaVersion is written into every persisted cache file. Readers tolerate
// unknown fields, so bumping this is only needed for incompatible changes.
const SchemaVersion = 1

// Persisted cache layout under the root directory. All files are best-effort
// hints and safe to delete.
const (
	dirAPIKeys  = "api_keys"
	dirMappings = "mappings"
	dirPricing  = "pricing"
	dirHealth   = "health"
)

// snapshotFile is the on-disk form of a Snapshot.
type snapshotFile struct {
	SchemaVersion int       `json:"schema_version"`
	Snapshot      *Snapshot `json:"snapshot"`
}

// mappingFile records which key fingerprints a channel has snapshots for.
type mappingFile struct {
	SchemaVersion int       `json:"schema_version"`
	ChannelID     string    `json:"channel_id"`
	Fingerprints  []string  `json:"fingerprints"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Persistence reads and writes snapshot cache files under a root directory.
// A zero-value Persistence (empty Dir) is a no-op on writes and returns
// nothing on reads.
type Persistence struct {
	Dir string
}

func (p Persistence) enabled() bool { return p.Dir != "" }

func (p Persistence) snapshotPath(channelID, keyFP string) string {
	return filepath.Join(p.Dir, dirAPIKeys, fmt.Sprintf("%s_%s.json", channelID, keyFP))
}

func (p Persistence) mappingPath(channelID string) string {
	return filepath.Join(p.Dir, dirMappings, fmt.Sprintf("%s_mapping.json", channelID))
}

// WriteSnapshot persists snap and refreshes the channel's mapping file.
func (p Persistence) WriteSnapshot(snap *Snapshot) error {
	if !p.enabled() {
		return nil
	}
	if err := writeJSON(p.snapshotPath(snap.ChannelID, snap.KeyFingerprint), snapshotFile{
		SchemaVersion: SchemaVersion,
		Snapshot:      snap,
	}); err != nil {
		return err
	}
	return p.appendMapping(snap.ChannelID, snap.KeyFingerprint)
}

func (p Persistence) appendMapping(channelID, keyFP string) error {
	path := p.mappingPath(channelID)
	var m mappingFile
	if data, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(data, &m) // tolerate corrupt mapping, rebuild below
	}
	m.SchemaVersion = SchemaVersion
	m.ChannelID = channelID
	m.UpdatedAt = time.Now()
	for _, fp := range m.Fingerprints {
		if fp == keyFP {
			return writeJSON(path, m)
		}
	}
	m.Fingerprints = append(m.Fingerprints, keyFP)
	return writeJSON(path, m)
}

// LoadAll reads every readable snapshot file into the store. Unreadable or
// structurally invalid files are skipped; the cache is only a hint.
func (p Persistence) LoadAll(store *Store) int {
	if !p.enabled() {
		return 0
	}
	entries, err := os.ReadDir(filepath.Join(p.Dir, dirAPIKeys))
	if err != nil {
		return 0
	}
	loaded := 0
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(p.Dir, dirAPIKeys, e.Name()))
		if err != nil {
			continue
		}
		var f snapshotFile
		if err := json.Unmarshal(data, &f); err != nil || f.Snapshot == nil {
			continue
		}
		if f.Snapshot.ChannelID == "" || f.Snapshot.KeyFingerprint == "" {
			continue
		}
		store.Replace(f.Snapshot)
		loaded++
	}
	return loaded
}

// WritePricing persists a merged pricing table under cache/pricing.
func (p Persistence) WritePricing(name string, table map[string]Pricing) error {
	if !p.enabled() {
		return nil
	}
	return writeJSON(filepath.Join(p.Dir, dirPricing, name+".json"), struct {
		SchemaVersion int                `json:"schema_version"`
		UpdatedAt     time.Time          `json:"updated_at"`
		Pricing       map[string]Pricing `json:"pricing"`
	}{SchemaVersion, time.Now(), table})
}

// WriteHealth persists a health/key-validation result document.
func (p Persistence) WriteHealth(name string, doc any) error {
	if !p.enabled() {
		return nil
	}
	return writeJSON(filepath.Join(p.Dir, dirHealth, name+".json"), struct {
		SchemaVersion int       `json:"schema_version"`
		UpdatedAt     time.Time `json:"updated_at"`
		Result        any       `json:"result"`
	}{SchemaVersion, time.Now(), doc})
}

// Cleanup deletes cache files not modified within maxAge. Returns the number
// of files removed.
func (p Persistence) Cleanup(maxAge time.Duration) int {
	if !p.enabled() {
		return 0
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, dir := range []string{dirAPIKeys, dirMappings, dirPricing, dirHealth} {
		entries, err := os.ReadDir(filepath.Join(p.Dir, dir))
		if err != nil {
			continue
		}
		for _, e := range entries {
			info, err := e.Info()
			if err != nil || info.IsDir() {
				continue
			}
			if info.ModTime().Before(cutoff) {
				if os.Remove(filepath.Join(p.Dir, dir, e.Name())) == nil {
					removed++
				}
			}
		}
	}
	return removed
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return os.Rename(tmp, path)
}
