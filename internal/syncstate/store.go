// Package syncstate persists per-source incremental sync state: the last
// seen timestamp (watermark) and the set of already-processed URIs.
package syncstate

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// DefaultStateFile is the conventional state file name.
const DefaultStateFile = "last_sync.json"

// currentVersion is the versioned multi-source document format.
const currentVersion = 2

// legacySource is the source tag legacy v1 documents are attributed to.
// The unversioned format predates multi-source support and only ever held
// Bluesky data.
const legacySource = "bluesky"

// State is the sync state of a single source.
type State struct {
	LastTimestamp string
	SeenURIs      map[string]struct{}
}

// Store is the per-source sync state capability.
type Store interface {
	// SourceState returns the state for source, empty defaults if unseen.
	SourceState(source string) (State, error)
	// UpdateSourceState replaces the state for source and persists it
	// immediately.
	UpdateSourceState(source, lastTimestamp string, seenURIs map[string]struct{}) error
	// Sources lists all sources with saved state.
	Sources() ([]string, error)
	// ClearSource removes the state for source.
	ClearSource(source string) error
}

type sourceDoc struct {
	LastTimestamp *string  `json:"last_timestamp"`
	SeenURIs      []string `json:"seen_uris"`
	UpdatedAt     string   `json:"updated_at,omitempty"`
}

type stateDoc struct {
	Version   int                  `json:"version"`
	Sources   map[string]sourceDoc `json:"sources"`
	UpdatedAt string               `json:"updated_at,omitempty"`
}

// FileStore keeps sync state in a single versioned JSON file. Writes go to
// a temp file first and are renamed into place, so a crash never leaves a
// half-written document.
type FileStore struct {
	path string
	doc  stateDoc
}

// NewFileStore loads (and if needed migrates) the state file at path.
// A missing, corrupt, or unreadable file yields empty state with a warning;
// prior state is only ever advisory, so this is never fatal.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		path = DefaultStateFile
	}
	s := &FileStore{
		path: path,
		doc:  stateDoc{Version: currentVersion, Sources: map[string]sourceDoc{}},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("[syncstate] could not read %s: %v, starting with empty state", path, err)
		}
		return s, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		log.Printf("[syncstate] could not parse %s: %v, starting with empty state", path, err)
		return s, nil
	}

	if isLegacy(raw) {
		if err := s.migrateLegacy(data); err != nil {
			log.Printf("[syncstate] migration of %s failed: %v, starting with empty state", path, err)
			s.doc = stateDoc{Version: currentVersion, Sources: map[string]sourceDoc{}}
		}
		return s, nil
	}

	var doc stateDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		log.Printf("[syncstate] could not parse %s: %v, starting with empty state", path, err)
		return s, nil
	}
	if doc.Sources == nil {
		doc.Sources = map[string]sourceDoc{}
	}
	doc.Version = currentVersion
	s.doc = doc
	return s, nil
}

// isLegacy reports whether the document is the old flat single-source
// format: no version marker, or a version older than the current one.
func isLegacy(raw map[string]json.RawMessage) bool {
	v, ok := raw["version"]
	if !ok {
		return true
	}
	var version int
	if err := json.Unmarshal(v, &version); err != nil {
		return true
	}
	return version < currentVersion
}

// migrateLegacy wraps a v1 flat document under the legacy source tag and
// persists the migrated form before any read returns. Re-running on an
// already-migrated file is a no-op because the version marker is present.
func (s *FileStore) migrateLegacy(data []byte) error {
	log.Printf("[syncstate] migrating %s from legacy single-source format", s.path)

	var old sourceDoc
	if err := json.Unmarshal(data, &old); err != nil {
		return fmt.Errorf("failed to parse legacy state: %w", err)
	}

	s.doc = stateDoc{
		Version: currentVersion,
		Sources: map[string]sourceDoc{legacySource: old},
	}
	return s.save()
}

// save writes the whole document to a temp file in the same directory and
// renames it into place.
func (s *FileStore) save() error {
	s.doc.UpdatedAt = time.Now().Format(time.RFC3339)

	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal sync state: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".sync-state-*")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write sync state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// SourceState returns the state for source, empty defaults if unseen.
func (s *FileStore) SourceState(source string) (State, error) {
	doc, ok := s.doc.Sources[source]
	state := State{SeenURIs: make(map[string]struct{}, len(doc.SeenURIs))}
	if !ok {
		return state, nil
	}
	if doc.LastTimestamp != nil {
		state.LastTimestamp = *doc.LastTimestamp
	}
	for _, uri := range doc.SeenURIs {
		state.SeenURIs[uri] = struct{}{}
	}
	return state, nil
}

// UpdateSourceState replaces the state for source and persists immediately.
func (s *FileStore) UpdateSourceState(source, lastTimestamp string, seenURIs map[string]struct{}) error {
	uris := make([]string, 0, len(seenURIs))
	for uri := range seenURIs {
		uris = append(uris, uri)
	}
	sort.Strings(uris)

	doc := sourceDoc{
		SeenURIs:  uris,
		UpdatedAt: time.Now().Format(time.RFC3339),
	}
	if lastTimestamp != "" {
		doc.LastTimestamp = &lastTimestamp
	}
	s.doc.Sources[source] = doc

	if err := s.save(); err != nil {
		return err
	}
	log.Printf("[syncstate] updated %s: %d URIs, last_timestamp=%s", source, len(uris), lastTimestamp)
	return nil
}

// Sources lists all sources with saved state.
func (s *FileStore) Sources() ([]string, error) {
	out := make([]string, 0, len(s.doc.Sources))
	for name := range s.doc.Sources {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// ClearSource removes the saved state for source.
func (s *FileStore) ClearSource(source string) error {
	if _, ok := s.doc.Sources[source]; !ok {
		return nil
	}
	delete(s.doc.Sources, source)
	if err := s.save(); err != nil {
		return err
	}
	log.Printf("[syncstate] cleared state for %s", source)
	return nil
}
