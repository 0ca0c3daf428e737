package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"

	"github.com/scribe-audio/scribe/config"
)

// ArtifactStore keeps the full transcription artifacts as JSON files under
// <root>/YYYY/MM/<id>.json, sharded by creation month.
type ArtifactStore struct {
	root string
}

func NewArtifactStore(root string) *ArtifactStore {
	return &ArtifactStore{root: root}
}

type ArtifactSource struct {
	Type            string   `json:"type"`
	URL             string   `json:"url"`
	Title           *string  `json:"title"`
	Channel         *string  `json:"channel"`
	ThumbnailURL    *string  `json:"thumbnail_url"`
	UploadDate      *string  `json:"upload_date"`
	DurationSeconds *float64 `json:"duration_seconds"`
}

type ArtifactTranscription struct {
	Language        string    `json:"language"`
	Model           string    `json:"model"`
	DurationSeconds *float64  `json:"duration_seconds"`
	Segments        []Segment `json:"segments"`
}

// Artifact is the durable record of one finished transcription, including
// the segment timings the database does not index.
type Artifact struct {
	ID            string                `json:"id"`
	Source        ArtifactSource        `json:"source"`
	Transcription ArtifactTranscription `json:"transcription"`
	FullText      string                `json:"full_text"`
	WordCount     int                   `json:"word_count"`
	SegmentsCount int                   `json:"segments_count"`
	CreatedAt     time.Time             `json:"created_at"`
}

// Save writes the artifact atomically and returns its path relative to the
// artifact root, which is what gets indexed.
func (a *ArtifactStore) Save(art *Artifact) (string, error) {
	if art.CreatedAt.IsZero() {
		art.CreatedAt = config.Clock.Now()
	}
	rel := filepath.Join(
		fmt.Sprintf("%04d", art.CreatedAt.UTC().Year()),
		fmt.Sprintf("%02d", int(art.CreatedAt.UTC().Month())),
		art.ID+".json",
	)
	full := filepath.Join(a.root, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return "", fmt.Errorf("error creating artifact directory: %w", err)
	}

	data, err := json.MarshalIndent(art, "", "  ")
	if err != nil {
		return "", fmt.Errorf("error encoding artifact: %w", err)
	}
	if err := renameio.WriteFile(full, data, 0644); err != nil {
		return "", fmt.Errorf("error writing artifact: %w", err)
	}
	return rel, nil
}

// Load finds the artifact for id regardless of which month shard holds it.
// A missing artifact is (nil, nil).
func (a *ArtifactStore) Load(id string) (*Artifact, error) {
	path, err := a.find(id)
	if err != nil || path == "" {
		return nil, err
	}
	return a.read(path)
}

// LoadPath reads the artifact at a root-relative path, as indexed on the
// record.
func (a *ArtifactStore) LoadPath(rel string) (*Artifact, error) {
	return a.read(filepath.Join(a.root, rel))
}

// Delete removes the artifact file for id. Missing files are not an error.
func (a *ArtifactStore) Delete(id string) error {
	path, err := a.find(id)
	if err != nil || path == "" {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("error deleting artifact: %w", err)
	}
	return nil
}

func (a *ArtifactStore) find(id string) (string, error) {
	if id == "" || id != filepath.Base(id) {
		return "", fmt.Errorf("invalid artifact id %q", id)
	}
	matches, err := filepath.Glob(filepath.Join(a.root, "*", "*", id+".json"))
	if err != nil {
		return "", fmt.Errorf("error searching artifacts: %w", err)
	}
	if len(matches) == 0 {
		return "", nil
	}
	return matches[0], nil
}

func (a *ArtifactStore) read(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading artifact: %w", err)
	}
	var art Artifact
	if err := json.Unmarshal(data, &art); err != nil {
		return nil, fmt.Errorf("error decoding artifact %s: %w", filepath.Base(path), err)
	}
	return &art, nil
}
