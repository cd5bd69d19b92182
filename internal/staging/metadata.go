package staging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// Metadata is the sidecar written next to every staged recording.
type Metadata struct {
	Name       string    `json:"name"`
	Timestamp  time.Time `json:"timestamp"`
	OriginPath string    `json:"origin_path"`
	MimeType   string    `json:"mimetype"`
	SHA256     string    `json:"sha256"`
	Size       int64     `json:"size"`
}

// Video is a complete staged pair.
type Video struct {
	Metadata
	Path string // content file
}

// Open opens the staged content for reading.
func (v Video) Open() (io.ReadCloser, error) {
	return os.Open(v.Path)
}

func readMetadata(path string) (Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, err
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return Metadata{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return m, nil
}
