package content

import "time"

type Source string

const (
	SourceUnknown Source = "unknown"
	SourceSeed    Source = "seed"
	SourceDisk    Source = "disk"
	SourceS3      Source = "s3"
	SourceGitHub  Source = "github"
)

// Local reports whether the source is one of the bundled (non-preview) sources
func (s Source) Local() bool {
	switch s {
	case SourceSeed, SourceDisk, SourceS3:
		return true
	}
	return false
}

type Meta struct {
	Version  string    `json:"version,omitempty"`
	SHA256   string    `json:"sha256,omitempty"`
	LoadedAt time.Time `json:"loaded_at,omitempty"`
	Source   Source    `json:"source,omitempty"`
}
