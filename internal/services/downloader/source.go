package downloader

import (
	"fmt"
	"strings"
)

type SourceType string

const (
	SourceTypeHuggingface SourceType = "huggingface"
	SourceTypeFile        SourceType = "file"
	SourceTypeDirect      SourceType = "direct"
	SourceTypeS3          SourceType = "s3"
)

type Source struct {
	Type     SourceType
	Location string
	Original string
}

// ParseSource understands hf:<repo>, file:<path>, s3://<bucket>/<key> and
// plain http(s) URLs.
func ParseSource(source string) (*Source, error) {
	if source == "" {
		return nil, fmt.Errorf("empty source string. Source is required")
	}

	s := &Source{Original: source}

	switch {
	case strings.HasPrefix(source, "hf:"):
		s.Type = SourceTypeHuggingface
		s.Location = strings.TrimPrefix(source, "hf:")
	case strings.HasPrefix(source, "file:"):
		s.Type = SourceTypeFile
		s.Location = strings.TrimPrefix(source, "file:")
	case strings.HasPrefix(source, "s3://"):
		s.Type = SourceTypeS3
		s.Location = strings.TrimPrefix(source, "s3://")
		if bucket, key, ok := strings.Cut(s.Location, "/"); !ok || bucket == "" || key == "" {
			return nil, fmt.Errorf("s3 source must look like s3://<bucket>/<key>: %s", source)
		}
	case strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://"):
		s.Type = SourceTypeDirect
		s.Location = source
	default:
		return nil, fmt.Errorf("unsupported model source: %s", source)
	}

	if s.Location == "" {
		return nil, fmt.Errorf("model source has no location: %s", source)
	}

	return s, nil
}

// repoFolderName converts "username/repo" to "models--username--repo", the
// layout huggingface_hub uses in its cache.
func repoFolderName(repoID string) string {
	parts := append([]string{"models"}, strings.Split(repoID, "/")...)
	return strings.Join(parts, "--")
}
