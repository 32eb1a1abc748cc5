package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// FileSource serves templates from a JSON document produced by the external
// template admin. The file is read once at construction; template edits take
// effect on process restart.
type FileSource struct {
	templates []Template
}

func NewFileSource(path string) (*FileSource, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read templates file: %w", err)
	}

	var templates []Template
	if err := json.Unmarshal(raw, &templates); err != nil {
		return nil, fmt.Errorf("failed to parse templates file %s: %w", path, err)
	}

	return &FileSource{templates: templates}, nil
}

// NewStaticSource wraps an in-memory template list. Used when no templates
// file is configured and by tests.
func NewStaticSource(templates []Template) *FileSource {
	return &FileSource{templates: templates}
}

func (s *FileSource) ActiveForStatus(ctx context.Context, status string) ([]Template, error) {
	var out []Template
	for _, tpl := range s.templates {
		if tpl.Active && tpl.OnStatus == status {
			out = append(out, tpl)
		}
	}
	return out, nil
}
