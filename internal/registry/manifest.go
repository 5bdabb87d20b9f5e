package registry

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// ManifestEntry is one worker's capability as declared in the YAML
// capability manifest, kept in a boot-time YAML file rather than only in
// Go literals so operators can audit registered capabilities without
// reading source.
type ManifestEntry struct {
	TaskType            TaskType `yaml:"task_type"`
	Priority            int      `yaml:"priority"`
	ChatEnabled         bool     `yaml:"chat_enabled"`
	RequiredInputFields []string `yaml:"required_input_fields"`
}

// Manifest is the top-level YAML document: one entry per worker.
type Manifest struct {
	Workers []ManifestEntry `yaml:"workers"`
}

// ParseManifest decodes a capability manifest. The compiled-in Go literals
// on each worker's Capability() remain authoritative at runtime; the
// manifest is a boot-time cross-check so capability drift between the YAML
// operators maintain and the code is caught instead of silently diverging.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("registry: parse capability manifest: %w", err)
	}
	return &m, nil
}

// Validate compares the manifest against a live Registry's registered
// workers, returning one error per task type where the manifest's
// declaration disagrees with what's actually registered (missing worker,
// chat-enabled mismatch, or priority mismatch).
func (m *Manifest) Validate(reg *Registry) []error {
	var errs []error
	for _, entry := range m.Workers {
		w, ok := reg.WorkerFor(entry.TaskType)
		if !ok {
			errs = append(errs, fmt.Errorf("registry: manifest declares task type %q but no worker is registered for it", entry.TaskType))
			continue
		}
		declared := w.Capability()
		if declared.ChatEnabled != entry.ChatEnabled {
			errs = append(errs, fmt.Errorf("registry: task type %q: manifest chat_enabled=%v, worker declares %v", entry.TaskType, entry.ChatEnabled, declared.ChatEnabled))
		}
		if declared.Priority != entry.Priority {
			errs = append(errs, fmt.Errorf("registry: task type %q: manifest priority=%d, worker declares %d", entry.TaskType, entry.Priority, declared.Priority))
		}
	}
	return errs
}
