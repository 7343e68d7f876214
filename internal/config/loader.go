package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Loader handles loading and merging settings from multiple sources.
type Loader struct {
	userDir    string
	projectDir string
}

// NewLoader creates a loader with the default directories (~/.strand and
// .strand).
func NewLoader() *Loader {
	homeDir, _ := os.UserHomeDir()
	return &Loader{
		userDir:    filepath.Join(homeDir, ".strand"),
		projectDir: ".strand",
	}
}

// NewLoaderWithDirs creates a loader with custom directories.
func NewLoaderWithDirs(userDir, projectDir string) *Loader {
	return &Loader{userDir: userDir, projectDir: projectDir}
}

// Load loads and merges settings. Project-level settings override user-level;
// missing or malformed files are skipped.
func (l *Loader) Load() (*Settings, error) {
	settings := NewSettings()

	sources := []string{
		filepath.Join(l.userDir, "settings.yaml"),
		filepath.Join(l.projectDir, "settings.yaml"),
	}

	for _, src := range sources {
		data, err := os.ReadFile(src)
		if err != nil {
			continue
		}
		var s Settings
		if err := yaml.Unmarshal(data, &s); err != nil {
			continue
		}
		settings = Merge(settings, &s)
	}

	return settings, nil
}
