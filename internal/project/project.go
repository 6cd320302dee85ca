// Package project persists finished sessions as JSON project files and
// lists what exists on disk.
package project

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/voxscribe/voxscribe/internal/session"
)

// Extension of project files on disk.
const Extension = ".json"

// Save writes a session state to path as a pretty-printed project file.
func Save(path string, state *session.State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal project: %w", err)
	}
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return fmt.Errorf("write project: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"path":       path,
		"session_id": state.SessionID,
	}).Debug("Project saved")
	return nil
}

// Load reads a project file back into a session state.
func Load(path string) (*session.State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read project: %w", err)
	}
	var state session.State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse project: %w", err)
	}
	return &state, nil
}

// List returns the project names (file stems) in dir, sorted. A missing
// directory yields an empty list.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read projects dir: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasSuffix(name, Extension) {
			names = append(names, strings.TrimSuffix(name, Extension))
		}
	}
	sort.Strings(names)
	return names, nil
}

// DefaultPath places a session's project file in dir using its id.
func DefaultPath(dir string, state *session.State) string {
	return filepath.Join(dir, state.SessionID+Extension)
}
