package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kelsos/taskwatch/internal/models"
)

// Result is the stored terminal update of a task.
type Result struct {
	TaskID  models.TaskID     `json:"task_id"`
	Status  models.TaskStatus `json:"status"`
	Record  json.RawMessage   `json:"record,omitempty"`
	SavedAt int64             `json:"saved_at"`
}

// ResultStore keeps one JSON file per finished task.
type ResultStore struct {
	dir string
	now func() time.Time
}

func NewResultStore(dir string) *ResultStore {
	return &ResultStore{dir: dir, now: time.Now}
}

// GetAppDataDir returns the application data directory
func GetAppDataDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	appDataDir := filepath.Join(homeDir, ".taskwatch")
	if err := os.MkdirAll(appDataDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create app data directory: %w", err)
	}

	return appDataDir, nil
}

// ResolveDir makes a relative results directory relative to the app data
// directory.
func ResolveDir(dir string) (string, error) {
	if filepath.IsAbs(dir) {
		return dir, nil
	}
	appDataDir, err := GetAppDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(appDataDir, dir), nil
}

// GetResultFilePath returns the path of the result file for a task
func (s *ResultStore) GetResultFilePath(id models.TaskID) (string, error) {
	name := url.PathEscape(string(id))
	if name == "" || name == "." || name == ".." {
		return "", fmt.Errorf("invalid task id %q", id)
	}
	return filepath.Join(s.dir, name+".json"), nil
}

// SaveResult writes the result for a task, replacing an earlier one.
func (s *ResultStore) SaveResult(id models.TaskID, status models.TaskStatus, record json.RawMessage) error {
	filePath, err := s.GetResultFilePath(id)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create results directory: %w", err)
	}

	data := Result{
		TaskID:  id,
		Status:  status,
		Record:  record,
		SavedAt: s.now().Unix(),
	}

	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	tmp := filePath + ".tmp"
	if err := os.WriteFile(tmp, jsonData, 0600); err != nil {
		return fmt.Errorf("failed to write result file: %w", err)
	}
	if err := os.Rename(tmp, filePath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write result file: %w", err)
	}

	return nil
}

// GetResult reads the stored result for a task. A missing result returns
// nil without error.
func (s *ResultStore) GetResult(id models.TaskID) (*Result, error) {
	filePath, err := s.GetResultFilePath(id)
	if err != nil {
		return nil, err
	}

	fileData, err := os.ReadFile(filePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read result file: %w", err)
	}

	var data Result
	if err := json.Unmarshal(fileData, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}

	return &data, nil
}

// ListResults returns every stored result, newest first. Unreadable files
// are skipped.
func (s *ResultStore) ListResults() ([]Result, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read results directory: %w", err)
	}

	var results []Result
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		fileData, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			continue
		}
		var data Result
		if err := json.Unmarshal(fileData, &data); err != nil || data.TaskID == "" {
			continue
		}
		results = append(results, data)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].SavedAt != results[j].SavedAt {
			return results[i].SavedAt > results[j].SavedAt
		}
		return results[i].TaskID < results[j].TaskID
	})
	return results, nil
}
