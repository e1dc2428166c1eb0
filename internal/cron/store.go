package cron

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const storeVersion = 1

type storeFile struct {
	Version int   `json:"version"`
	Jobs    []Job `json:"jobs"`
}

// loadStore reads the persisted job table. A missing file means a fresh
// start; a corrupt file is logged and treated as empty.
func (s *Service) loadStore() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = nil

	raw, err := os.ReadFile(s.storePath)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("failed to read cron store", "path", s.storePath, "error", err)
		}
		return
	}

	var root storeFile
	if err := json.Unmarshal(raw, &root); err != nil {
		s.logger.Warn("failed to load cron store", "path", s.storePath, "error", err)
		return
	}

	for i := range root.Jobs {
		j := root.Jobs[i]
		if j.ID == "" {
			continue
		}
		if j.Schedule.Kind == "" {
			j.Schedule.Kind = "every"
		}
		if j.Payload.Kind == "" {
			j.Payload.Kind = "agent_turn"
		}
		s.jobs = append(s.jobs, &j)
	}
}

// saveStoreLocked rewrites the whole store atomically. Caller holds s.mu.
func (s *Service) saveStoreLocked() {
	root := storeFile{Version: storeVersion, Jobs: make([]Job, 0, len(s.jobs))}
	for _, j := range s.jobs {
		root.Jobs = append(root.Jobs, *j)
	}

	if err := writeJSONAtomic(s.storePath, root); err != nil {
		s.logger.Error("failed to save cron store", "path", s.storePath, "error", err)
	}
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".cron-*.json")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
