// Package history keeps a local record of provisioning runs: one JSON file
// per run plus an append-only audit log. Secret values are never written.
package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/skylight-social/skyops/internal/bootstrap"
)

const (
	RunsDirName  = "runs"
	AuditLogName = "audit.log"
)

// Run is the stored summary of one bootstrap.
type Run struct {
	ID          string         `json:"id"`
	Timestamp   time.Time      `json:"timestamp"`
	Command     string         `json:"command"`
	Project     string         `json:"project"`
	Environment string         `json:"environment"`
	Status      string         `json:"status"`
	Secrets     []SecretRecord `json:"secrets"`
}

// SecretRecord is the per-secret part of a Run.
type SecretRecord struct {
	Secret  string `json:"secret"`
	Source  string `json:"source"`
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Granted bool   `json:"granted,omitempty"`
	Error   string `json:"error,omitempty"`
}

// FromReport summarises a bootstrap report.
func FromReport(command string, r *bootstrap.Report) *Run {
	run := &Run{
		Command:     command,
		Project:     r.Project,
		Environment: r.Environment,
		Status:      r.Status(),
	}
	for _, o := range r.Outcomes {
		rec := SecretRecord{
			Secret:  o.Secret,
			Source:  string(o.Source),
			Status:  string(o.Status),
			Version: o.Version,
			Granted: o.Granted,
		}
		switch {
		case o.Err != nil:
			rec.Error = firstLine(o.Err.Error())
		case o.Cause != nil:
			rec.Error = firstLine(o.Cause.Error())
		}
		run.Secrets = append(run.Secrets, rec)
	}
	return run
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

// Store reads and writes runs under a base directory.
type Store struct {
	runsDir   string
	auditPath string
	now       func() time.Time
}

// NewStore creates a Store rooted at baseDir.
func NewStore(baseDir string) *Store {
	if baseDir == "" {
		baseDir = "."
	}
	return &Store{
		runsDir:   filepath.Join(baseDir, RunsDirName),
		auditPath: filepath.Join(baseDir, AuditLogName),
		now:       time.Now,
	}
}

// Record assigns the run an ID and timestamp, saves it and appends to the
// audit log.
func (s *Store) Record(run *Run) error {
	if err := os.MkdirAll(s.runsDir, 0700); err != nil {
		return fmt.Errorf("failed to create runs directory: %w", err)
	}

	run.Timestamp = s.now().UTC()
	run.ID = fmt.Sprintf("RUN-%s-%s", run.Timestamp.Format("20060102-150405"), run.Environment)

	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.runsDir, run.ID+".json"), data, 0600); err != nil {
		return fmt.Errorf("failed to write run: %w", err)
	}
	return s.audit(run)
}

func (s *Store) audit(run *Run) error {
	entry := map[string]interface{}{
		"timestamp":   run.Timestamp.Format(time.RFC3339),
		"run_id":      run.ID,
		"command":     run.Command,
		"project":     run.Project,
		"environment": run.Environment,
		"status":      run.Status,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	f, err := os.OpenFile(s.auditPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := fmt.Fprintf(f, "%s\n", data); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

// Load reads one run by ID.
func (s *Store) Load(id string) (*Run, error) {
	data, err := os.ReadFile(filepath.Join(s.runsDir, id+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("run not found: %s", id)
		}
		return nil, fmt.Errorf("failed to read run: %w", err)
	}
	var run Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to parse run: %w", err)
	}
	return &run, nil
}

// List returns stored runs, newest first, optionally limited to one
// environment. Unreadable files are skipped.
func (s *Store) List(environment string) ([]*Run, error) {
	entries, err := os.ReadDir(s.runsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*Run{}, nil
		}
		return nil, fmt.Errorf("failed to read runs directory: %w", err)
	}

	runs := []*Run{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		run, err := s.Load(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			continue
		}
		if environment != "" && run.Environment != environment {
			continue
		}
		runs = append(runs, run)
	}

	sort.Slice(runs, func(i, j int) bool { return runs[i].Timestamp.After(runs[j].Timestamp) })
	return runs, nil
}
