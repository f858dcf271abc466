// Package rundir manages the lifecycle of run directories (one per crank, or
// one per single-test run) under the runner pool's runs directory:
// allocation with collision-free naming, an audit trail of what happened to
// each, and sweeping of directories older than a given age.
package rundir

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// AuditEntry records one action taken against a run directory.
type AuditEntry struct {
	Timestamp time.Time
	Action    string
	Target    string
	Success   bool
	Error     error
	Details   string
}

// Manager allocates and reclaims run directories under a root.
type Manager struct {
	root     string
	auditLog []AuditEntry
}

// New creates a Manager rooted at root, creating root if it does not exist.
func New(root string) (*Manager, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create runs root %s: %w", root, err)
	}
	return &Manager{root: root, auditLog: make([]AuditEntry, 0)}, nil
}

// Allocate creates a new, uniquely named run directory for testID and
// returns its path. Naming uses a UUID rather than a timestamp so that two
// runners starting within the same tick never collide.
func (m *Manager) Allocate(testID string) (string, error) {
	name := fmt.Sprintf("%s-%s", sanitize(testID), uuid.NewString())
	dir := filepath.Join(m.root, name)

	if err := os.MkdirAll(dir, 0755); err != nil {
		m.logAudit("allocate", dir, "failed to create run directory", err)
		return "", fmt.Errorf("failed to allocate run directory: %w", err)
	}

	m.logAudit("allocate", dir, "run directory created", nil)
	return dir, nil
}

// Release marks a run directory as finished. It does not delete the
// directory — traces and logs inside it remain available for C4's retry
// and for diagnostics — it only records that the directory's test reached
// a terminal outcome.
func (m *Manager) Release(dir string, outcome string) {
	m.logAudit("release", dir, "run directory released: "+outcome, nil)
}

// CleanupStale removes run directories under root older than maxAge,
// returning the number removed. A directory's age is its modification time.
func (m *Manager) CleanupStale(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return 0, fmt.Errorf("failed to list runs root: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(m.root, entry.Name())

		info, err := entry.Info()
		if err != nil {
			m.logAudit("stale_cleanup", dir, "failed to stat entry", err)
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		if err := os.RemoveAll(dir); err != nil {
			m.logAudit("stale_cleanup", dir, "failed to remove stale run directory", err)
			continue
		}

		m.logAudit("stale_cleanup", dir, "removed stale run directory", nil)
		removed++
	}

	return removed, nil
}

func (m *Manager) logAudit(action, target, details string, err error) {
	m.auditLog = append(m.auditLog, AuditEntry{
		Timestamp: time.Now(),
		Action:    action,
		Target:    target,
		Success:   err == nil,
		Error:     err,
		Details:   details,
	})
}

// AuditLog returns the complete audit log.
func (m *Manager) AuditLog() []AuditEntry {
	return m.auditLog
}

// Summary summarizes the audit log's successes and failures.
type Summary struct {
	TotalActions int
	Succeeded    int
	Failed       int
}

func (s Summary) String() string {
	return fmt.Sprintf("rundir summary: %d total actions, %d succeeded, %d failed",
		s.TotalActions, s.Succeeded, s.Failed)
}

// GetSummary computes a Summary over the current audit log.
func (m *Manager) GetSummary() Summary {
	s := Summary{TotalActions: len(m.auditLog)}
	for _, entry := range m.auditLog {
		if entry.Success {
			s.Succeeded++
		} else {
			s.Failed++
		}
	}
	return s
}

func sanitize(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	if len(out) == 0 {
		return "run"
	}
	return string(out)
}
