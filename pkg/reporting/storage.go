package reporting

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Storage persists CrankSummary reports to a directory, one file per crank,
// pruning all but the KeepLast most recent files after every save.
type Storage struct {
	Dir      string
	KeepLast int
}

// NewStorage returns a Storage rooted at dir, keeping the keepLast most
// recent reports. keepLast <= 0 disables pruning.
func NewStorage(dir string, keepLast int) *Storage {
	return &Storage{Dir: dir, KeepLast: keepLast}
}

// Save writes s as its own JSON file and prunes older reports beyond
// KeepLast. The write is atomic: a temp file is renamed into place so a
// concurrent reader never observes a partial report.
func (s *Storage) Save(summary CrankSummary) error {
	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create reporting directory: %w", err)
	}

	name := fmt.Sprintf("crank-%05d.json", summary.CrankNumber)
	path := filepath.Join(s.Dir, name)

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal crank summary: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write crank summary: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to finalize crank summary: %w", err)
	}

	return s.prune()
}

// List returns every stored crank summary, sorted by crank number ascending.
func (s *Storage) List() ([]CrankSummary, error) {
	paths, err := s.sortedPaths()
	if err != nil {
		return nil, err
	}

	summaries := make([]CrankSummary, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read crank summary %s: %w", p, err)
		}
		var cs CrankSummary
		if err := json.Unmarshal(data, &cs); err != nil {
			return nil, fmt.Errorf("failed to parse crank summary %s: %w", p, err)
		}
		summaries = append(summaries, cs)
	}
	return summaries, nil
}

// Latest returns the most recently saved summary, if any.
func (s *Storage) Latest() (CrankSummary, bool, error) {
	summaries, err := s.List()
	if err != nil {
		return CrankSummary{}, false, err
	}
	if len(summaries) == 0 {
		return CrankSummary{}, false, nil
	}
	return summaries[len(summaries)-1], true, nil
}

func (s *Storage) prune() error {
	if s.KeepLast <= 0 {
		return nil
	}

	paths, err := s.sortedPaths()
	if err != nil {
		return err
	}
	if len(paths) <= s.KeepLast {
		return nil
	}

	for _, p := range paths[:len(paths)-s.KeepLast] {
		if err := os.Remove(p); err != nil {
			return fmt.Errorf("failed to prune old crank summary %s: %w", p, err)
		}
	}
	return nil
}

func (s *Storage) sortedPaths() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.Dir, "crank-*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to list crank summaries: %w", err)
	}
	sort.Strings(matches)
	return matches, nil
}
