package prefs

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/jask/ledgerlens/internal/engine"
)

const rulesFile = "refine_rules.json"

func rulesPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	dir = filepath.Join(dir, "ledgerlens")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(dir, rulesFile), nil
}

// SaveRules persists the refinement rule set atomically.
func SaveRules(rules []engine.RefineRule) error {
	path, err := rulesPath()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(rules, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// LoadRules returns the persisted rule set, or nil when none was saved yet
// so callers fall back to the defaults.
func LoadRules() ([]engine.RefineRule, error) {
	path, err := rulesPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var rules []engine.RefineRule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, err
	}
	return rules, nil
}
