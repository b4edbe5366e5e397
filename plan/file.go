package plan

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// LoadFile reads a JSON plan from path. Fields missing from the file keep
// their Default values.
func LoadFile(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrPlanFileNotFound, path)
		}
		return nil, fmt.Errorf("plan: read %s: %w", path, err)
	}

	p := Default()
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("plan: decode %s: %w", path, err)
	}
	if err := Validate(p); err != nil {
		return nil, err
	}
	return p, nil
}

// SaveFile writes p to path as indented JSON, creating parent directories.
func SaveFile(path string, p *Plan) error {
	if err := Validate(p); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("plan: create directory: %w", err)
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("plan: encode: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0600); err != nil {
		return fmt.Errorf("plan: write %s: %w", path, err)
	}
	return nil
}
