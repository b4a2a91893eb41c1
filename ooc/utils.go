package ooc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	Kilo = 1 << 10
	Mega = 1 << 20
	Giga = 1 << 30
)

// ConvertToAbsolute returns path unchanged if it is absolute, else joined to dir.
func ConvertToAbsolute(path, dir string) (string, error) {
	if filepath.IsAbs(path) {
		return path, nil
	}
	return filepath.Abs(filepath.Join(dir, path))
}

// WriteJSONFile writes an arbitrary but exportable Go object to an indented JSON file.
func WriteJSONFile(filename string, value interface{}) error {
	m, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("error in writing JSON file %s: %v", filename, err)
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, m, "", "    "); err != nil {
		return err
	}
	if err := os.WriteFile(filename, buf.Bytes(), 0644); err != nil {
		return IOError("write json", filename, err)
	}
	return nil
}
