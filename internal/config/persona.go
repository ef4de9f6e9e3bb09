package config

import (
	"fmt"
	"os"
	"strings"
)

// PersonaFile loads the pinned persona text from a file on disk.
type PersonaFile struct {
	path string
}

func NewPersonaFile(path string) *PersonaFile {
	return &PersonaFile{path: path}
}

func (p *PersonaFile) LoadPersonaText() (string, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return "", fmt.Errorf("read persona file %s: %w", p.path, err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", fmt.Errorf("persona file %s is empty", p.path)
	}
	return text, nil
}
