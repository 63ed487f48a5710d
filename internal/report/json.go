package report

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/koltyakov/querydoctor/internal/collect"
	"github.com/koltyakov/querydoctor/internal/engine"
)

// Envelope is the JSON report payload: the full session plus run metadata,
// stable field names for downstream tooling.
type Envelope struct {
	Meta    collect.Meta    `json:"meta"`
	Session *engine.Session `json:"session"`
}

// WriteJSON writes the session as indented JSON to path ("-" for stdout).
func WriteJSON(path string, s *engine.Session, meta collect.Meta) error {
	payload, err := json.MarshalIndent(Envelope{Meta: meta, Session: s}, "", "  ")
	if err != nil {
		return err
	}
	payload = append(payload, '\n')
	if path == "-" || strings.TrimSpace(path) == "" {
		_, err = os.Stdout.Write(payload)
		return err
	}
	return os.WriteFile(path, payload, 0o644)
}
