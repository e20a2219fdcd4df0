// Package trigger provides the trigger library for NudgeLoop.
//
// This file implements the immutable, read-only registry of declarative
// trigger definitions loaded once per process (and optionally hot-swapped
// by the operator API).
package trigger

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	_ "embed"

	"github.com/NudgeLoop/NudgeLoop/internal/models"
)

//go:embed triggers.json
var defaultTriggersJSON []byte

// Library is an immutable registry of trigger definitions in registration
// order. It is safe to share across concurrent evaluations without
// locking; updates replace the whole Library.
type Library struct {
	defs  []models.TriggerDefinition
	index map[string]int // trigger ID -> registration order
}

// NewLibrary builds a library from the given definitions. Malformed
// definitions are rejected and logged; loading continues with the rest.
// Duplicated IDs keep the first registration.
func NewLibrary(defs []models.TriggerDefinition) (*Library, error) {
	lib := &Library{index: make(map[string]int)}
	for i := range defs {
		def := defs[i]
		if err := def.Validate(); err != nil {
			slog.Error("Rejected malformed trigger definition", "id", def.ID, "index", i, "error", err)
			continue
		}
		if bad, ok := unknownParameter(&def); ok {
			slog.Error("Rejected trigger definition with unknown parameter",
				"id", def.ID, "parameter", bad)
			continue
		}
		if _, exists := lib.index[def.ID]; exists {
			slog.Warn("Skipping duplicate trigger definition", "id", def.ID)
			continue
		}
		lib.index[def.ID] = len(lib.defs)
		lib.defs = append(lib.defs, def)
	}
	if len(lib.defs) == 0 {
		return nil, fmt.Errorf("no valid trigger definitions loaded")
	}
	slog.Info("Trigger library loaded", "triggers", len(lib.defs), "rejected", len(defs)-len(lib.defs))
	return lib, nil
}

// unknownParameter returns the first condition parameter the dispatch
// table cannot resolve.
func unknownParameter(def *models.TriggerDefinition) (string, bool) {
	for _, c := range def.Conditions {
		if !KnownParameter(c.Parameter) {
			return c.Parameter, true
		}
	}
	return "", false
}

// LoadLibrary reads trigger definitions as a JSON array from r.
func LoadLibrary(r io.Reader) (*Library, error) {
	var defs []models.TriggerDefinition
	if err := json.NewDecoder(r).Decode(&defs); err != nil {
		return nil, fmt.Errorf("failed to decode trigger definitions: %w", err)
	}
	return NewLibrary(defs)
}

// LoadLibraryFile reads trigger definitions from a JSON file.
func LoadLibraryFile(path string) (*Library, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trigger config %s: %w", path, err)
	}
	defer f.Close()
	slog.Debug("Loading trigger library from file", "path", path)
	return LoadLibrary(f)
}

// DefaultLibrary loads the embedded default trigger set.
func DefaultLibrary() *Library {
	var defs []models.TriggerDefinition
	if err := json.Unmarshal(defaultTriggersJSON, &defs); err != nil {
		// The embedded defaults are fixed at build time.
		panic(fmt.Sprintf("embedded trigger definitions are invalid: %v", err))
	}
	lib, err := NewLibrary(defs)
	if err != nil {
		panic(fmt.Sprintf("embedded trigger definitions are invalid: %v", err))
	}
	return lib
}

// All returns the definitions in registration order. Callers must not
// mutate the returned slice.
func (l *Library) All() []models.TriggerDefinition {
	return l.defs
}

// Get retrieves a definition by ID.
func (l *Library) Get(id string) (*models.TriggerDefinition, bool) {
	i, ok := l.index[id]
	if !ok {
		return nil, false
	}
	return &l.defs[i], true
}

// RegistrationOrder returns the position a trigger was registered at,
// used as the final deterministic ranking tie-break.
func (l *Library) RegistrationOrder(id string) int {
	if i, ok := l.index[id]; ok {
		return i
	}
	return len(l.defs)
}

// Len returns the number of loaded definitions.
func (l *Library) Len() int {
	return len(l.defs)
}
