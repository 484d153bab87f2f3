// Copyright 2025 Arion Yau
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package templates loads the PDS request skeletons from disk and renders
// them with queue item fields.
package templates

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cbroglie/mustache"
	"github.com/rs/zerolog"
	"pdsworker/internal/logger"
)

// ErrTemplateNotFound is returned when a message type has no template
var ErrTemplateNotFound = errors.New("template not found")

type entry struct {
	raw    string
	parsed *mustache.Template
}

// Store holds the templates keyed by normalised message type. Read-only after Load.
type Store struct {
	dir     string
	entries map[string]*entry
}

// Key derives the lookup key for a template file name: extension stripped, upper-cased.
func Key(fileName string) string {
	base := filepath.Base(fileName)
	return strings.ToUpper(strings.TrimSuffix(base, filepath.Ext(base)))
}

// Load reads every regular file in dir into a Store
func Load(dir string) (*Store, error) {
	log := logger.New().With().Str("component", "templates").Logger()

	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read template directory %s: %w", dir, err)
	}

	log.Info().Str("dir", dir).Msg("Reading templates")

	store := &Store{
		dir:     dir,
		entries: make(map[string]*entry),
	}

	for _, file := range files {
		if !file.Type().IsRegular() {
			continue
		}
		if err := store.loadFile(filepath.Join(dir, file.Name()), log); err != nil {
			return nil, err
		}
	}

	return store, nil
}

func (s *Store) loadFile(path string, log zerolog.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read template %s: %w", path, err)
	}

	parsed, err := mustache.ParseString(string(data))
	if err != nil {
		return fmt.Errorf("failed to parse template %s: %w", path, err)
	}

	key := Key(path)
	if _, exists := s.entries[key]; exists {
		return fmt.Errorf("duplicate template key %s from %s", key, path)
	}
	s.entries[key] = &entry{raw: string(data), parsed: parsed}

	log.Debug().
		Str("file", filepath.Base(path)).
		Str("key", key).
		Msg("Loaded template")

	return nil
}

// Get returns the raw template text for a message type
func (s *Store) Get(name string) (string, error) {
	e, err := s.lookup(name)
	if err != nil {
		return "", err
	}
	return e.raw, nil
}

// Require checks that every named message type has a template
func (s *Store) Require(names ...string) error {
	for _, name := range names {
		if _, err := s.lookup(name); err != nil {
			return err
		}
	}
	return nil
}

// Names returns the template keys in sorted order
func (s *Store) Names() []string {
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of loaded templates
func (s *Store) Len() int {
	return len(s.entries)
}

// Dir returns the directory the store was loaded from
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) lookup(name string) (*entry, error) {
	e, ok := s.entries[strings.ToUpper(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
	}
	return e, nil
}
