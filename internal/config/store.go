// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/aibor/vcontainer/internal/sys"
	"gopkg.in/yaml.v3"
)

// Store is the persisted configuration file as edited by "vconfig".
//
// Values are stored as strings, exactly as given by the user after
// validation.
type Store struct {
	path   string
	values map[string]string
}

// OpenStore reads the configuration file at path. A missing file results in
// an empty store.
func OpenStore(path string) (*Store, error) {
	store := &Store{
		path:   path,
		values: map[string]string{},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return store, nil
		}

		return nil, fmt.Errorf("read config: %w", err)
	}

	var raw map[string]any

	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	for key, value := range raw {
		store.values[key] = formatValue(value)
	}

	return store, nil
}

// Path returns the file path of the store.
func (s *Store) Path() string {
	return s.path
}

// Get returns the stored value for the key and if it is set.
func (s *Store) Get(key string) (string, bool) {
	value, exists := s.values[key]
	return value, exists
}

// Set validates and stores the value for the key and writes the file.
func (s *Store) Set(key, value string) error {
	if err := ValidateValue(key, value); err != nil {
		return err
	}

	s.values[key] = value

	return s.save()
}

// Reset removes the key from the store and writes the file.
func (s *Store) Reset(key string) error {
	if !IsPersistedKey(key) {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}

	if _, exists := s.values[key]; !exists {
		return nil
	}

	delete(s.values, key)

	return s.save()
}

func (s *Store) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(s.values)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return sys.WriteFileAtomic(s.path, data, 0o644) //nolint:wrapcheck
}

// Render writes the given values as YAML document in the order of the
// persisted keys. Empty values are rendered as empty strings, so every key
// is visible.
func Render(w io.Writer, values map[string]string) error {
	doc := &yaml.Node{Kind: yaml.MappingNode}

	for _, key := range persistedKeys {
		doc.Content = append(doc.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: key},
			&yaml.Node{Kind: yaml.ScalarNode, Value: values[key], Style: scalarStyle(values[key])},
		)
	}

	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)

	if err := encoder.Encode(doc); err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	return encoder.Close() //nolint:wrapcheck
}

func scalarStyle(value string) yaml.Style {
	if value == "" {
		return yaml.DoubleQuotedStyle
	}

	return 0
}

func formatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []any:
		var list string

		for idx, entry := range v {
			if idx > 0 {
				list += ","
			}

			list += formatValue(entry)
		}

		return list
	default:
		return fmt.Sprint(v)
	}
}
