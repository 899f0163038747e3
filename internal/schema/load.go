package schema

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/roach88/docsync/internal/doc"
)

// ErrUnknownCollection is returned by Find for a name no schema declares.
var ErrUnknownCollection = errors.New("unknown collection")

// yamlFile is the on-disk shape of a YAML schema file.
type yamlFile struct {
	Collections []doc.Schema `yaml:"collections"`
}

// CompileYAML parses a YAML schema file. Unknown fields are rejected.
func CompileYAML(src []byte) ([]doc.Schema, error) {
	var f yamlFile
	dec := yaml.NewDecoder(bytes.NewReader(src))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse YAML schema: %w", err)
	}
	for i, s := range f.Collections {
		if err := s.Validate(); err != nil {
			return nil, &CompileError{Collection: s.Name, Field: fmt.Sprintf("collections[%d]", i), Message: err.Error()}
		}
	}
	return f.Collections, nil
}

// Load reads schemas from a file (.cue, .yaml or .yml) or from every such
// file in a directory tree, in lexical path order. Duplicate collection
// names are an error.
func Load(path string) ([]doc.Schema, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("schema path: %w", err)
	}

	files := []string{path}
	if info.IsDir() {
		if files, err = findSchemaFiles(path); err != nil {
			return nil, err
		}
		if len(files) == 0 {
			return nil, fmt.Errorf("no schema files found in %s", path)
		}
	}

	var out []doc.Schema
	seen := make(map[string]string)
	for _, file := range files {
		schemas, err := loadFile(file)
		if err != nil {
			return nil, err
		}
		for _, s := range schemas {
			if prev, dup := seen[s.Name]; dup {
				return nil, fmt.Errorf("collection %q declared in %s and %s", s.Name, prev, file)
			}
			seen[s.Name] = file
			out = append(out, s)
		}
	}
	return out, nil
}

// Find returns the schema of the named collection.
func Find(schemas []doc.Schema, name string) (doc.Schema, error) {
	for _, s := range schemas {
		if s.Name == name {
			return s, nil
		}
	}
	return doc.Schema{}, fmt.Errorf("%w: %s", ErrUnknownCollection, name)
}

func loadFile(path string) ([]doc.Schema, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	switch filepath.Ext(path) {
	case ".cue":
		return CompileCUE(path, src)
	case ".yaml", ".yml":
		schemas, err := CompileYAML(src)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return schemas, nil
	default:
		return nil, fmt.Errorf("unsupported schema file %s", path)
	}
}

func findSchemaFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		switch filepath.Ext(path) {
		case ".cue", ".yaml", ".yml":
			if !info.IsDir() {
				files = append(files, path)
			}
		}
		return nil
	})
	slices.Sort(files)
	return files, err
}
