package schema

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/docsync/internal/doc"
)

// CompileCUE compiles every collection declared in a CUE source.
// filename is used in error positions only.
func CompileCUE(filename string, src []byte) ([]doc.Schema, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	collections := v.LookupPath(cue.ParsePath("collection"))
	if !collections.Exists() {
		return nil, nil
	}
	iter, err := collections.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var out []doc.Schema
	for iter.Next() {
		s, err := CompileCollection(iter.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// CompileCollection parses one collection struct. The collection name is
// the struct's label.
func CompileCollection(v cue.Value) (doc.Schema, error) {
	if err := v.Err(); err != nil {
		return doc.Schema{}, formatCUEError(err)
	}

	var s doc.Schema
	if labels := v.Path().Selectors(); len(labels) > 0 {
		s.Name = labels[len(labels)-1].String()
	}
	fail := func(field, msg string, at cue.Value) error {
		return &CompileError{Collection: s.Name, Field: field, Message: msg, Pos: at.Pos()}
	}

	pk := v.LookupPath(cue.ParsePath("primary_key"))
	if !pk.Exists() {
		return doc.Schema{}, fail("primary_key", "primary_key is required", v)
	}
	var err error
	if s.PrimaryKey, err = pk.String(); err != nil {
		return doc.Schema{}, fail("primary_key", "must be a string", pk)
	}

	if version := v.LookupPath(cue.ParsePath("version")); version.Exists() {
		n, err := version.Int64()
		if err != nil {
			return doc.Schema{}, fail("version", "must be an integer", version)
		}
		s.Version = int(n)
	}

	if indexes := v.LookupPath(cue.ParsePath("indexes")); indexes.Exists() {
		list, err := indexes.List()
		if err != nil {
			return doc.Schema{}, fail("indexes", "must be a list of field lists", indexes)
		}
		for list.Next() {
			fields, err := stringList(list.Value())
			if err != nil {
				return doc.Schema{}, fail("indexes", err.Error(), list.Value())
			}
			s.Indexes = append(s.Indexes, fields)
		}
	}

	if ck := v.LookupPath(cue.ParsePath("composite_key")); ck.Exists() {
		fields, err := stringList(ck.LookupPath(cue.ParsePath("fields")))
		if err != nil {
			return doc.Schema{}, fail("composite_key.fields", err.Error(), ck)
		}
		sep, err := ck.LookupPath(cue.ParsePath("separator")).String()
		if err != nil {
			return doc.Schema{}, fail("composite_key.separator", "must be a string", ck)
		}
		s.CompositeKey = &doc.CompositeKey{Fields: fields, Separator: sep}
	}

	if err := s.Validate(); err != nil {
		return doc.Schema{}, fail("schema", err.Error(), v)
	}
	return s, nil
}

func stringList(v cue.Value) ([]string, error) {
	if !v.Exists() {
		return nil, fmt.Errorf("list is required")
	}
	iter, err := v.List()
	if err != nil {
		return nil, fmt.Errorf("must be a list of strings")
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, fmt.Errorf("must be a list of strings")
		}
		out = append(out, s)
	}
	return out, nil
}
