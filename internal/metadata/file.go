package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// FileLookup serves metadata from an in-process registry loaded from YAML:
//
//	schemas:
//	  structure:
//	    rcsb_polymer_instance_annotation.type:
//	      attrObj:
//	        nestedAttribute:
//	          attribute: rcsb_polymer_instance_annotation.annotation_lineage.id
//	      facetFilter:
//	        type: terminal
//	        service: text
//	        parameters: {attribute: ..., operator: exact_match, value: ...}
type FileLookup struct {
	schemas map[string]map[string]Metadata
}

type registryFile struct {
	Schemas map[string]map[string]any `yaml:"schemas"`
}

// LoadFile reads a YAML registry from path.
func LoadFile(path string) (*FileLookup, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open registry: %w", err)
	}
	defer f.Close()
	return LoadRegistry(f)
}

// LoadRegistry parses a YAML registry. Entries use the same field names as
// the remote JSON form, so they go through the same decoder.
func LoadRegistry(r io.Reader) (*FileLookup, error) {
	var doc registryFile
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to parse registry: %w", err)
	}

	l := &FileLookup{schemas: make(map[string]map[string]Metadata, len(doc.Schemas))}
	for schema, attrs := range doc.Schemas {
		l.schemas[schema] = make(map[string]Metadata, len(attrs))
		for attr, raw := range attrs {
			data, err := json.Marshal(raw)
			if err != nil {
				return nil, fmt.Errorf("registry %s/%s: %w", schema, attr, err)
			}
			var m Metadata
			if err := json.Unmarshal(data, &m); err != nil {
				return nil, fmt.Errorf("registry %s/%s: %w", schema, attr, err)
			}
			l.schemas[schema][attr] = m
		}
	}
	return l, nil
}

func (l *FileLookup) Lookup(_ context.Context, schema string, attributes []string) (map[string]Metadata, error) {
	out := make(map[string]Metadata, len(attributes))
	known := l.schemas[schema]
	for _, a := range attributes {
		if m, ok := known[a]; ok {
			out[a] = m
		}
	}
	return out, nil
}
