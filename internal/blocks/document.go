package blocks

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Body is the raw mapping under a block name.
type Body map[string]any

// Document is a set of named blocks. A Document is never mutated after
// construction; Merge returns a new one.
type Document struct {
	blocks map[string]Body
}

// NewDocument builds a document from already-decoded blocks.
func NewDocument(blocks map[string]Body) *Document {
	doc := &Document{blocks: make(map[string]Body, len(blocks))}
	for name, body := range blocks {
		doc.blocks[name] = cloneBody(body)
	}
	return doc
}

// Parse decodes one or more YAML documents from data. Later documents replace
// blocks of the same name from earlier ones.
func Parse(data []byte) (*Document, error) {
	doc := &Document{blocks: map[string]Body{}}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	for {
		var raw map[string]Body
		err := decoder.Decode(&raw)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &ConfigError{Reason: "parse yaml", Err: err}
		}
		for name, body := range raw {
			if body == nil {
				body = Body{}
			}
			doc.blocks[name] = body
		}
	}
	return doc, nil
}

// LoadFiles parses each file in order and merges them into one document.
func LoadFiles(paths ...string) (*Document, error) {
	merged := &Document{blocks: map[string]Body{}}
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &ConfigError{Reason: fmt.Sprintf("read %s", path), Err: err}
		}
		doc, err := Parse(data)
		if err != nil {
			return nil, err
		}
		merged = merged.Merge(doc)
	}
	return merged, nil
}

// Merge returns a document holding d's blocks overridden by other's.
func (d *Document) Merge(other *Document) *Document {
	out := &Document{blocks: make(map[string]Body, len(d.blocks))}
	for name, body := range d.blocks {
		out.blocks[name] = cloneBody(body)
	}
	if other != nil {
		for name, body := range other.blocks {
			out.blocks[name] = cloneBody(body)
		}
	}
	return out
}

// Has reports whether a block is defined.
func (d *Document) Has(name string) bool {
	_, ok := d.blocks[name]
	return ok
}

// Names lists block names in sorted order.
func (d *Document) Names() []string {
	return slices.Sorted(maps.Keys(d.blocks))
}

// Body returns a copy of a block's raw body.
func (d *Document) Body(name string) (Body, bool) {
	body, ok := d.blocks[name]
	if !ok {
		return nil, false
	}
	return cloneBody(body), true
}

// Marshal renders the document as a single YAML mapping.
func (d *Document) Marshal() ([]byte, error) {
	return yaml.Marshal(d.blocks)
}

// RescueVariant returns the block marked `rescue: true` that includes name.
// When several qualify the lexically first is returned.
func (d *Document) RescueVariant(name string) (string, bool) {
	for _, candidate := range d.Names() {
		body := d.blocks[candidate]
		if rescue, _ := body[keyRescue].(bool); !rescue {
			continue
		}
		if slices.Contains(toStrings(body[keyIncludes]), name) {
			return candidate, true
		}
	}
	return "", false
}

func cloneBody(body Body) Body {
	if body == nil {
		return nil
	}
	out := make(Body, len(body))
	maps.Copy(out, body)
	return out
}
