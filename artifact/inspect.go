// Package artifact implements structural inspection of implementation
// artifacts: the commit-time check that an artifact blob actually
// defines the symbol the unit declares. It works on the blob alone and
// never touches the working tree.
package artifact

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/c360studio/veriflow/verify"
)

// SymbolError means an implementation artifact does not define the
// symbol the unit declares. The bundle carrying it is rejected.
type SymbolError struct {
	UnitID     string
	Entrypoint string
	Artifact   string
	Defined    []string
}

func (e *SymbolError) Error() string {
	return fmt.Sprintf("artifact %q for unit %s does not define entrypoint %q (found %d top-level symbols)",
		e.Artifact, e.UnitID, e.Entrypoint, len(e.Defined))
}

// Unwrap lets callers treat a missing symbol as an incomplete bundle.
func (e *SymbolError) Unwrap() error {
	return verify.ErrIncompleteArtifactBundle
}

// Inspector parses implementation artifacts with a Python grammar and
// checks declared entrypoints against the defined symbols.
type Inspector struct {
	parser *sitter.Parser
}

// NewInspector creates an artifact inspector.
func NewInspector() *Inspector {
	p := sitter.NewParser()
	p.SetLanguage(python.GetLanguage())
	return &Inspector{parser: p}
}

// Check validates every implementation artifact in the bundle against
// the unit's declared entrypoint. Units without an entrypoint, and
// bundles without implementation artifacts, pass trivially.
func (i *Inspector) Check(ctx context.Context, unit *verify.Unit, bundle verify.Bundle) error {
	if unit.Entrypoint == "" {
		return nil
	}

	var firstMiss *SymbolError
	for idx := range bundle {
		a := &bundle[idx]
		if a.Kind != verify.ArtifactImplementation {
			continue
		}

		symbols, err := i.Symbols(ctx, a.Data)
		if err != nil {
			return fmt.Errorf("inspect artifact %q for %s: %w", a.Name, unit.ID, err)
		}
		for _, s := range symbols {
			if s == unit.Entrypoint {
				return nil
			}
		}
		if firstMiss == nil {
			firstMiss = &SymbolError{
				UnitID:     unit.ID,
				Entrypoint: unit.Entrypoint,
				Artifact:   a.Name,
				Defined:    symbols,
			}
		}
	}

	// Bundles without implementation artifacts pass trivially; bundle
	// completeness is judged elsewhere.
	if firstMiss != nil {
		return firstMiss
	}
	return nil
}

// Symbols parses source and returns the top-level defined symbol names:
// functions, classes, and module-level assignments. Decorated
// definitions count by their inner definition.
func (i *Inspector) Symbols(ctx context.Context, source []byte) ([]string, error) {
	if len(source) == 0 {
		return nil, fmt.Errorf("empty artifact source")
	}

	tree, err := i.parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, fmt.Errorf("parse artifact: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	var symbols []string
	for idx := 0; idx < int(root.NamedChildCount()); idx++ {
		child := root.NamedChild(idx)
		symbols = append(symbols, definedNames(child, source)...)
	}
	return symbols, nil
}

// definedNames extracts the names a top-level node defines.
func definedNames(node *sitter.Node, source []byte) []string {
	switch node.Type() {
	case "function_definition", "class_definition":
		if name := node.ChildByFieldName("name"); name != nil {
			return []string{string(source[name.StartByte():name.EndByte()])}
		}

	case "decorated_definition":
		for i := 0; i < int(node.NamedChildCount()); i++ {
			child := node.NamedChild(i)
			switch child.Type() {
			case "function_definition", "class_definition":
				return definedNames(child, source)
			}
		}

	case "expression_statement":
		var names []string
		for i := 0; i < int(node.NamedChildCount()); i++ {
			child := node.NamedChild(i)
			if child.Type() != "assignment" {
				continue
			}
			left := child.ChildByFieldName("left")
			if left != nil && left.Type() == "identifier" {
				names = append(names, string(source[left.StartByte():left.EndByte()]))
			}
		}
		return names
	}
	return nil
}
