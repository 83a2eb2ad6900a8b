package config

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/sdlb/smartdatalake/internal/fsutil"
)

// Load recursively discovers every *.hcl file under dir, parses each one,
// and merges their data_object/connection/action blocks into a single Root.
// Condition and expression attributes are decoded as plain strings; they are
// parsed and evaluated later by internal/expr, once the run's typed
// evaluation context (internal/expr.Context) exists.
func Load(dir string) (*Root, hcl.Diagnostics, error) {
	paths, err := fsutil.FindFilesByExtension(dir, ".hcl")
	if err != nil {
		return nil, nil, fmt.Errorf("discovering config files under %s: %w", dir, err)
	}
	if len(paths) == 0 {
		return nil, nil, fmt.Errorf("no .hcl files found under %s", dir)
	}

	parser := hclparse.NewParser()
	root := &Root{}
	var diags hcl.Diagnostics

	for _, path := range paths {
		f, fDiags := parser.ParseHCLFile(path)
		diags = append(diags, fDiags...)
		if fDiags.HasErrors() {
			continue
		}

		var part Root
		partDiags := gohcl.DecodeBody(f.Body, nil, &part)
		diags = append(diags, partDiags...)
		if partDiags.HasErrors() {
			continue
		}

		root.DataObjects = append(root.DataObjects, part.DataObjects...)
		root.Connections = append(root.Connections, part.Connections...)
		root.Actions = append(root.Actions, part.Actions...)
	}

	if diags.HasErrors() {
		return nil, diags, fmt.Errorf("parsing configuration under %s: %w", dir, diags)
	}

	if err := validateIDs(root); err != nil {
		return nil, diags, err
	}
	return root, diags, nil
}

// validateIDs rejects duplicate data object, connection, or action names,
// catching the most common copy-paste config mistake before the scheduler
// ever builds a graph from it.
func validateIDs(root *Root) error {
	seenDO := make(map[string]bool, len(root.DataObjects))
	for _, do := range root.DataObjects {
		if seenDO[do.Name] {
			return fmt.Errorf("duplicate data_object id %q", do.Name)
		}
		seenDO[do.Name] = true
	}
	seenConn := make(map[string]bool, len(root.Connections))
	for _, c := range root.Connections {
		if seenConn[c.Name] {
			return fmt.Errorf("duplicate connection id %q", c.Name)
		}
		seenConn[c.Name] = true
	}
	seenAction := make(map[string]bool, len(root.Actions))
	for _, a := range root.Actions {
		if seenAction[a.Name] {
			return fmt.Errorf("duplicate action id %q", a.Name)
		}
		seenAction[a.Name] = true
	}
	return nil
}
