package config

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/ext/typeexpr"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/loomworks/loom/internal/ir"
)

// Document is the parsed form of every *.hcl file in a configuration
// directory, merged into one declaration set.
type Document struct {
	Resources []*ResourceBlock // managed and data, in declaration order
	Variables map[string]*Variable
	Outputs   []*Output
	Providers map[string]hcl.Body
}

// ResourceBlock is one resource or data block with its meta-arguments
// separated from the user attribute body.
type ResourceBlock struct {
	Addr      ir.Identity
	Provider  string
	DeclIndex int
	DeclRange hcl.Range
	Lifecycle ir.Lifecycle
	DependsOn []ir.Identity
	Body      hcl.Body
}

// Variable is a named, typed input with an optional default.
type Variable struct {
	Name        string
	Type        cty.Type
	Default     cty.Value
	HasDefault  bool
	Description string
}

// Output is a named value exported from the configuration.
type Output struct {
	Name        string
	Expr        hcl.Expression
	Description string
}

var rootSchema = &hcl.BodySchema{
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "resource", LabelNames: []string{"type", "name"}},
		{Type: "data", LabelNames: []string{"type", "name"}},
		{Type: "variable", LabelNames: []string{"name"}},
		{Type: "output", LabelNames: []string{"name"}},
		{Type: "provider", LabelNames: []string{"name"}},
	},
}

var resourceMetaSchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "depends_on"},
		{Name: "provider"},
	},
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "lifecycle"},
	},
}

var lifecycleSchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "create_before_destroy"},
		{Name: "prevent_destroy"},
		{Name: "ignore_changes"},
	},
}

var variableSchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "type"},
		{Name: "default"},
		{Name: "description"},
	},
}

var outputSchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "value", Required: true},
		{Name: "description"},
	},
}

// LoadDir parses and merges every .hcl file in dir.
func LoadDir(dir string) (*Document, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.hcl"))
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, &ir.ParseError{Detail: fmt.Sprintf("no .hcl files found in %s", dir)}
	}
	sort.Strings(paths)

	parser := hclparse.NewParser()
	doc := &Document{
		Variables: make(map[string]*Variable),
		Providers: make(map[string]hcl.Body),
	}
	for _, path := range paths {
		file, diags := parser.ParseHCLFile(path)
		if diags.HasErrors() {
			return nil, &ir.ParseError{Filename: path, Detail: diags.Error()}
		}
		if err := doc.appendFile(path, file); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

// LoadSource parses a single in-memory document, mainly for tests.
func LoadSource(src, filename string) (*Document, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL([]byte(src), filename)
	if diags.HasErrors() {
		return nil, &ir.ParseError{Filename: filename, Detail: diags.Error()}
	}
	doc := &Document{
		Variables: make(map[string]*Variable),
		Providers: make(map[string]hcl.Body),
	}
	if err := doc.appendFile(filename, file); err != nil {
		return nil, err
	}
	return doc, nil
}

func (d *Document) appendFile(path string, file *hcl.File) error {
	content, diags := file.Body.Content(rootSchema)
	if diags.HasErrors() {
		return &ir.ParseError{Filename: path, Detail: diags.Error()}
	}

	for _, block := range content.Blocks {
		switch block.Type {
		case "resource", "data":
			rb, err := decodeResource(path, block)
			if err != nil {
				return err
			}
			rb.DeclIndex = len(d.Resources)
			if prev := d.Resource(rb.Addr); prev != nil {
				return &ir.ParseError{Filename: path,
					Detail: fmt.Sprintf("duplicate declaration of %s", rb.Addr)}
			}
			d.Resources = append(d.Resources, rb)
		case "variable":
			v, err := decodeVariable(path, block)
			if err != nil {
				return err
			}
			if _, dup := d.Variables[v.Name]; dup {
				return &ir.ParseError{Filename: path,
					Detail: fmt.Sprintf("duplicate declaration of variable %q", v.Name)}
			}
			d.Variables[v.Name] = v
		case "output":
			o, err := decodeOutput(path, block)
			if err != nil {
				return err
			}
			d.Outputs = append(d.Outputs, o)
		case "provider":
			d.Providers[block.Labels[0]] = block.Body
		}
	}
	return nil
}

// Resource looks up a declared block by identity.
func (d *Document) Resource(addr ir.Identity) *ResourceBlock {
	for _, rb := range d.Resources {
		if rb.Addr == addr {
			return rb
		}
	}
	return nil
}

func decodeResource(path string, block *hcl.Block) (*ResourceBlock, error) {
	mode := ir.ModeManaged
	if block.Type == "data" {
		mode = ir.ModeData
	}
	rb := &ResourceBlock{
		Addr:      ir.Identity{Mode: mode, Type: block.Labels[0], Name: block.Labels[1]},
		Provider:  providerForType(block.Labels[0]),
		DeclRange: block.DefRange,
	}

	meta, rest, diags := block.Body.PartialContent(resourceMetaSchema)
	if diags.HasErrors() {
		return nil, &ir.ParseError{Filename: path, Detail: diags.Error()}
	}
	rb.Body = rest

	if attr, ok := meta.Attributes["provider"]; ok {
		name, err := decodeStaticString(path, attr)
		if err != nil {
			return nil, err
		}
		rb.Provider = name
	}
	if attr, ok := meta.Attributes["depends_on"]; ok {
		deps, err := decodeDependsOn(path, attr)
		if err != nil {
			return nil, err
		}
		rb.DependsOn = deps
	}
	for _, lb := range meta.Blocks {
		lc, err := decodeLifecycle(path, lb)
		if err != nil {
			return nil, err
		}
		rb.Lifecycle = *lc
	}
	return rb, nil
}

func decodeLifecycle(path string, block *hcl.Block) (*ir.Lifecycle, error) {
	content, diags := block.Body.Content(lifecycleSchema)
	if diags.HasErrors() {
		return nil, &ir.ParseError{Filename: path, Detail: diags.Error()}
	}
	lc := &ir.Lifecycle{}
	if attr, ok := content.Attributes["create_before_destroy"]; ok {
		v, diags := attr.Expr.Value(nil)
		if diags.HasErrors() {
			return nil, &ir.ParseError{Filename: path, Detail: diags.Error()}
		}
		lc.CreateBeforeDestroy = v.True()
	}
	if attr, ok := content.Attributes["prevent_destroy"]; ok {
		v, diags := attr.Expr.Value(nil)
		if diags.HasErrors() {
			return nil, &ir.ParseError{Filename: path, Detail: diags.Error()}
		}
		lc.PreventDestroy = v.True()
	}
	if attr, ok := content.Attributes["ignore_changes"]; ok {
		exprs, diags := hcl.ExprList(attr.Expr)
		if diags.HasErrors() {
			return nil, &ir.ParseError{Filename: path, Detail: diags.Error()}
		}
		for _, e := range exprs {
			trav, diags := hcl.AbsTraversalForExpr(e)
			if diags.HasErrors() {
				return nil, &ir.ParseError{Filename: path, Detail: diags.Error()}
			}
			lc.IgnoreChanges = append(lc.IgnoreChanges, trav.RootName())
		}
	}
	return lc, nil
}

func decodeDependsOn(path string, attr *hcl.Attribute) ([]ir.Identity, error) {
	exprs, diags := hcl.ExprList(attr.Expr)
	if diags.HasErrors() {
		return nil, &ir.ParseError{Filename: path, Detail: diags.Error()}
	}
	var out []ir.Identity
	for _, e := range exprs {
		trav, diags := hcl.AbsTraversalForExpr(e)
		if diags.HasErrors() {
			return nil, &ir.ParseError{Filename: path, Detail: diags.Error()}
		}
		ref, err := refFromTraversal(trav)
		if err != nil {
			return nil, &ir.ParseError{Filename: path, Detail: err.Error()}
		}
		if ref.Var != "" {
			return nil, &ir.ParseError{Filename: path,
				Detail: fmt.Sprintf("depends_on may not reference variable %q", ref.Var)}
		}
		out = append(out, ref.Subject)
	}
	return out, nil
}

func decodeVariable(path string, block *hcl.Block) (*Variable, error) {
	content, diags := block.Body.Content(variableSchema)
	if diags.HasErrors() {
		return nil, &ir.ParseError{Filename: path, Detail: diags.Error()}
	}
	v := &Variable{Name: block.Labels[0], Type: cty.DynamicPseudoType}

	if attr, ok := content.Attributes["type"]; ok {
		ty, diags := typeexpr.TypeConstraint(attr.Expr)
		if diags.HasErrors() {
			return nil, &ir.ParseError{Filename: path, Detail: diags.Error()}
		}
		v.Type = ty
	}
	if attr, ok := content.Attributes["default"]; ok {
		def, diags := attr.Expr.Value(nil)
		if diags.HasErrors() {
			return nil, &ir.ParseError{Filename: path, Detail: diags.Error()}
		}
		v.Default = def
		v.HasDefault = true
	}
	if attr, ok := content.Attributes["description"]; ok {
		desc, err := decodeStaticString(path, attr)
		if err != nil {
			return nil, err
		}
		v.Description = desc
	}
	return v, nil
}

func decodeOutput(path string, block *hcl.Block) (*Output, error) {
	content, diags := block.Body.Content(outputSchema)
	if diags.HasErrors() {
		return nil, &ir.ParseError{Filename: path, Detail: diags.Error()}
	}
	o := &Output{Name: block.Labels[0], Expr: content.Attributes["value"].Expr}
	if attr, ok := content.Attributes["description"]; ok {
		desc, err := decodeStaticString(path, attr)
		if err != nil {
			return nil, err
		}
		o.Description = desc
	}
	return o, nil
}

func decodeStaticString(path string, attr *hcl.Attribute) (string, error) {
	v, diags := attr.Expr.Value(nil)
	if diags.HasErrors() {
		return "", &ir.ParseError{Filename: path, Detail: diags.Error()}
	}
	if v.Type() != cty.String {
		return "", &ir.ParseError{Filename: path,
			Detail: fmt.Sprintf("%s must be a string", attr.Name)}
	}
	return v.AsString(), nil
}

// providerForType infers the owning provider from a resource type
// prefix: "aws_instance" belongs to "aws".
func providerForType(typeName string) string {
	if i := strings.Index(typeName, "_"); i > 0 {
		return typeName[:i]
	}
	return typeName
}
