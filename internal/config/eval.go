package config

import (
	"fmt"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"

	"github.com/loomworks/loom/internal/ir"
)

// Ref is one reference expression found in a resource body: either a
// resource/data-source attribute reference or a variable reference.
type Ref struct {
	Subject ir.Identity // zero when Var is set
	Var     string
	Expr    string // source form, for error messages
}

// References returns every reference expression in the block's body,
// including explicit depends_on entries.
func (r *ResourceBlock) References() ([]Ref, error) {
	body, ok := r.Body.(*hclsyntax.Body)
	if !ok {
		return nil, &ir.ParseError{Detail: fmt.Sprintf("%s: unsupported body syntax", r.Addr)}
	}
	var refs []Ref
	if err := collectBodyRefs(body, true, &refs); err != nil {
		return nil, &ir.ParseError{Detail: fmt.Sprintf("%s: %s", r.Addr, err)}
	}
	for _, dep := range r.DependsOn {
		refs = append(refs, Ref{Subject: dep, Expr: dep.String()})
	}
	return refs, nil
}

// Meta-arguments are claimed during parsing but remain visible in the
// raw syntax body, so body walks must skip them at the top level.
func isMetaAttr(name string) bool {
	return name == "depends_on" || name == "provider"
}

func collectBodyRefs(body *hclsyntax.Body, topLevel bool, out *[]Ref) error {
	for name, attr := range body.Attributes {
		if topLevel && isMetaAttr(name) {
			continue
		}
		for _, trav := range attr.Expr.Variables() {
			ref, err := refFromTraversal(trav)
			if err != nil {
				return err
			}
			*out = append(*out, ref)
		}
	}
	for _, block := range body.Blocks {
		if topLevel && block.Type == "lifecycle" {
			continue
		}
		if err := collectBodyRefs(block.Body, false, out); err != nil {
			return err
		}
	}
	return nil
}

// refFromTraversal classifies a traversal rooted at "var", "data", or a
// resource type name.
func refFromTraversal(trav hcl.Traversal) (Ref, error) {
	expr := traversalString(trav)
	switch root := trav.RootName(); root {
	case "var":
		if len(trav) < 2 {
			return Ref{}, fmt.Errorf("invalid variable reference %q", expr)
		}
		name, err := traversalStep(trav[1])
		if err != nil {
			return Ref{}, fmt.Errorf("invalid variable reference %q", expr)
		}
		return Ref{Var: name, Expr: expr}, nil
	case "data":
		if len(trav) < 3 {
			return Ref{}, fmt.Errorf("invalid data source reference %q", expr)
		}
		typeName, err1 := traversalStep(trav[1])
		name, err2 := traversalStep(trav[2])
		if err1 != nil || err2 != nil {
			return Ref{}, fmt.Errorf("invalid data source reference %q", expr)
		}
		return Ref{Subject: ir.Identity{Mode: ir.ModeData, Type: typeName, Name: name}, Expr: expr}, nil
	default:
		if len(trav) < 2 {
			return Ref{}, fmt.Errorf("invalid reference %q", expr)
		}
		name, err := traversalStep(trav[1])
		if err != nil {
			return Ref{}, fmt.Errorf("invalid reference %q", expr)
		}
		return Ref{Subject: ir.Identity{Mode: ir.ModeManaged, Type: root, Name: name}, Expr: expr}, nil
	}
}

func traversalStep(step hcl.Traverser) (string, error) {
	switch s := step.(type) {
	case hcl.TraverseAttr:
		return s.Name, nil
	case hcl.TraverseIndex:
		if s.Key.Type() == cty.String {
			return s.Key.AsString(), nil
		}
		return "", fmt.Errorf("unexpected index step")
	default:
		return "", fmt.Errorf("unexpected traversal step")
	}
}

func traversalString(trav hcl.Traversal) string {
	var b strings.Builder
	for i, step := range trav {
		switch s := step.(type) {
		case hcl.TraverseRoot:
			b.WriteString(s.Name)
		case hcl.TraverseAttr:
			b.WriteString("." + s.Name)
		case hcl.TraverseIndex:
			if i > 0 {
				fmt.Fprintf(&b, "[%v]", s.Key.GoString())
			}
		}
	}
	return b.String()
}

// Scope carries the values reference expressions resolve against.
// Objects holds one value per resource address: a concrete object built
// from a state record, or an unknown value for resources whose new
// attributes have not been produced yet.
type Scope struct {
	Variables map[string]cty.Value
	Objects   map[ir.Identity]cty.Value
}

func NewScope(variables map[string]cty.Value) *Scope {
	return &Scope{
		Variables: variables,
		Objects:   make(map[ir.Identity]cty.Value),
	}
}

// SetObject binds a resource address to its attribute object.
func (s *Scope) SetObject(addr ir.Identity, v cty.Value) {
	s.Objects[addr] = v
}

// SetUnknown marks a resource address as unknown until applied.
func (s *Scope) SetUnknown(addr ir.Identity) {
	s.Objects[addr] = cty.DynamicVal
}

// EvalContext builds the HCL evaluation context: var.*, data.*.*, and
// one root per managed resource type.
func (s *Scope) EvalContext() *hcl.EvalContext {
	vars := make(map[string]cty.Value)
	if len(s.Variables) > 0 {
		vars["var"] = cty.ObjectVal(s.Variables)
	} else {
		vars["var"] = cty.EmptyObjectVal
	}

	managed := make(map[string]map[string]cty.Value)
	data := make(map[string]map[string]cty.Value)
	for addr, v := range s.Objects {
		group := managed
		if addr.Mode == ir.ModeData {
			group = data
		}
		if group[addr.Type] == nil {
			group[addr.Type] = make(map[string]cty.Value)
		}
		group[addr.Type][addr.Name] = v
	}
	for typeName, names := range managed {
		vars[typeName] = cty.ObjectVal(names)
	}
	if len(data) > 0 {
		byType := make(map[string]cty.Value, len(data))
		for typeName, names := range data {
			byType[typeName] = cty.ObjectVal(names)
		}
		vars["data"] = cty.ObjectVal(byType)
	}
	return &hcl.EvalContext{Variables: vars}
}

// EvalBody evaluates a resource body against the scope, returning the
// argument map. Nested blocks become lists of objects keyed by block
// type. Values referencing unknown objects come back as ir.Unknown.
func EvalBody(body hcl.Body, scope *Scope) (map[string]any, error) {
	synBody, ok := body.(*hclsyntax.Body)
	if !ok {
		return nil, &ir.ParseError{Detail: "unsupported body syntax"}
	}
	return evalSynBody(synBody, scope.EvalContext(), true)
}

func evalSynBody(body *hclsyntax.Body, ctx *hcl.EvalContext, topLevel bool) (map[string]any, error) {
	args := make(map[string]any)
	for name, attr := range body.Attributes {
		if topLevel && isMetaAttr(name) {
			continue
		}
		v, diags := attr.Expr.Value(ctx)
		if diags.HasErrors() {
			return nil, &ir.ParseError{Detail: diags.Error()}
		}
		args[name] = FromCty(v)
	}
	for _, block := range body.Blocks {
		if topLevel && block.Type == "lifecycle" {
			continue
		}
		obj, err := evalSynBody(block.Body, ctx, false)
		if err != nil {
			return nil, err
		}
		list, _ := args[block.Type].([]any)
		args[block.Type] = append(list, obj)
	}
	return args, nil
}

// ResolveVariables produces the final variable values from declarations
// plus caller-supplied overrides, resolved once per run.
func ResolveVariables(doc *Document, overrides map[string]string) (map[string]cty.Value, error) {
	out := make(map[string]cty.Value, len(doc.Variables))
	for name, decl := range doc.Variables {
		if raw, ok := overrides[name]; ok {
			v, err := convert.Convert(cty.StringVal(raw), decl.Type)
			if err != nil {
				return nil, &ir.ParseError{
					Detail: fmt.Sprintf("invalid value for variable %q: %s", name, err)}
			}
			out[name] = v
			continue
		}
		if decl.HasDefault {
			v, err := convert.Convert(decl.Default, decl.Type)
			if err != nil {
				return nil, &ir.ParseError{
					Detail: fmt.Sprintf("invalid default for variable %q: %s", name, err)}
			}
			out[name] = v
			continue
		}
		return nil, &ir.ParseError{Detail: fmt.Sprintf("variable %q has no value and no default", name)}
	}
	for name := range overrides {
		if _, declared := doc.Variables[name]; !declared {
			return nil, &ir.ParseError{Detail: fmt.Sprintf("value supplied for undeclared variable %q", name)}
		}
	}
	return out, nil
}

// EvalProviderSettings evaluates a provider configuration block with
// variables in scope.
func EvalProviderSettings(body hcl.Body, scope *Scope) (map[string]any, error) {
	return EvalBody(body, scope)
}

// EvalOutput evaluates a single output value expression.
func EvalOutput(o *Output, scope *Scope) (any, error) {
	v, diags := o.Expr.Value(scope.EvalContext())
	if diags.HasErrors() {
		return nil, &ir.ParseError{Detail: diags.Error()}
	}
	return FromCty(v), nil
}
