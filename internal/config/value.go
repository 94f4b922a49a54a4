package config

import (
	"fmt"
	"sort"

	"github.com/zclconf/go-cty/cty"

	"github.com/loomworks/loom/internal/ir"
)

// FromCty converts an evaluated cty value into the plain Go form used
// by plans, state records, and providers. Unknown values become the
// ir.Unknown marker.
func FromCty(v cty.Value) any {
	if !v.IsKnown() {
		return ir.Unknown
	}
	if v.IsNull() {
		return nil
	}
	ty := v.Type()
	switch {
	case ty == cty.String:
		return v.AsString()
	case ty == cty.Bool:
		return v.True()
	case ty == cty.Number:
		f, _ := v.AsBigFloat().Float64()
		return f
	case ty.IsListType() || ty.IsSetType() || ty.IsTupleType():
		out := make([]any, 0, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			out = append(out, FromCty(ev))
		}
		return out
	case ty.IsMapType() || ty.IsObjectType():
		out := make(map[string]any)
		for it := v.ElementIterator(); it.Next(); {
			kv, ev := it.Element()
			out[kv.AsString()] = FromCty(ev)
		}
		return out
	default:
		return fmt.Sprintf("%v", v)
	}
}

// ToCty converts a plain Go value (from a state record or a desired
// argument map) back into a cty value for expression evaluation. The
// ir.Unknown marker becomes a cty unknown.
func ToCty(v any) cty.Value {
	switch val := v.(type) {
	case nil:
		return cty.NullVal(cty.DynamicPseudoType)
	case string:
		return cty.StringVal(val)
	case bool:
		return cty.BoolVal(val)
	case int:
		return cty.NumberIntVal(int64(val))
	case int64:
		return cty.NumberIntVal(val)
	case float64:
		return cty.NumberFloatVal(val)
	case []any:
		if len(val) == 0 {
			return cty.EmptyTupleVal
		}
		elems := make([]cty.Value, len(val))
		for i, e := range val {
			elems[i] = ToCty(e)
		}
		return cty.TupleVal(elems)
	case map[string]any:
		if len(val) == 0 {
			return cty.EmptyObjectVal
		}
		attrs := make(map[string]cty.Value, len(val))
		for k, e := range val {
			attrs[k] = ToCty(e)
		}
		return cty.ObjectVal(attrs)
	case map[string]string:
		if len(val) == 0 {
			return cty.EmptyObjectVal
		}
		attrs := make(map[string]cty.Value, len(val))
		for k, e := range val {
			attrs[k] = cty.StringVal(e)
		}
		return cty.ObjectVal(attrs)
	default:
		if ir.IsUnknown(v) {
			return cty.DynamicVal
		}
		return cty.StringVal(fmt.Sprintf("%v", v))
	}
}

// ObjectFromRecord builds the scope object for an already-applied
// resource: exported attributes layered over last-applied arguments.
func ObjectFromRecord(rec *ir.Record) cty.Value {
	merged := make(map[string]any, len(rec.Args)+len(rec.Attrs))
	for k, v := range rec.Args {
		merged[k] = v
	}
	for k, v := range rec.Attrs {
		merged[k] = v
	}
	if len(merged) == 0 {
		return cty.EmptyObjectVal
	}
	return ToCty(merged)
}

// ObjectFromAttrs builds a scope object directly from an attribute map,
// used for data sources read during planning.
func ObjectFromAttrs(attrs map[string]any) cty.Value {
	if len(attrs) == 0 {
		return cty.EmptyObjectVal
	}
	return ToCty(attrs)
}

// SortedKeys returns the keys of an argument map in stable order.
func SortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
