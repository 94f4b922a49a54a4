package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/loomworks/loom/internal/config"
	"github.com/loomworks/loom/internal/ir"
)

// Graph is the dependency graph over a configuration: one node per
// resource or data source, one edge per reference. Building it is a
// pure transformation of the parsed document.
type Graph struct {
	nodes map[ir.Identity]*graphNode
	order []ir.Identity
}

type graphNode struct {
	addr       ir.Identity
	block      *config.ResourceBlock
	deps       map[ir.Identity]bool
	dependents map[ir.Identity]bool
}

// BuildGraph constructs the graph and computes the total order. A
// reference to an undeclared object fails with ir.ReferenceError; an
// unbroken cycle fails with ir.CycleError. Nodes with no ordering
// constraint between them keep their declaration order, so repeated
// runs over identical input produce identical plans.
//
// The create-before-destroy exemption of the cycle rule applies to the
// action schedule, not to this graph: a CBD replacement's deferred
// destroy runs after every other action, which removes the back-edge
// that would otherwise tie the replacement to its dependents. The
// configuration reference graph itself must always be acyclic.
func BuildGraph(doc *config.Document) (*Graph, error) {
	g := &Graph{nodes: make(map[ir.Identity]*graphNode)}

	for _, rb := range doc.Resources {
		g.nodes[rb.Addr] = &graphNode{
			addr:       rb.Addr,
			block:      rb,
			deps:       make(map[ir.Identity]bool),
			dependents: make(map[ir.Identity]bool),
		}
	}

	for _, rb := range doc.Resources {
		refs, err := rb.References()
		if err != nil {
			return nil, err
		}
		node := g.nodes[rb.Addr]
		for _, ref := range refs {
			if ref.Var != "" {
				if _, ok := doc.Variables[ref.Var]; !ok {
					return nil, &ir.ReferenceError{Addr: rb.Addr, Expression: ref.Expr}
				}
				continue
			}
			target, ok := g.nodes[ref.Subject]
			if !ok {
				return nil, &ir.ReferenceError{Addr: rb.Addr, Expression: ref.Expr}
			}
			if target.addr == rb.Addr {
				return nil, &ir.CycleError{Nodes: []string{rb.Addr.String()}}
			}
			node.deps[ref.Subject] = true
			target.dependents[rb.Addr] = true
		}
	}

	order, err := g.topoSort()
	if err != nil {
		return nil, err
	}
	g.order = order
	return g, nil
}

// topoSort runs Kahn's algorithm with a declaration-order tie-break.
func (g *Graph) topoSort() ([]ir.Identity, error) {
	inDegree := make(map[ir.Identity]int, len(g.nodes))
	for addr, node := range g.nodes {
		inDegree[addr] = len(node.deps)
	}

	var ready []*graphNode
	for addr, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, g.nodes[addr])
		}
	}

	var sorted []ir.Identity
	for len(ready) > 0 {
		// Stable tie-break: lowest declaration index first.
		sort.Slice(ready, func(i, j int) bool {
			return ready[i].block.DeclIndex < ready[j].block.DeclIndex
		})
		node := ready[0]
		ready = ready[1:]
		sorted = append(sorted, node.addr)

		for dep := range node.dependents {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				ready = append(ready, g.nodes[dep])
			}
		}
	}

	if len(sorted) != len(g.nodes) {
		var cyclic []string
		for addr, deg := range inDegree {
			if deg > 0 {
				cyclic = append(cyclic, addr.String())
			}
		}
		sort.Strings(cyclic)
		return nil, &ir.CycleError{Nodes: cyclic}
	}
	return sorted, nil
}

// Order returns node addresses in creation order.
func (g *Graph) Order() []ir.Identity {
	return g.order
}

// ReverseOrder returns node addresses in destruction order.
func (g *Graph) ReverseOrder() []ir.Identity {
	rev := make([]ir.Identity, len(g.order))
	for i, addr := range g.order {
		rev[len(g.order)-1-i] = addr
	}
	return rev
}

// Block returns the declaration block for an address.
func (g *Graph) Block(addr ir.Identity) *config.ResourceBlock {
	if node, ok := g.nodes[addr]; ok {
		return node.block
	}
	return nil
}

// Dependencies returns the direct dependencies of an address, in
// stable order.
func (g *Graph) Dependencies(addr ir.Identity) []ir.Identity {
	node, ok := g.nodes[addr]
	if !ok {
		return nil
	}
	deps := make([]ir.Identity, 0, len(node.deps))
	for dep := range node.deps {
		deps = append(deps, dep)
	}
	sort.Slice(deps, func(i, j int) bool { return deps[i].String() < deps[j].String() })
	return deps
}

// Dot renders the graph in DOT format for visualization.
func (g *Graph) Dot() string {
	var b strings.Builder
	b.WriteString("digraph {\n")
	for _, addr := range g.order {
		fmt.Fprintf(&b, "  %q;\n", addr.String())
		for _, dep := range g.Dependencies(addr) {
			fmt.Fprintf(&b, "  %q -> %q;\n", addr.String(), dep.String())
		}
	}
	b.WriteString("}\n")
	return b.String()
}
