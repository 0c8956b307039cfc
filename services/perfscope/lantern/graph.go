// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lantern

import (
	"fmt"
	"sort"

	"github.com/AleutianAI/perfscope/services/perfscope/handlers"
)

// Node is one request in a Graph.
type Node struct {
	Request handlers.Request

	// Parent indexes Graph.Nodes, or is -1 for the root.
	Parent int

	// Children index Graph.Nodes, ordered by request start.
	Children []int
}

// Graph is a network dependency tree rooted at the main document.
//
// Description:
//
//	A request's parent is the request that loaded its initiator URL when
//	one exists in the set and started earlier, otherwise the main document.
//	The result is always a tree, so every node except the root has exactly
//	one parent.
type Graph struct {
	Nodes []Node
	Root  int
	byID  map[string]int
}

// BuildGraph builds the dependency tree for requests.
//
// Inputs:
//
//	requests - Requests of one navigation, in any order.
//	mainDocumentID - Request id of the navigation's document.
//
// Outputs:
//
//	*Graph - The tree.
//	error - ErrNoNetworkRequests or ErrMissingMainDocument.
func BuildGraph(requests []handlers.Request, mainDocumentID string) (*Graph, error) {
	if len(requests) == 0 {
		return nil, ErrNoNetworkRequests
	}

	sorted := append([]handlers.Request(nil), requests...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	g := &Graph{
		Nodes: make([]Node, len(sorted)),
		Root:  -1,
		byID:  make(map[string]int, len(sorted)),
	}
	byURL := make(map[string]int, len(sorted))
	for i, r := range sorted {
		g.Nodes[i] = Node{Request: r, Parent: -1}
		g.byID[r.ID] = i
		if _, ok := byURL[r.URL]; !ok {
			byURL[r.URL] = i
		}
		if r.ID == mainDocumentID {
			g.Root = i
		}
	}
	if g.Root < 0 {
		return nil, fmt.Errorf("%w: id %q", ErrMissingMainDocument, mainDocumentID)
	}

	for i := range g.Nodes {
		if i == g.Root {
			continue
		}
		parent := g.Root
		if p, ok := byURL[g.Nodes[i].Request.InitiatorURL]; ok && p != i && p < i {
			parent = p
		}
		g.Nodes[i].Parent = parent
		g.Nodes[parent].Children = append(g.Nodes[parent].Children, i)
	}
	return g, nil
}

// Index returns the node index for a request id.
func (g *Graph) Index(requestID string) (int, bool) {
	i, ok := g.byID[requestID]
	return i, ok
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.Nodes)
}

// Descendants returns the indices of every node below i, not including i.
func (g *Graph) Descendants(i int) []int {
	var out []int
	stack := append([]int(nil), g.Nodes[i].Children...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, n)
		stack = append(stack, g.Nodes[n].Children...)
	}
	sort.Ints(out)
	return out
}

// WithAncestors returns the given nodes, every ancestor of them, and the
// root.
func (g *Graph) WithAncestors(nodes []int) map[int]bool {
	out := map[int]bool{g.Root: true}
	for _, n := range nodes {
		for n >= 0 && !out[n] {
			out[n] = true
			n = g.Nodes[n].Parent
		}
	}
	return out
}
