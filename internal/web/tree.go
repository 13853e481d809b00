package web

import (
	"context"

	"locterms-annotator/internal/model"
	"locterms-annotator/internal/store"
)

// treeRootKey is the pseudo-key the widget sends for the top of the hierarchy.
const treeRootKey = "root"

// termChildren resolves one lazy-load request: the narrower terms of key, or
// the root terms when key is treeRootKey. Unknown keys yield an empty list so
// the widget simply shows no children.
func (s *Server) termChildren(ctx context.Context, st store.Store, key string, selected map[string]bool) ([]model.TreeNode, error) {
	var (
		nodes []store.TermNode
		err   error
	)
	if key == treeRootKey {
		nodes, err = st.RootTerms(ctx)
	} else {
		nodes, err = st.NarrowerOf(ctx, key)
	}
	if err != nil {
		return nil, err
	}

	out := make([]model.TreeNode, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, model.TreeNode{
			Title:    n.Label,
			Key:      n.Key,
			Lazy:     n.HasNarrower,
			Selected: selected[n.Key],
		})
	}
	return out, nil
}

func selectedSet(sess model.Session) map[string]bool {
	m := make(map[string]bool, len(sess.Selected))
	for _, k := range sess.Selected {
		m[k] = true
	}
	return m
}
