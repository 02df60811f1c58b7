// Package canvas holds the node/edge/viewport state model of a task canvas:
// sanitizers applied before every write and the change handlers clients send
// when nodes are dragged, added or removed.
package canvas

import (
	"errors"
	"fmt"
	"math"

	"constellation/internal/domain"
)

var (
	ErrInvalidNode   = errors.New("invalid node")
	ErrInvalidEdge   = errors.New("invalid edge")
	ErrInvalidChange = errors.New("invalid change")
)

const defaultNodeType = "default"

func finiteOr(v, fallback float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fallback
	}
	return v
}

// SanitizeViewport coerces non-finite coordinates to 0 and any zoom that is
// non-finite or not positive to 1.
func SanitizeViewport(v domain.Viewport) domain.Viewport {
	out := domain.Viewport{
		X:    finiteOr(v.X, 0),
		Y:    finiteOr(v.Y, 0),
		Zoom: finiteOr(v.Zoom, 1),
	}
	if out.Zoom <= 0 {
		out.Zoom = 1
	}
	return out
}

// SanitizePosition coerces non-finite coordinates to 0.
func SanitizePosition(p domain.Position) domain.Position {
	return domain.Position{X: finiteOr(p.X, 0), Y: finiteOr(p.Y, 0)}
}

// SanitizeNodes validates node ids, defaults empty types and drops duplicate
// ids keeping the last occurrence in its first slot.
func SanitizeNodes(nodes []domain.Node) ([]domain.Node, error) {
	out := make([]domain.Node, 0, len(nodes))
	index := make(map[string]int, len(nodes))
	for i, n := range nodes {
		if n.ID == "" {
			return nil, fmt.Errorf("%w: node %d has no id", ErrInvalidNode, i)
		}
		if n.Type == "" {
			n.Type = defaultNodeType
		}
		n.Position = SanitizePosition(n.Position)
		if at, ok := index[n.ID]; ok {
			out[at] = n
			continue
		}
		index[n.ID] = len(out)
		out = append(out, n)
	}
	return out, nil
}

// SanitizeEdges validates edge endpoints and drops repeated ids, keeping the first.
func SanitizeEdges(edges []domain.Edge) ([]domain.Edge, error) {
	out := make([]domain.Edge, 0, len(edges))
	seen := make(map[string]struct{}, len(edges))
	for i, e := range edges {
		if e.ID == "" || e.Source == "" || e.Target == "" {
			return nil, fmt.Errorf("%w: edge %d needs id, source and target", ErrInvalidEdge, i)
		}
		if _, ok := seen[e.ID]; ok {
			continue
		}
		seen[e.ID] = struct{}{}
		out = append(out, e)
	}
	return out, nil
}

type ChangeType string

const (
	ChangePosition ChangeType = "position"
	ChangeAdd      ChangeType = "add"
	ChangeRemove   ChangeType = "remove"
)

type NodeChange struct {
	Type     ChangeType       `json:"type" enum:"position,add,remove"`
	ID       string           `json:"id,omitempty"`
	Position *domain.Position `json:"position,omitempty"`
	Item     *domain.Node     `json:"item,omitempty"`
}

type EdgeChange struct {
	Type ChangeType   `json:"type" enum:"add,remove"`
	ID   string       `json:"id,omitempty"`
	Item *domain.Edge `json:"item,omitempty"`
}

// ApplyNodeChanges returns a new node list with changes applied in order and
// whether anything changed. Position changes for unknown ids are ignored.
func ApplyNodeChanges(nodes []domain.Node, changes []NodeChange) ([]domain.Node, bool, error) {
	updated := append([]domain.Node(nil), nodes...)
	changed := false
	for _, ch := range changes {
		switch ch.Type {
		case ChangePosition:
			for i := range updated {
				if updated[i].ID != ch.ID {
					continue
				}
				if ch.Position != nil {
					updated[i].Position = SanitizePosition(*ch.Position)
				}
				changed = true
				break
			}
		case ChangeAdd:
			if ch.Item == nil {
				continue
			}
			node := *ch.Item
			if node.ID == "" {
				return nil, false, fmt.Errorf("%w: added node has no id", ErrInvalidNode)
			}
			if node.Type == "" {
				node.Type = defaultNodeType
			}
			node.Position = SanitizePosition(node.Position)
			updated = append(updated, node)
			changed = true
		case ChangeRemove:
			kept := updated[:0:0]
			for _, n := range updated {
				if n.ID != ch.ID {
					kept = append(kept, n)
				}
			}
			updated = kept
			changed = true
		default:
			return nil, false, fmt.Errorf("%w: node change type %q", ErrInvalidChange, ch.Type)
		}
	}
	return updated, changed, nil
}

// ApplyEdgeChanges returns a new edge list with changes applied in order.
// Adding an edge whose id already exists is a no-op.
func ApplyEdgeChanges(edges []domain.Edge, changes []EdgeChange) ([]domain.Edge, bool, error) {
	updated := append([]domain.Edge(nil), edges...)
	changed := false
	for _, ch := range changes {
		switch ch.Type {
		case ChangeAdd:
			if ch.Item == nil {
				continue
			}
			edge := *ch.Item
			if edge.ID == "" || edge.Source == "" || edge.Target == "" {
				return nil, false, fmt.Errorf("%w: added edge needs id, source and target", ErrInvalidEdge)
			}
			if containsEdge(updated, edge.ID) {
				continue
			}
			updated = append(updated, edge)
			changed = true
		case ChangeRemove:
			kept := updated[:0:0]
			for _, e := range updated {
				if e.ID != ch.ID {
					kept = append(kept, e)
				}
			}
			updated = kept
			changed = true
		default:
			return nil, false, fmt.Errorf("%w: edge change type %q", ErrInvalidChange, ch.Type)
		}
	}
	return updated, changed, nil
}

func containsEdge(edges []domain.Edge, id string) bool {
	for _, e := range edges {
		if e.ID == id {
			return true
		}
	}
	return false
}

// DanglingEdges lists edges whose source or target is not among nodes.
func DanglingEdges(nodes []domain.Node, edges []domain.Edge) []string {
	present := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		present[n.ID] = struct{}{}
	}
	var dangling []string
	for _, e := range edges {
		_, src := present[e.Source]
		_, dst := present[e.Target]
		if !src || !dst {
			dangling = append(dangling, e.ID)
		}
	}
	return dangling
}

// PruneEdges drops edges that no longer connect two existing nodes.
func PruneEdges(nodes []domain.Node, edges []domain.Edge) []domain.Edge {
	dangling := DanglingEdges(nodes, edges)
	if len(dangling) == 0 {
		return edges
	}
	drop := make(map[string]struct{}, len(dangling))
	for _, id := range dangling {
		drop[id] = struct{}{}
	}
	out := make([]domain.Edge, 0, len(edges)-len(dangling))
	for _, e := range edges {
		if _, ok := drop[e.ID]; !ok {
			out = append(out, e)
		}
	}
	return out
}
