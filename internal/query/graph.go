package query

import (
	"context"
	"time"

	"github.com/spherical-ai/raged/internal/storage"
)

const (
	DefaultGraphDepth    = 1
	MaxGraphDepth        = 3
	MaxGraphEntities     = 200
	DefaultGraphWallTime = 2 * time.Second
	neighboursPerEntity  = 25
	docsPerEntity        = 10
)

// GraphConfig bounds a single traversal's cost.
type GraphConfig struct {
	MaxEntities int
	WallClock   time.Duration
}

func DefaultGraphConfig() GraphConfig {
	return GraphConfig{MaxEntities: MaxGraphEntities, WallClock: DefaultGraphWallTime}
}

// GraphService performs bounded breadth-first traversal of the entity
// relationship graph starting from a seed name.
type GraphService struct {
	graph *storage.GraphRepository
	cfg   GraphConfig
}

func NewGraphService(graph *storage.GraphRepository, cfg GraphConfig) *GraphService {
	if cfg.MaxEntities <= 0 {
		cfg.MaxEntities = MaxGraphEntities
	}
	if cfg.WallClock <= 0 {
		cfg.WallClock = DefaultGraphWallTime
	}
	return &GraphService{graph: graph, cfg: cfg}
}

// DocRef is a lightweight document pointer attached to a graph node.
type DocRef struct {
	BaseID string `json:"baseId"`
	Source string `json:"source"`
}

// NeighbourInfo is one edge discovered during traversal.
type NeighbourInfo struct {
	Entity       string   `json:"entity"`
	Type         string   `json:"type"`
	Relationship string   `json:"relationship"`
	Direction    string   `json:"direction"` // "out" or "in"
	MentionCount int      `json:"mentionCount"`
	Depth        int      `json:"depth"`
	Documents    []DocRef `json:"documents,omitempty"`
}

// GraphMeta reports whether traversal was cut short.
type GraphMeta struct {
	Capped   bool     `json:"capped"`
	TimedOut bool     `json:"timedOut"`
	Warnings []string `json:"warnings,omitempty"`
}

// GraphResult is the shape of GET /graph/entity/:name (and the optional
// graph field embedded in a query response).
type GraphResult struct {
	Seed       string          `json:"seed"`
	Neighbours []NeighbourInfo `json:"neighbours"`
	Meta       GraphMeta       `json:"meta"`
}

// Expand walks the relationship graph from seedName out to depth levels
// (clamped to MaxGraphDepth), capping total visited entities and overall
// wall-clock time. Both caps degrade gracefully: traversal simply stops
// and reports what it found via Meta.
func (s *GraphService) Expand(ctx context.Context, collection, seedName string, depth int) (*GraphResult, error) {
	if depth <= 0 {
		depth = DefaultGraphDepth
	}
	if depth > MaxGraphDepth {
		depth = MaxGraphDepth
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.WallClock)
	defer cancel()

	if _, err := s.graph.GetEntity(ctx, collection, seedName); err != nil {
		return nil, err
	}

	result := &GraphResult{Seed: seedName, Neighbours: []NeighbourInfo{}}

	type frontierItem struct {
		name  string
		depth int
	}
	visited := map[string]bool{seedName: true}
	frontier := []frontierItem{{name: seedName, depth: 0}}

	for len(frontier) > 0 {
		if ctx.Err() != nil {
			result.Meta.TimedOut = true
			break
		}
		if len(visited) >= s.cfg.MaxEntities {
			result.Meta.Capped = true
			break
		}

		cur := frontier[0]
		frontier = frontier[1:]
		if cur.depth >= depth {
			continue
		}

		rels, err := s.graph.Neighbours(ctx, collection, cur.name, neighboursPerEntity)
		if err != nil {
			result.Meta.Warnings = append(result.Meta.Warnings, "neighbour lookup failed for "+cur.name)
			continue
		}

		for _, rel := range rels {
			other, direction := otherEndpoint(rel, cur.name)
			if other == "" {
				continue
			}

			docs, err := s.graph.DocumentsMentioning(ctx, collection, other, docsPerEntity)
			var docRefs []DocRef
			if err == nil {
				for _, d := range docs {
					docRefs = append(docRefs, DocRef{BaseID: d.BaseID, Source: d.Source})
				}
			}

			result.Neighbours = append(result.Neighbours, NeighbourInfo{
				Entity:       other,
				Type:         rel.Type,
				Relationship: rel.Type,
				Direction:    direction,
				MentionCount: rel.MentionCount,
				Depth:        cur.depth + 1,
				Documents:    docRefs,
			})

			if !visited[other] {
				visited[other] = true
				if len(visited) >= s.cfg.MaxEntities {
					result.Meta.Capped = true
					break
				}
				frontier = append(frontier, frontierItem{name: other, depth: cur.depth + 1})
			}
		}
	}

	return result, nil
}

func otherEndpoint(rel storage.Relationship, from string) (name string, direction string) {
	switch from {
	case rel.SourceEntity:
		return rel.TargetEntity, "out"
	case rel.TargetEntity:
		return rel.SourceEntity, "in"
	default:
		return "", ""
	}
}
