// Package memory stores the swarm's shared knowledge graph in Neo4j:
// named entities with typed observations, linked by relations.
package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 100
)

// Entity is one node in the knowledge graph. Observations are
// free-text facts accumulated about it.
type Entity struct {
	Name         string    `json:"name"`
	Type         string    `json:"type"`
	Domain       string    `json:"domain,omitempty"`
	Observations []string  `json:"observations"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
}

// Relation is a directed edge between two entities.
type Relation struct {
	From string `json:"from"`
	To   string `json:"to"`
	Type string `json:"type"`
}

// SearchQuery filters a substring search over entity names and
// observations. Limit is clamped to 1..100, defaulting to 20.
type SearchQuery struct {
	Text   string `json:"text"`
	Type   string `json:"type,omitempty"`
	Domain string `json:"domain,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// Graph wraps the Neo4j driver with the graph operations.
type Graph struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

// NewGraph connects to Neo4j and verifies connectivity.
func NewGraph(ctx context.Context, uri, user, password string, logger *zap.Logger) (*Graph, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("verify neo4j connectivity: %w", err)
	}
	return &Graph{driver: driver, logger: logger}, nil
}

// Close shuts down the driver.
func (g *Graph) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}

// CreateEntities upserts entities by name. Observations merge into the
// existing list without duplicates.
func (g *Graph) CreateEntities(ctx context.Context, entities []*Entity) error {
	if len(entities) == 0 {
		return nil
	}
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	for _, e := range entities {
		if e.Name == "" {
			return fmt.Errorf("entity name is required")
		}
		_, err := session.Run(ctx,
			`MERGE (e:Entity {name: $name})
			 ON CREATE SET e.type = $type, e.domain = $domain,
			               e.observations = $observations, e.created_at = datetime()
			 ON MATCH SET e.type = coalesce($type, e.type),
			              e.domain = coalesce($domain, e.domain),
			              e.observations = [o IN e.observations WHERE NOT o IN $observations] + $observations`,
			map[string]any{
				"name":         e.Name,
				"type":         e.Type,
				"domain":       e.Domain,
				"observations": e.Observations,
			})
		if err != nil {
			return fmt.Errorf("merge entity %q: %w", e.Name, err)
		}
	}
	g.logger.Debug("entities merged", zap.Int("count", len(entities)))
	return nil
}

// AddObservations appends facts to an existing entity.
func (g *Graph) AddObservations(ctx context.Context, name string, observations []string) error {
	if len(observations) == 0 {
		return nil
	}
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (e:Entity {name: $name})
		 SET e.observations = [o IN e.observations WHERE NOT o IN $observations] + $observations
		 RETURN e.name`,
		map[string]any{"name": name, "observations": observations})
	if err != nil {
		return fmt.Errorf("add observations to %q: %w", name, err)
	}
	if !result.Next(ctx) {
		return fmt.Errorf("entity %q not found", name)
	}
	return nil
}

// CreateRelations adds directed edges between existing entities.
func (g *Graph) CreateRelations(ctx context.Context, relations []*Relation) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	for _, r := range relations {
		if r.From == "" || r.To == "" || r.Type == "" {
			return fmt.Errorf("relation needs from, to, and type")
		}
		_, err := session.Run(ctx,
			`MATCH (a:Entity {name: $from}), (b:Entity {name: $to})
			 MERGE (a)-[rel:RELATES {type: $type}]->(b)`,
			map[string]any{"from": r.From, "to": r.To, "type": r.Type})
		if err != nil {
			return fmt.Errorf("merge relation %s-[%s]->%s: %w", r.From, r.Type, r.To, err)
		}
	}
	return nil
}

// Search finds entities whose name or any observation contains the
// query text, case-insensitively, optionally narrowed by type and
// domain.
func (g *Graph) Search(ctx context.Context, q SearchQuery) ([]*Entity, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	text := strings.ToLower(q.Text)

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (e:Entity)
		 WHERE (toLower(e.name) CONTAINS $text
		        OR any(o IN e.observations WHERE toLower(o) CONTAINS $text))
		   AND ($type = '' OR e.type = $type)
		   AND ($domain = '' OR e.domain = $domain)
		 RETURN e.name, e.type, e.domain, e.observations
		 ORDER BY e.name LIMIT $limit`,
		map[string]any{
			"text":   text,
			"type":   q.Type,
			"domain": q.Domain,
			"limit":  limit,
		})
	if err != nil {
		return nil, fmt.Errorf("search entities: %w", err)
	}
	return collectEntities(ctx, result)
}

// OpenNodes returns the named entities that exist.
func (g *Graph) OpenNodes(ctx context.Context, names []string) ([]*Entity, error) {
	if len(names) == 0 {
		return nil, nil
	}
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (e:Entity) WHERE e.name IN $names
		 RETURN e.name, e.type, e.domain, e.observations
		 ORDER BY e.name`,
		map[string]any{"names": names})
	if err != nil {
		return nil, fmt.Errorf("open nodes: %w", err)
	}
	return collectEntities(ctx, result)
}

// DeleteEntities removes entities and their relations.
func (g *Graph) DeleteEntities(ctx context.Context, names []string) error {
	if len(names) == 0 {
		return nil
	}
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.Run(ctx,
		`MATCH (e:Entity) WHERE e.name IN $names DETACH DELETE e`,
		map[string]any{"names": names})
	if err != nil {
		return fmt.Errorf("delete entities: %w", err)
	}
	return nil
}

func collectEntities(ctx context.Context, result neo4j.ResultWithContext) ([]*Entity, error) {
	var entities []*Entity
	for result.Next(ctx) {
		rec := result.Record()
		name, _ := rec.Get("e.name")
		typ, _ := rec.Get("e.type")
		domain, _ := rec.Get("e.domain")
		obs, _ := rec.Get("e.observations")

		e := &Entity{}
		if s, ok := name.(string); ok {
			e.Name = s
		}
		if s, ok := typ.(string); ok {
			e.Type = s
		}
		if s, ok := domain.(string); ok {
			e.Domain = s
		}
		if list, ok := obs.([]any); ok {
			for _, o := range list {
				if s, ok := o.(string); ok {
					e.Observations = append(e.Observations, s)
				}
			}
		}
		entities = append(entities, e)
	}
	return entities, result.Err()
}
