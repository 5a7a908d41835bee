package store

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/dreamware/polystore/internal/model"
)

const neo4jDatabase = "neo4j"

// Neo4jGraph implements GraphStore and Recommender against a Neo4j
// server.
type Neo4jGraph struct {
	driver neo4j.DriverWithContext
}

// DialNeo4j connects to the Neo4j server at uri and verifies connectivity
// before returning.
func DialNeo4j(ctx context.Context, uri, user, password string) (*Neo4jGraph, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, err
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, err
	}
	return &Neo4jGraph{driver: driver}, nil
}

func (g *Neo4jGraph) run(ctx context.Context, cypher string, params map[string]any) error {
	_, err := neo4j.ExecuteQuery(ctx, g.driver, cypher, params,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(neo4jDatabase))
	return err
}

// AddUser creates a User node.
func (g *Neo4jGraph) AddUser(ctx context.Context, username string) error {
	return g.run(ctx,
		`CREATE (u:User {username: $username})`,
		map[string]any{"username": username})
}

// AddProduct creates a Product node.
func (g *Neo4jGraph) AddProduct(ctx context.Context, p model.ProductRecord) error {
	return g.run(ctx,
		`CREATE (p:Product {product_id: $product_id, name: $name, price: $price})`,
		map[string]any{"product_id": p.ProductID, "name": p.Name, "price": p.Price})
}

// AddPurchase creates a BOUGHT edge from user to product.
func (g *Neo4jGraph) AddPurchase(ctx context.Context, username string, productID int) error {
	return g.run(ctx,
		`MATCH (u:User {username: $username})
			MATCH (p:Product {product_id: $product_id})
			CREATE (u)-[:BOUGHT]->(p)`,
		map[string]any{"username": username, "product_id": productID})
}

// Recommend returns the products most frequently bought by users who also
// bought the given product, best first, at most five.
func (g *Neo4jGraph) Recommend(ctx context.Context, productID int) ([]model.ProductSummary, error) {
	result, err := neo4j.ExecuteQuery(ctx, g.driver,
		`MATCH (root:Product {product_id: $product_id}) <-[:BOUGHT]- (u:User) -[:BOUGHT]-> (p:Product)
			WHERE p <> root
			WITH p, count(p) AS cnt
			RETURN p.product_id, p.name, p.price, cnt
			ORDER BY cnt DESCENDING
			LIMIT 5`,
		map[string]any{"product_id": productID},
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(neo4jDatabase))
	if err != nil {
		return nil, err
	}

	out := make([]model.ProductSummary, 0, len(result.Records))
	for _, record := range result.Records {
		var s model.ProductSummary
		if v, ok := record.Get("p.product_id"); ok {
			if id, ok := v.(int64); ok {
				s.ProductID = int(id)
			}
		}
		if v, ok := record.Get("p.name"); ok {
			if name, ok := v.(string); ok {
				s.Name = name
			}
		}
		if v, ok := record.Get("p.price"); ok {
			if price, ok := v.(float64); ok {
				s.Price = price
			}
		}
		out = append(out, s)
	}
	return out, nil
}

// Close releases the driver.
func (g *Neo4jGraph) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}
