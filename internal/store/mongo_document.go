package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dreamware/polystore/internal/model"
)

const mongoDatabase = "polyglots-db"

// MongoDocumentStore implements DocumentStore against one MongoDB shard.
// Array appends go through $push/$addToSet so concurrent writers never
// read-modify-write the whole document.
type MongoDocumentStore struct {
	client   *mongo.Client
	products *mongo.Collection
	users    *mongo.Collection
}

// DialMongo connects to the MongoDB shard at addr (host or host:port) and
// verifies the connection before returning. user/password may be empty
// for unauthenticated shards.
func DialMongo(ctx context.Context, addr, user, password string) (*MongoDocumentStore, error) {
	uri := fmt.Sprintf("mongodb://%s/", addr)
	if user != "" {
		uri = fmt.Sprintf("mongodb://%s:%s@%s/?authSource=admin", user, password, addr)
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	db := client.Database(mongoDatabase)
	return &MongoDocumentStore{
		client:   client,
		products: db.Collection("products"),
		users:    db.Collection("users"),
	}, nil
}

// InsertProduct stores a new product document. The duplicate probe and
// the insert are two round trips; the unique index on product_id backs
// them up if another writer slips in between.
func (s *MongoDocumentStore) InsertProduct(ctx context.Context, p *model.Product) error {
	err := s.products.FindOne(ctx, bson.M{"product_id": p.ProductID}).Err()
	if err == nil {
		return ErrDuplicateKey
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return err
	}
	if _, err := s.products.InsertOne(ctx, p); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return err
	}
	return nil
}

// FindProduct fetches a product by id.
func (s *MongoDocumentStore) FindProduct(ctx context.Context, productID int) (*model.Product, error) {
	var p model.Product
	err := s.products.FindOne(ctx, bson.M{"product_id": productID}).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNoDocument
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdateProduct applies a partial $set update to the product document.
func (s *MongoDocumentStore) UpdateProduct(ctx context.Context, productID int, fields map[string]any) error {
	res, err := s.products.UpdateOne(ctx,
		bson.M{"product_id": productID},
		bson.M{"$set": bson.M(fields)})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNoDocument
	}
	return nil
}

// AppendProductRating pushes one rating onto the product's ratings array.
func (s *MongoDocumentStore) AppendProductRating(ctx context.Context, productID int, r model.ProductRating) error {
	return s.push(ctx, s.products, bson.M{"product_id": productID}, "ratings", r)
}

// AppendProductReview pushes one review onto the product's reviews array.
func (s *MongoDocumentStore) AppendProductReview(ctx context.Context, productID int, r model.ProductReview) error {
	return s.push(ctx, s.products, bson.M{"product_id": productID}, "reviews", r)
}

// ListProducts returns up to limit products from this shard.
func (s *MongoDocumentStore) ListProducts(ctx context.Context, limit int) ([]*model.Product, error) {
	opts := options.Find()
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := s.products.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []*model.Product
	for cursor.Next(ctx) {
		var p model.Product
		if err := cursor.Decode(&p); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, cursor.Err()
}

// InsertUser stores a new user document.
func (s *MongoDocumentStore) InsertUser(ctx context.Context, u *model.User) error {
	err := s.users.FindOne(ctx, bson.M{"username": u.Username}).Err()
	if err == nil {
		return ErrDuplicateKey
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return err
	}
	if _, err := s.users.InsertOne(ctx, u); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return err
	}
	return nil
}

// FindUser fetches a user by username.
func (s *MongoDocumentStore) FindUser(ctx context.Context, username string) (*model.User, error) {
	var u model.User
	err := s.users.FindOne(ctx, bson.M{"username": username}).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNoDocument
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// UpdateUser applies a partial $set update to the user document.
func (s *MongoDocumentStore) UpdateUser(ctx context.Context, username string, fields map[string]any) error {
	res, err := s.users.UpdateOne(ctx,
		bson.M{"username": username},
		bson.M{"$set": bson.M(fields)})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNoDocument
	}
	return nil
}

// AppendUserRating pushes one rating onto the user's ratings array.
func (s *MongoDocumentStore) AppendUserRating(ctx context.Context, username string, r model.ProductRating) error {
	return s.push(ctx, s.users, bson.M{"username": username}, "ratings", r)
}

// AppendUserReview pushes one review onto the user's reviews array.
func (s *MongoDocumentStore) AppendUserReview(ctx context.Context, username string, r model.ProductReview) error {
	return s.push(ctx, s.users, bson.M{"username": username}, "reviews", r)
}

// RecordUserTransaction adds the transaction id, address and payment to
// the user document via $addToSet so replays don't duplicate them.
func (s *MongoDocumentStore) RecordUserTransaction(ctx context.Context, username string, transactionID int, addr model.Address, pay model.Payment) error {
	res, err := s.users.UpdateOne(ctx,
		bson.M{"username": username},
		bson.M{"$addToSet": bson.M{
			"transactions": transactionID,
			"addresses":    addr,
			"payments":     pay,
		}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNoDocument
	}
	return nil
}

func (s *MongoDocumentStore) push(ctx context.Context, coll *mongo.Collection, filter bson.M, field string, value any) error {
	res, err := coll.UpdateOne(ctx, filter, bson.M{"$push": bson.M{field: value}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNoDocument
	}
	return nil
}

// Ping verifies the shard is still reachable.
func (s *MongoDocumentStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects from the shard.
func (s *MongoDocumentStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
