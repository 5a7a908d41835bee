package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/dreamware/polystore/internal/locator"
	"github.com/dreamware/polystore/internal/model"
	"github.com/dreamware/polystore/internal/store"
)

// NewUserInput is the caller-supplied part of a user create.
type NewUserInput struct {
	Username  string
	FirstName string
	LastName  string
}

// CreateUser places a new user on the least-loaded shard and writes it
// through to the relational and graph stores. On a secondary-store
// failure the returned error wraps ErrSecondaryWrite and the user is
// still returned: the primary write stands.
func (s *Service) CreateUser(ctx context.Context, in NewUserInput) (*model.User, error) {
	username, err := validateUsername(in.Username)
	if err != nil {
		return nil, err
	}
	first, err := validatePersonName("first name", in.FirstName)
	if err != nil {
		return nil, err
	}
	last, err := validatePersonName("last name", in.LastName)
	if err != nil {
		return nil, err
	}

	key := locator.UserKey(username)

	// Duplicate probe against the location index. The document store's
	// own key check backs this up if two creates race past it.
	probeCtx, cancel := bounded(ctx)
	_, err = s.locator.Resolve(probeCtx, key)
	cancel()
	if err == nil {
		return nil, fmt.Errorf("%w: user %s", ErrDuplicate, username)
	}
	if !errors.Is(err, locator.ErrNotFound) {
		return nil, fmt.Errorf("create user: duplicate probe: %w", err)
	}

	addr, err := s.registry.ChooseShardForWrite()
	if err != nil {
		return nil, fmt.Errorf("create user: place: %w", err)
	}

	user := &model.User{
		Username:     username,
		FirstName:    first,
		LastName:     last,
		Addresses:    []model.Address{},
		Payments:     []model.Payment{},
		Transactions: []int{},
		Ratings:      []model.ProductRating{},
		Reviews:      []model.ProductReview{},
	}

	writeCtx, cancel := bounded(ctx)
	err = s.withAddrRetry(writeCtx, addr, func(ctx context.Context, conn store.DocumentStore) error {
		return conn.InsertUser(ctx, user)
	})
	cancel()
	if errors.Is(err, store.ErrDuplicateKey) {
		return nil, fmt.Errorf("%w: user %s", ErrDuplicate, username)
	}
	if err != nil {
		return nil, fmt.Errorf("create user: primary write to %s: %w", addr, err)
	}

	indexCtx, cancel := bounded(ctx)
	err = s.locator.Record(indexCtx, key, addr)
	cancel()
	if err != nil {
		// The document is durable but unroutable; surface loudly, the
		// index is the only path back to it.
		return nil, fmt.Errorf("create user: index write: %w", err)
	}

	if err := s.userSecondaries(ctx, username, first, last); err != nil {
		return user, err
	}
	return user, nil
}

func (s *Service) userSecondaries(ctx context.Context, username, first, last string) error {
	relCtx, cancel := bounded(ctx)
	err := s.relational.InsertUserRecord(relCtx, model.UserRecord{
		Username:  username,
		FirstName: first,
		LastName:  last,
	})
	cancel()
	if err != nil && !errors.Is(err, store.ErrDuplicateKey) {
		log.Printf("service: relational write for user %s failed: %v", username, err)
		return fmt.Errorf("%w: relational user row %s: %v", ErrSecondaryWrite, username, err)
	}

	graphCtx, cancel := bounded(ctx)
	err = s.graph.AddUser(graphCtx, username)
	cancel()
	if err != nil {
		log.Printf("service: graph write for user %s failed: %v", username, err)
		return fmt.Errorf("%w: graph user node %s: %v", ErrSecondaryWrite, username, err)
	}
	return nil
}

// NewProductInput is the caller-supplied part of a product create.
type NewProductInput struct {
	Name  string
	Price float64
}

// CreateProduct reserves the next product id, places the product on the
// least-loaded shard and writes it through to the relational and graph
// stores. A failed primary write compensates the id reservation before
// returning.
func (s *Service) CreateProduct(ctx context.Context, in NewProductInput) (*model.Product, error) {
	name, err := validateProductName(in.Name)
	if err != nil {
		return nil, err
	}
	if err := validatePrice(in.Price); err != nil {
		return nil, err
	}

	addr, err := s.registry.ChooseShardForWrite()
	if err != nil {
		return nil, fmt.Errorf("create product: place: %w", err)
	}

	idCtx, cancel := bounded(ctx)
	id, err := s.counters.NextProductID(idCtx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}

	product := &model.Product{
		ProductID: id,
		Name:      name,
		Price:     in.Price,
		Ratings:   []model.ProductRating{},
		Reviews:   []model.ProductReview{},
	}

	writeCtx, cancel := bounded(ctx)
	err = s.withAddrRetry(writeCtx, addr, func(ctx context.Context, conn store.DocumentStore) error {
		return conn.InsertProduct(ctx, product)
	})
	cancel()
	if err != nil {
		rbCtx, cancel := bounded(context.Background())
		s.counters.RollbackProductID(rbCtx)
		cancel()
		if errors.Is(err, store.ErrDuplicateKey) {
			return nil, fmt.Errorf("%w: product %d", ErrDuplicate, id)
		}
		return nil, fmt.Errorf("create product: primary write to %s: %w", addr, err)
	}

	indexCtx, cancel := bounded(ctx)
	err = s.locator.Record(indexCtx, locator.ProductKey(id), addr)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("create product: index write: %w", err)
	}

	if err := s.productSecondaries(ctx, product); err != nil {
		return product, err
	}
	return product, nil
}

func (s *Service) productSecondaries(ctx context.Context, p *model.Product) error {
	record := model.ProductRecord{ProductID: p.ProductID, Name: p.Name, Price: p.Price}

	relCtx, cancel := bounded(ctx)
	err := s.relational.InsertProductRecord(relCtx, record)
	cancel()
	if err != nil && !errors.Is(err, store.ErrDuplicateKey) {
		log.Printf("service: relational write for product %d failed: %v", p.ProductID, err)
		return fmt.Errorf("%w: relational product row %d: %v", ErrSecondaryWrite, p.ProductID, err)
	}

	graphCtx, cancel := bounded(ctx)
	err = s.graph.AddProduct(graphCtx, record)
	cancel()
	if err != nil {
		log.Printf("service: graph write for product %d failed: %v", p.ProductID, err)
		return fmt.Errorf("%w: graph product node %d: %v", ErrSecondaryWrite, p.ProductID, err)
	}
	return nil
}

// NewTransactionInput is the caller-supplied part of a transaction
// create.
type NewTransactionInput struct {
	Username  string
	ProductID int
	CardNum   int64
	Address   string
	City      string
	State     string
	Zip       int
}

// CreateTransaction reserves the next transaction id and writes the
// authoritative row to the relational store, then books the purchase onto
// the buying user's document and the graph. Both the user and the product
// must already exist.
func (s *Service) CreateTransaction(ctx context.Context, in NewTransactionInput) (*model.TransactionRecord, error) {
	username, err := validateUsername(in.Username)
	if err != nil {
		return nil, err
	}
	addrLine, err := cleanString("address", in.Address)
	if err != nil {
		return nil, err
	}

	userKey := locator.UserKey(username)

	resolveCtx, cancel := bounded(ctx)
	_, err = s.locator.Resolve(resolveCtx, userKey)
	cancel()
	if errors.Is(err, locator.ErrNotFound) {
		return nil, fmt.Errorf("%w: user %s", ErrEntityNotFound, username)
	}
	if err != nil {
		return nil, fmt.Errorf("create transaction: %w", err)
	}

	resolveCtx, cancel = bounded(ctx)
	_, err = s.locator.Resolve(resolveCtx, locator.ProductKey(in.ProductID))
	cancel()
	if errors.Is(err, locator.ErrNotFound) {
		return nil, fmt.Errorf("%w: product %d", ErrEntityNotFound, in.ProductID)
	}
	if err != nil {
		return nil, fmt.Errorf("create transaction: %w", err)
	}

	idCtx, cancel := bounded(ctx)
	id, err := s.counters.NextTransactionID(idCtx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("create transaction: %w", err)
	}

	record := &model.TransactionRecord{
		TransactionID: id,
		Username:      username,
		ProductID:     in.ProductID,
		CardNum:       in.CardNum,
		Address:       addrLine,
		City:          in.City,
		State:         in.State,
		Zip:           in.Zip,
	}

	relCtx, cancel := bounded(ctx)
	err = s.relational.InsertTransactionRecord(relCtx, *record)
	cancel()
	if err != nil {
		rbCtx, cancel := bounded(context.Background())
		s.counters.RollbackTransactionID(rbCtx)
		cancel()
		if errors.Is(err, store.ErrDuplicateKey) {
			return nil, fmt.Errorf("%w: transaction %d", ErrDuplicate, id)
		}
		return nil, fmt.Errorf("create transaction: primary write: %w", err)
	}

	// Bookkeeping on the user document and the purchase edge are
	// secondaries: the transaction row already stands.
	bookCtx, cancel := bounded(ctx)
	err = s.withConnRetry(bookCtx, userKey, func(ctx context.Context, conn store.DocumentStore) error {
		return conn.RecordUserTransaction(ctx, username, id,
			model.Address{Address: addrLine, City: in.City, State: in.State, Zip: in.Zip},
			model.Payment{CardNum: in.CardNum})
	})
	cancel()
	if err != nil {
		log.Printf("service: user bookkeeping for transaction %d failed: %v", id, err)
		return record, fmt.Errorf("%w: user bookkeeping for transaction %d: %v", ErrSecondaryWrite, id, err)
	}

	graphCtx, cancel := bounded(ctx)
	err = s.graph.AddPurchase(graphCtx, username, in.ProductID)
	cancel()
	if err != nil {
		log.Printf("service: graph edge for transaction %d failed: %v", id, err)
		return record, fmt.Errorf("%w: purchase edge for transaction %d: %v", ErrSecondaryWrite, id, err)
	}
	return record, nil
}
