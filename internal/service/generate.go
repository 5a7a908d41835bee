package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
)

// Word pools for demo-data generation. Small on purpose; the generated
// catalog only needs to look plausible, not unique.
var (
	genFirstNames = []string{"Ada", "Grace", "Alan", "Edsger", "Barbara", "Donald", "Leslie", "Tony", "Radia", "Ken"}
	genLastNames  = []string{"Lovelace", "Hopper", "Turing", "Dijkstra", "Liskov", "Knuth", "Lamport", "Hoare", "Perlman", "Thompson"}
	genAdjectives = []string{"rustic", "sleek", "sturdy", "compact", "deluxe", "handy", "vintage", "modern", "quiet", "bright"}
	genNouns      = []string{"lamp", "kettle", "backpack", "speaker", "notebook", "mug", "blanket", "charger", "stool", "clock"}
	genCities     = []string{"Springfield", "Fairview", "Riverton", "Georgetown", "Ashland", "Milton"}
	genStates     = []string{"PA", "OH", "NY", "CA", "TX", "WA"}
	genReviews    = []string{
		"Does exactly what it says.",
		"Decent for the price.",
		"Broke after a week, would not buy again.",
		"Exceeded my expectations.",
		"Fine, nothing special.",
	}
)

func pick(rng *rand.Rand, pool []string) string {
	return pool[rng.Intn(len(pool))]
}

// GenerateUsers creates n random users through the normal create path.
// Returns how many landed; collisions on generated usernames are skipped,
// any other failure stops the run.
func (s *Service) GenerateUsers(ctx context.Context, rng *rand.Rand, n int) (int, error) {
	created := 0
	for i := 0; i < n; i++ {
		first := pick(rng, genFirstNames)
		last := pick(rng, genLastNames)
		username := fmt.Sprintf("%s%s%d", strings.ToLower(first[:1]), strings.ToLower(last), rng.Intn(100))

		_, err := s.CreateUser(ctx, NewUserInput{Username: username, FirstName: first, LastName: last})
		if isDuplicate(err) {
			continue
		}
		if err != nil {
			return created, fmt.Errorf("generate users: %w", err)
		}
		created++
	}
	return created, nil
}

// GenerateProducts creates n random products through the normal create
// path.
func (s *Service) GenerateProducts(ctx context.Context, rng *rand.Rand, n int) (int, error) {
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("%s, %s %s", pick(rng, genAdjectives), pick(rng, genAdjectives), pick(rng, genNouns))
		price := math.Round(rng.Float64()*50000) / 100

		if _, err := s.CreateProduct(ctx, NewProductInput{Name: name, Price: price}); err != nil {
			return i, fmt.Errorf("generate products: %w", err)
		}
	}
	return n, nil
}

// GenerateTransactions creates n random transactions between existing
// users and products. Requires at least one of each to already exist.
func (s *Service) GenerateTransactions(ctx context.Context, rng *rand.Rand, n int) (int, error) {
	usernames, productIDs, err := s.existingEntities(ctx)
	if err != nil {
		return 0, fmt.Errorf("generate transactions: %w", err)
	}

	for i := 0; i < n; i++ {
		in := NewTransactionInput{
			Username:  pick(rng, usernames),
			ProductID: productIDs[rng.Intn(len(productIDs))],
			CardNum:   4000_0000_0000_0000 + rng.Int63n(1_0000_0000),
			Address:   fmt.Sprintf("%d Main St", 1+rng.Intn(9999)),
			City:      pick(rng, genCities),
			State:     pick(rng, genStates),
			Zip:       10000 + rng.Intn(89999),
		}
		if _, err := s.CreateTransaction(ctx, in); err != nil {
			return i, fmt.Errorf("generate transactions: %w", err)
		}
	}
	return n, nil
}

// GenerateReviews attaches n random ratings and n random reviews to
// existing users and products.
func (s *Service) GenerateReviews(ctx context.Context, rng *rand.Rand, n int) error {
	usernames, productIDs, err := s.existingEntities(ctx)
	if err != nil {
		return fmt.Errorf("generate reviews: %w", err)
	}

	for i := 0; i < n; i++ {
		username := pick(rng, usernames)
		productID := productIDs[rng.Intn(len(productIDs))]
		if err := s.AddRating(ctx, username, productID, float64(rng.Intn(6))); err != nil {
			return fmt.Errorf("generate reviews: %w", err)
		}
		if err := s.AddReview(ctx, username, productID, pick(rng, genReviews)); err != nil {
			return fmt.Errorf("generate reviews: %w", err)
		}
	}
	return nil
}

// existingEntities pulls usernames and product ids out of the location
// index, the cheapest registry-wide view of what exists.
func (s *Service) existingEntities(ctx context.Context) ([]string, []int, error) {
	callCtx, cancel := bounded(ctx)
	defer cancel()

	usernames, err := s.locator.Usernames(callCtx)
	if err != nil {
		return nil, nil, err
	}
	productIDs, err := s.locator.ProductIDs(callCtx)
	if err != nil {
		return nil, nil, err
	}
	if len(usernames) == 0 || len(productIDs) == 0 {
		return nil, nil, validationError("need at least one user and one product first")
	}
	return usernames, productIDs, nil
}

func isDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicate)
}
