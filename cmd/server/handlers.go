package main

import (
	"encoding/json"
	"errors"
	"log"
	"math/rand"
	"net/http"
	"strconv"

	"github.com/dreamware/polystore/internal/api"
	"github.com/dreamware/polystore/internal/locator"
	"github.com/dreamware/polystore/internal/registry"
	"github.com/dreamware/polystore/internal/service"
)

type server struct {
	svc *service.Service
}

func newServer(svc *service.Service) *server {
	return &server{svc: svc}
}

// newRNG seeds a generator per request; *rand.Rand is not safe for the
// concurrent handlers that would share a single instance.
func newRNG() *rand.Rand {
	return rand.New(rand.NewSource(rand.Int63()))
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/product/{id}", s.handleGetProduct)
	mux.HandleFunc("POST /api/product/", s.handlePostProduct)
	mux.HandleFunc("PUT /api/product/{id}", s.handlePutProduct)
	mux.HandleFunc("GET /api/products/{number}", s.handleGetProducts)

	mux.HandleFunc("GET /api/user/{username}", s.handleGetUser)
	mux.HandleFunc("POST /api/user/", s.handlePostUser)
	mux.HandleFunc("PUT /api/user/{username}", s.handlePutUser)

	mux.HandleFunc("POST /api/transaction/", s.handlePostTransaction)
	mux.HandleFunc("GET /api/transaction/{id}", s.handleGetTransaction)

	mux.HandleFunc("POST /api/rating/", s.handlePostRating)
	mux.HandleFunc("POST /api/review/", s.handlePostReview)
	mux.HandleFunc("GET /api/recommendations/{id}", s.handleGetRecommendations)

	mux.HandleFunc("POST /api/generate/users", s.handleGenerateUsers)
	mux.HandleFunc("POST /api/generate/products", s.handleGenerateProducts)
	mux.HandleFunc("POST /api/generate/transactions", s.handleGenerateTransactions)
	mux.HandleFunc("POST /api/generate/reviews", s.handleGenerateReviews)

	mux.HandleFunc("GET /shards", s.handleListShards)
	mux.HandleFunc("POST /shards/register", s.handleRegisterShard)
	mux.HandleFunc("POST /shards/deregister", s.handleDeregisterShard)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return mux
}

// writeError maps the service error taxonomy onto HTTP statuses and the
// stable error codes of api.ErrorResponse.
func writeError(w http.ResponseWriter, err error) {
	code, status := "internal", http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrValidation):
		code, status = "validation", http.StatusBadRequest
	case errors.Is(err, service.ErrEntityNotFound), errors.Is(err, locator.ErrNotFound):
		code, status = "not_found", http.StatusNotFound
	case errors.Is(err, service.ErrDuplicate):
		code, status = "duplicate", http.StatusConflict
	case errors.Is(err, registry.ErrNoShardAvailable):
		code, status = "no_shard", http.StatusServiceUnavailable
	case errors.Is(err, registry.ErrUnknownShard):
		code, status = "not_found", http.StatusNotFound
	case errors.Is(err, registry.ErrShardUnreachable),
		errors.Is(err, registry.ErrConnectionLost),
		errors.Is(err, registry.ErrNotRegistered):
		code, status = "unavailable", http.StatusServiceUnavailable
	}
	writeJSON(w, status, api.ErrorResponse{Code: code, Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeCreated reports a create that may have ended in a partial
// success: the primary write stands but a secondary store missed it.
// The entity is returned either way, with the warning attached.
func writeCreated(w http.ResponseWriter, entity any, err error) {
	if err != nil && errors.Is(err, service.ErrSecondaryWrite) {
		writeJSON(w, http.StatusOK, struct {
			Entity  any    `json:"entity"`
			Warning string `json:"warning"`
			Code    string `json:"code"`
		}{Entity: entity, Warning: err.Error(), Code: "partial_write"})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entity)
}

func decode(w http.ResponseWriter, r *http.Request, into any) bool {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Code: "validation", Error: "bad json"})
		return false
	}
	return true
}

func pathInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	v, err := strconv.Atoi(r.PathValue(name))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Code: "validation", Error: name + " must be an integer"})
		return 0, false
	}
	return v, true
}

func (s *server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	product, err := s.svc.GetProduct(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (s *server) handlePostProduct(w http.ResponseWriter, r *http.Request) {
	var req api.NewProductRequest
	if !decode(w, r, &req) {
		return
	}
	product, err := s.svc.CreateProduct(r.Context(), service.NewProductInput{
		Name:  req.Name,
		Price: req.Price,
	})
	writeCreated(w, product, err)
}

func (s *server) handlePutProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	var fields map[string]any
	if !decode(w, r, &fields) {
		return
	}
	delete(fields, "product_id")
	if err := s.svc.UpdateProduct(r.Context(), id, fields); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *server) handleGetProducts(w http.ResponseWriter, r *http.Request) {
	n, ok := pathInt(w, r, "number")
	if !ok {
		return
	}
	products, err := s.svc.ListProducts(r.Context(), n)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

func (s *server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.svc.GetUser(r.Context(), r.PathValue("username"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *server) handlePostUser(w http.ResponseWriter, r *http.Request) {
	var req api.NewUserRequest
	if !decode(w, r, &req) {
		return
	}
	user, err := s.svc.CreateUser(r.Context(), service.NewUserInput{
		Username:  req.Username,
		FirstName: req.First,
		LastName:  req.Last,
	})
	writeCreated(w, user, err)
}

func (s *server) handlePutUser(w http.ResponseWriter, r *http.Request) {
	var fields map[string]any
	if !decode(w, r, &fields) {
		return
	}
	delete(fields, "username")
	if err := s.svc.UpdateUser(r.Context(), r.PathValue("username"), fields); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *server) handlePostTransaction(w http.ResponseWriter, r *http.Request) {
	var req api.NewTransactionRequest
	if !decode(w, r, &req) {
		return
	}
	record, err := s.svc.CreateTransaction(r.Context(), service.NewTransactionInput{
		Username:  req.Username,
		ProductID: req.ProductID,
		CardNum:   req.CardNum,
		Address:   req.Address,
		City:      req.City,
		State:     req.State,
		Zip:       req.Zip,
	})
	writeCreated(w, record, err)
}

func (s *server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	record, err := s.svc.GetTransaction(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *server) handlePostRating(w http.ResponseWriter, r *http.Request) {
	var req api.RatingRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.svc.AddRating(r.Context(), req.Username, req.ProductID, req.Rating); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rating added"})
}

func (s *server) handlePostReview(w http.ResponseWriter, r *http.Request) {
	var req api.ReviewRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.svc.AddReview(r.Context(), req.Username, req.ProductID, req.Review); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "review added"})
}

func (s *server) handleGetRecommendations(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	recs, err := s.svc.Recommendations(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *server) handleGenerateUsers(w http.ResponseWriter, r *http.Request) {
	var req api.GenerateRequest
	if !decode(w, r, &req) {
		return
	}
	created, err := s.svc.GenerateUsers(r.Context(), newRNG(), req.Quantity)
	if err != nil {
		writeError(w, err)
		return
	}
	log.Printf("generated %d random users", created)
	writeJSON(w, http.StatusOK, map[string]int{"created": created})
}

func (s *server) handleGenerateProducts(w http.ResponseWriter, r *http.Request) {
	var req api.GenerateRequest
	if !decode(w, r, &req) {
		return
	}
	created, err := s.svc.GenerateProducts(r.Context(), newRNG(), req.Quantity)
	if err != nil {
		writeError(w, err)
		return
	}
	log.Printf("generated %d random products", created)
	writeJSON(w, http.StatusOK, map[string]int{"created": created})
}

func (s *server) handleGenerateTransactions(w http.ResponseWriter, r *http.Request) {
	var req api.GenerateRequest
	if !decode(w, r, &req) {
		return
	}
	created, err := s.svc.GenerateTransactions(r.Context(), newRNG(), req.Quantity)
	if err != nil {
		writeError(w, err)
		return
	}
	log.Printf("generated %d random transactions", created)
	writeJSON(w, http.StatusOK, map[string]int{"created": created})
}

func (s *server) handleGenerateReviews(w http.ResponseWriter, r *http.Request) {
	var req api.GenerateRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.svc.GenerateReviews(r.Context(), newRNG(), req.Quantity); err != nil {
		writeError(w, err)
		return
	}
	log.Printf("generated %d random ratings and reviews", req.Quantity)
	writeJSON(w, http.StatusOK, map[string]int{"created": req.Quantity})
}

func (s *server) handleListShards(w http.ResponseWriter, r *http.Request) {
	reg := s.svc.Registry()
	addrs := reg.List()
	shards := make([]api.ShardInfo, 0, len(addrs))
	for _, addr := range addrs {
		load, err := reg.Load(addr)
		if err != nil {
			continue
		}
		shards = append(shards, api.ShardInfo{Addr: addr, Load: load})
	}
	writeJSON(w, http.StatusOK, api.ShardsResponse{Shards: shards})
}

func (s *server) handleRegisterShard(w http.ResponseWriter, r *http.Request) {
	var req api.RegisterShardRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.svc.Registry().Register(r.Context(), req.Addr); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleDeregisterShard(w http.ResponseWriter, r *http.Request) {
	var req api.RegisterShardRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.svc.DeregisterShard(r.Context(), req.Addr); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
