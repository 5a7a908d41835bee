// Package api holds the JSON wire types of the polystore HTTP surface
// and small typed HTTP helpers shared by the server and its clients.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// RegisterShardRequest asks the server to add a document-store shard.
type RegisterShardRequest struct {
	Addr string `json:"addr"`
}

// ShardInfo describes one registered shard.
type ShardInfo struct {
	Addr string `json:"addr"`
	Load int64  `json:"load"`
}

// ShardsResponse lists the registered shards.
type ShardsResponse struct {
	Shards []ShardInfo `json:"shards"`
}

// NewUserRequest creates a user.
type NewUserRequest struct {
	Username string `json:"username"`
	First    string `json:"first"`
	Last     string `json:"last"`
}

// NewProductRequest creates a product.
type NewProductRequest struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

// NewTransactionRequest creates a transaction.
type NewTransactionRequest struct {
	Username  string `json:"username"`
	ProductID int    `json:"productId"`
	CardNum   int64  `json:"cardNum"`
	Address   string `json:"address"`
	City      string `json:"city"`
	State     string `json:"state"`
	Zip       int    `json:"zip"`
}

// RatingRequest posts a rating.
type RatingRequest struct {
	Username  string  `json:"username"`
	ProductID int     `json:"product_id"`
	Rating    float64 `json:"rating"`
}

// ReviewRequest posts a review.
type ReviewRequest struct {
	Username  string `json:"username"`
	ProductID int    `json:"product_id"`
	Review    string `json:"review"`
}

// GenerateRequest asks for random demo data.
type GenerateRequest struct {
	Quantity int `json:"quantity"`
}

// ErrorResponse is the uniform error body. Code is one of the stable
// error kinds ("validation", "not_found", "duplicate", "no_shard",
// "unavailable", "partial_write", "internal") so clients can render a
// consistent message without parsing free text.
type ErrorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

var httpClient = &http.Client{Timeout: 5 * time.Second}

// PostJSON posts body as JSON to url and decodes the response into out
// (skipped when out is nil). Non-2xx statuses are errors.
func PostJSON(ctx context.Context, url string, body any, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return do(req, out)
}

// GetJSON fetches url and decodes the JSON response into out.
func GetJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	return do(req, out)
}

// do executes a prepared request under the shared client. Any non-2xx
// status is an error; the body is decoded into out unless out is nil.
func do(req *http.Request, out any) error {
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %d", req.URL, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
