// Package model defines the entity types shared by every layer of the
// polystore system: users, products and transactions, plus the embedded
// rating and review records.
package model

// ProductRating is a single user's 0-5 rating of a product.
type ProductRating struct {
	Username string  `json:"username" bson:"username"`
	Rating   float64 `json:"rating" bson:"rating"`
}

// ProductReview is a single user's free-text review of a product.
type ProductReview struct {
	Username string `json:"username" bson:"username"`
	Review   string `json:"review" bson:"review"`
}

// Product is the document-store representation of a product. A product is
// owned by exactly one shard from creation onward; ratings and reviews are
// appended in place on that shard.
type Product struct {
	ProductID int             `json:"product_id" bson:"product_id"`
	Name      string          `json:"name" bson:"name"`
	Price     float64         `json:"price" bson:"price"`
	Ratings   []ProductRating `json:"ratings" bson:"ratings"`
	Reviews   []ProductReview `json:"reviews" bson:"reviews"`
}

// AverageRating computes the mean rating at read time. The average is
// deliberately never stored: concurrent rating appends race at the store,
// and a stored running average would drift under that race.
func (p *Product) AverageRating() float64 {
	if len(p.Ratings) == 0 {
		return 0
	}
	sum := 0.0
	for _, r := range p.Ratings {
		sum += r.Rating
	}
	return sum / float64(len(p.Ratings))
}

// ProductSummary is the slice of a product returned by the recommender:
// enough to render a suggestion without fetching the full document.
type ProductSummary struct {
	ProductID int     `json:"product_id" bson:"product_id"`
	Name      string  `json:"name" bson:"name"`
	Price     float64 `json:"price" bson:"price"`
}

// Address is a shipping address attached to a user after a transaction.
type Address struct {
	Address string `json:"address" bson:"address"`
	City    string `json:"city" bson:"city"`
	State   string `json:"state" bson:"state"`
	Zip     int    `json:"zip" bson:"zip"`
}

// Payment is a payment method attached to a user after a transaction.
type Payment struct {
	CardNum int64 `json:"cardnum" bson:"cardnum"`
}

// User is the document-store representation of a user. Like products,
// users live on exactly one shard.
type User struct {
	Username     string          `json:"username" bson:"username"`
	FirstName    string          `json:"firstName" bson:"firstName"`
	LastName     string          `json:"lastName" bson:"lastName"`
	MiddleName   string          `json:"middleName" bson:"middleName"`
	Addresses    []Address       `json:"addresses" bson:"addresses"`
	Payments     []Payment       `json:"payments" bson:"payments"`
	Transactions []int           `json:"transactions" bson:"transactions"`
	Ratings      []ProductRating `json:"ratings" bson:"ratings"`
	Reviews      []ProductReview `json:"reviews" bson:"reviews"`
}

// UserRecord is the relational-store row for a user, kept for joins and
// reporting alongside the full document.
type UserRecord struct {
	Username  string `json:"username"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// ProductRecord is the relational-store row for a product.
type ProductRecord struct {
	ProductID int     `json:"productId"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
}

// TransactionRecord is the relational-store row for a transaction. The
// relational store is authoritative for transactions; the document store
// only receives the derived bookkeeping on the buying user.
type TransactionRecord struct {
	TransactionID int    `json:"transactionId"`
	Username      string `json:"username"`
	ProductID     int    `json:"productId"`
	CardNum       int64  `json:"cardNum"`
	Address       string `json:"address"`
	City          string `json:"city"`
	State         string `json:"state"`
	Zip           int    `json:"zip"`
}
