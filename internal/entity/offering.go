package entity

import "time"

// Offering is a service a seller lists in the registry for buyers to browse.
type Offering struct {
	Seller      string    `json:"seller" validate:"required"`
	Name        string    `json:"name" validate:"required"`
	Description string    `json:"description"`
	RequestType string    `json:"request_type" validate:"required"`
	Price       int64     `json:"price" validate:"gt=0"`
	UpdatedAt   time.Time `json:"updated_at"`
}
