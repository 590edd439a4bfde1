// Package model contains the persistent account entity.
package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Account one mobile-app user account.
type Account struct {
	// ID unique identifier for the account
	ID primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	// Email login account
	Email string `bson:"email" json:"email"`
	// Username display name
	Username string `bson:"username" json:"username"`
	// Password hashed password, never serialized to clients
	Password string `bson:"password" json:"-"`
	// Premium unlimited accounts are exempt from credit deduction
	Premium bool `bson:"premium" json:"premium"`
	// Credits current credit balance, never negative
	Credits int `bson:"credits" json:"credits"`

	CreatedAt  time.Time `bson:"created_at" json:"created_at"`
	ModifiedAt time.Time `bson:"modified_at" json:"modified_at"`
}

// GetID get id
func (a *Account) GetID() string {
	return a.ID.Hex()
}

// Unlimited reports whether the account is exempt from credit deduction.
func (a *Account) Unlimited() bool {
	return a.Premium
}
