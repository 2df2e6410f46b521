package models

import "time"

// Card is a user's credit card tracked for rewards. It is not a payment
// instrument: only the last four digits are kept for display.
type Card struct {
	ID               int        `json:"id"`
	UserID           int        `json:"userId"`
	BankID           string     `json:"bankId"`
	CardType         string     `json:"cardType"`
	LastFourDigits   string     `json:"lastFourDigits"`
	ExpiryDate       string     `json:"expiryDate"`
	Points           int        `json:"points"`
	PointsExpiryDate *time.Time `json:"pointsExpiryDate,omitempty"`
}

// Apply adds delta to the card's point balance. A delta that would drive the
// balance negative is rejected with ErrInsufficientPoints and leaves the
// balance untouched.
func (c *Card) Apply(delta int) error {
	if c.Points+delta < 0 {
		return ErrInsufficientPoints
	}
	c.Points += delta
	return nil
}

// CreateCard is the payload for registering a new card.
type CreateCard struct {
	BankID           string `json:"bankId"`
	CardType         string `json:"cardType"`
	LastFourDigits   string `json:"lastFourDigits"`
	ExpiryDate       string `json:"expiryDate"`
	Points           int    `json:"points"`
	PointsExpiryDate string `json:"pointsExpiryDate,omitempty"`
}

// UpdateCard carries a partial card update. Nil fields are left unchanged.
type UpdateCard struct {
	BankID           *string `json:"bankId,omitempty"`
	CardType         *string `json:"cardType,omitempty"`
	LastFourDigits   *string `json:"lastFourDigits,omitempty"`
	ExpiryDate       *string `json:"expiryDate,omitempty"`
	PointsExpiryDate *string `json:"pointsExpiryDate,omitempty"`
}
