package models

import "time"

// Transaction is an immutable earn/spend event on a single card. PointsEarned
// is signed: positive for accruals, negative when points are spent (redemption
// audit rows, points-based payments). Applying PointsEarned to the card's
// balance is part of the same logical operation as creating the row.
type Transaction struct {
	ID           int       `json:"id"`
	CardID       int       `json:"cardId"`
	UserID       int       `json:"userId"`
	Date         time.Time `json:"date"`
	Description  string    `json:"description"`
	Amount       int       `json:"amount"`
	PointsEarned int       `json:"pointsEarned"`
}

// CreateTransaction is the payload for recording a transaction.
type CreateTransaction struct {
	CardID       int       `json:"cardId"`
	Date         time.Time `json:"date"`
	Description  string    `json:"description"`
	Amount       int       `json:"amount"`
	PointsEarned int       `json:"pointsEarned"`
}
