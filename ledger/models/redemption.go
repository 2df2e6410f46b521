package models

import "time"

// RedemptionStatusCompleted is the only status currently modeled; there is no
// pending or failed state.
const RedemptionStatusCompleted = "completed"

// Redemption records a conversion of points to value against a catalog option.
type Redemption struct {
	ID            int       `json:"id"`
	UserID        int       `json:"userId"`
	CardID        int       `json:"cardId"`
	OptionID      string    `json:"optionId"`
	PointsUsed    int       `json:"pointsUsed"`
	ValueObtained int       `json:"valueObtained"`
	Status        string    `json:"status"`
	Date          time.Time `json:"date"`
}

// RedeemRequest is the payload for redeeming points. ValueObtained is always
// computed server-side from the catalog rate.
type RedeemRequest struct {
	CardID     int    `json:"cardId"`
	OptionID   string `json:"optionId"`
	PointsUsed int    `json:"pointsUsed"`
}
