package database

import "errors"

// ErrInsufficientPoints is returned by RedeemReward when the account
// balance does not cover the reward's cost.
var ErrInsufficientPoints = errors.New("insufficient points")
