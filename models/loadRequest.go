package models

import (
	"time"

	"github.com/mmdatafocus/load_validator/utils"
	"github.com/shopspring/decimal"
)

// NewLoadRequest is the wire form of a load, as posted or read from a batch line.
type NewLoadRequest struct {
	Id         string `json:"id" validate:"required,max=255,load_key"`
	CustomerId string `json:"customer_id" validate:"required,max=64,load_key"`
	LoadAmount string `json:"load_amount" validate:"required,load_amount"`
	Time       string `json:"time" validate:"required,load_time"`
}

// LoadRequest is a validated load ready for a decision.
type LoadRequest struct {
	Id         string
	CustomerId string
	Amount     decimal.Decimal
	Time       time.Time
}

type LoadResponse struct {
	Id         string `json:"id"`
	CustomerId string `json:"customer_id"`
	Accepted   bool   `json:"accepted"`
}

// Parse validates the wire fields and converts them.
// Failures come back as *utils.ValidationError keyed by json field name.
func (input *NewLoadRequest) Parse() (LoadRequest, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return LoadRequest{}, err
	}
	amount, err := utils.ParseLoadAmount(input.LoadAmount)
	if err != nil {
		return LoadRequest{}, utils.NewValidationError("load_amount", "load_amount")
	}
	t, err := utils.ParseLoadTime(input.Time)
	if err != nil {
		return LoadRequest{}, utils.NewValidationError("time", "load_time")
	}
	return LoadRequest{
		Id:         input.Id,
		CustomerId: input.CustomerId,
		Amount:     amount,
		Time:       t,
	}, nil
}

func (r LoadRequest) Respond(accepted bool) LoadResponse {
	return LoadResponse{
		Id:         r.Id,
		CustomerId: r.CustomerId,
		Accepted:   accepted,
	}
}
