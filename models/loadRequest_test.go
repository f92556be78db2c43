package models

import (
	"errors"
	"testing"
	"time"

	"github.com/mmdatafocus/load_validator/utils"
	"github.com/shopspring/decimal"
)

func TestNewLoadRequestParse(t *testing.T) {
	input := NewLoadRequest{
		Id:         "15887",
		CustomerId: "528",
		LoadAmount: "$3318.47",
		Time:       "2000-01-01T00:00:00Z",
	}
	req, err := input.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if req.Id != "15887" || req.CustomerId != "528" {
		t.Fatalf("ids not carried: %+v", req)
	}
	if !req.Amount.Equal(decimal.RequireFromString("3318.47")) {
		t.Fatalf("amount = %s", req.Amount)
	}
	if !req.Time.Equal(time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("time = %v", req.Time)
	}

	resp := req.Respond(true)
	if resp.Id != "15887" || resp.CustomerId != "528" || !resp.Accepted {
		t.Fatalf("Respond = %+v", resp)
	}
}

func TestNewLoadRequestParseRejects(t *testing.T) {
	valid := NewLoadRequest{Id: "1", CustomerId: "1", LoadAmount: "$1.00", Time: "2000-01-01T00:00:00Z"}
	cases := []struct {
		name   string
		mutate func(*NewLoadRequest)
		field  string
	}{
		{"missing id", func(r *NewLoadRequest) { r.Id = "" }, "id"},
		{"missing customer", func(r *NewLoadRequest) { r.CustomerId = "" }, "customer_id"},
		{"bad amount", func(r *NewLoadRequest) { r.LoadAmount = "1.00" }, "load_amount"},
		{"bad time", func(r *NewLoadRequest) { r.Time = "noon" }, "time"},
		{"amount beyond column range", func(r *NewLoadRequest) { r.LoadAmount = "$1000000000000000000.00" }, "load_amount"},
		{"control character in customer", func(r *NewLoadRequest) { r.CustomerId = "a\x00b" }, "customer_id"},
		{"control character in id", func(r *NewLoadRequest) { r.Id = "b\x00c" }, "id"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			input := valid
			tc.mutate(&input)
			_, err := input.Parse()
			var verr *utils.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("err = %v, want *utils.ValidationError", err)
			}
			if _, ok := verr.Fields[tc.field]; !ok {
				t.Fatalf("fields = %v, want %s", verr.Fields, tc.field)
			}
		})
	}
}
