package models

// Requests for the operator HTTP endpoints.

type ListRequest struct {
	Limit int `query:"limit" json:"limit" default:"50" validate:"gte=1,lte=500"`
}

type ClosePositionRequest struct {
	ID     string  `json:"id" validate:"required_without=Symbol"`
	Symbol string  `json:"symbol" validate:"required_without=ID"`
	Price  float64 `json:"price" validate:"gte=0"`
	Reason string  `json:"reason" default:"operator" validate:"max=200"`
}

type ResetRiskRequest struct {
	Reason string `json:"reason" default:"operator reset" validate:"max=200"`
}
