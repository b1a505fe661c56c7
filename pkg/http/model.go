package http

// APIResponse is the envelope of every operator API response.
type APIResponse struct {
	Status  int         `json:"status" example:"200"`
	Message string      `json:"message" example:"OK"`
	Data    interface{} `json:"data,omitempty"`
}

// ValidationError is one failed rule of a request body or query.
type ValidationError struct {
	Code    string                 `json:"code,omitempty" example:"ERR_REQUIRED_WITHOUT"`
	Field   string                 `json:"field,omitempty" example:"symbol"`
	Message string                 `json:"message,omitempty" example:"symbol is required when id is empty"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// ListData wraps list endpoints. Count is the number of rows returned, not a total in storage.
type ListData struct {
	Rows  interface{} `json:"rows"`
	Count int         `json:"count"`
}
