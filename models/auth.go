package models

import "time"

// Operator is the authenticated caller of the back-office endpoints.
type Operator struct {
	Subject string `json:"subject"`
	Role    string `json:"role"`
}

const RoleOperator = "operator"

// TokenResponse is returned when an operator token is issued.
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}
