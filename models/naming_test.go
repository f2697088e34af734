package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSnakeCase(t *testing.T) {
	tests := map[string]string{
		"BuyOrder":           "buy_order",
		"buyOrder":           "buy_order",
		"buy_order":          "buy_order",
		"VCI":                "vci",
		"Vci":                "vci",
		"HTTPStatus":         "http_status",
		"CardDetail":         "card_detail",
		"InstallmentsAmount": "installments_amount",
		"card-number":        "card_number",
		"Response Code":      "response_code",
		"":                   "",
	}
	for in, want := range tests {
		assert.Equal(t, want, SnakeCase(in), in)
	}
}
