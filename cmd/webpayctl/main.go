package main

import (
	"fmt"
	"os"

	"webpay-gateway-api/config"
	"webpay-gateway-api/services/auth"
	"webpay-gateway-api/services/payment"
	"webpay-gateway-api/services/payment/transbank"
	"webpay-gateway-api/utils"
)

var Version = "dev"

func main() {
	cfg := config.Load()

	app := &cliApp{
		gateway: func() (payment.Gateway, error) {
			if err := cfg.Validate(); err != nil {
				return nil, err
			}
			logger, err := utils.NewLogger(cfg.LogEnv)
			if err != nil {
				return nil, err
			}
			client := transbank.NewClient(cfg.Settings(), logger)
			return payment.NewWebpay(client, nil, logger), nil
		},
		jwt:       auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Issuer),
		returnURL: cfg.Server.AppURL + "/api/webpay/return",
	}

	if err := newRootCmd(app).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
