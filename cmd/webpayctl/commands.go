package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"webpay-gateway-api/models"
	"webpay-gateway-api/services/auth"
	"webpay-gateway-api/services/payment"
	"webpay-gateway-api/utils"
)

type cliApp struct {
	gateway   func() (payment.Gateway, error)
	jwt       *auth.JWTService
	returnURL string
}

func newRootCmd(app *cliApp) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "webpayctl",
		Short:         "Run Webpay Plus operations against Transbank",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(createCmd(app))
	rootCmd.AddCommand(commitCmd(app))
	rootCmd.AddCommand(statusCmd(app))
	rootCmd.AddCommand(refundCmd(app))
	rootCmd.AddCommand(captureCmd(app))
	rootCmd.AddCommand(tokenCmd(app))

	return rootCmd
}

func createCmd(app *cliApp) *cobra.Command {
	var buyOrder, amount, returnURL string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a transaction and print the redirect URL",
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := utils.ParseAmount(amount)
			if err != nil {
				return err
			}
			if buyOrder == "" {
				buyOrder = utils.GenerateRandomString(26)
			}
			if returnURL == "" {
				returnURL = app.returnURL
			}

			gateway, err := app.gateway()
			if err != nil {
				return err
			}
			response, err := gateway.Create(cmd.Context(), buyOrder, value, returnURL)
			if err != nil {
				return err
			}
			return printJSON(cmd, response)
		},
	}

	cmd.Flags().StringVarP(&buyOrder, "buy-order", "o", "", "Buy order, generated when empty")
	cmd.Flags().StringVarP(&amount, "amount", "a", "", "Amount to charge")
	cmd.Flags().StringVarP(&returnURL, "return-url", "r", "", "URL the gateway sends the user back to")
	cmd.MarkFlagRequired("amount")

	return cmd
}

func commitCmd(app *cliApp) *cobra.Command {
	return &cobra.Command{
		Use:   "commit [token]",
		Short: "Commit a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gateway, err := app.gateway()
			if err != nil {
				return err
			}
			transaction, err := gateway.Commit(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, transaction)
		},
	}
}

func statusCmd(app *cliApp) *cobra.Command {
	return &cobra.Command{
		Use:   "status [token]",
		Short: "Show the status of a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gateway, err := app.gateway()
			if err != nil {
				return err
			}
			transaction, err := gateway.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, transaction)
		},
	}
}

func refundCmd(app *cliApp) *cobra.Command {
	var amount string

	cmd := &cobra.Command{
		Use:   "refund [token]",
		Short: "Refund all or part of a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := utils.ParseAmount(amount)
			if err != nil {
				return err
			}
			gateway, err := app.gateway()
			if err != nil {
				return err
			}
			transaction, err := gateway.Refund(cmd.Context(), args[0], value)
			if err != nil {
				return err
			}
			return printJSON(cmd, transaction)
		},
	}

	cmd.Flags().StringVarP(&amount, "amount", "a", "", "Amount to refund")
	cmd.MarkFlagRequired("amount")

	return cmd
}

func captureCmd(app *cliApp) *cobra.Command {
	var buyOrder, authorizationCode, amount string

	cmd := &cobra.Command{
		Use:   "capture [token]",
		Short: "Capture a previously authorized amount",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := utils.ParseAmount(amount)
			if err != nil {
				return err
			}
			gateway, err := app.gateway()
			if err != nil {
				return err
			}
			transaction, err := gateway.Capture(cmd.Context(), args[0], buyOrder, authorizationCode, value)
			if err != nil {
				return err
			}
			return printJSON(cmd, transaction)
		},
	}

	cmd.Flags().StringVarP(&buyOrder, "buy-order", "o", "", "Buy order of the transaction")
	cmd.Flags().StringVarP(&authorizationCode, "authorization-code", "c", "", "Authorization code of the transaction")
	cmd.Flags().StringVarP(&amount, "amount", "a", "", "Amount to capture")
	cmd.MarkFlagRequired("buy-order")
	cmd.MarkFlagRequired("authorization-code")
	cmd.MarkFlagRequired("amount")

	return cmd
}

func tokenCmd(app *cliApp) *cobra.Command {
	var subject string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an operator token for the status, refund and capture endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			issued, err := app.jwt.GenerateToken(models.Operator{Subject: subject, Role: models.RoleOperator}, ttl)
			if err != nil {
				return err
			}
			return printJSON(cmd, issued)
		},
	}

	cmd.Flags().StringVarP(&subject, "subject", "s", "", "Who the token is issued to")
	cmd.Flags().DurationVar(&ttl, "ttl", auth.AccessTokenDuration, "Token lifetime")
	cmd.MarkFlagRequired("subject")

	return cmd
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	return nil
}
