package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/fatflowers/settle/pkg/client"
	"github.com/fatflowers/settle/pkg/types"
)

var buyFlags struct {
	email, name, phone string
	fileID             string
	amount, currency   string
	rail               string
}

var buyCmd = &cobra.Command{
	Use:   "buy",
	Short: "Start or resume a purchase and wait for it to settle",
	RunE:  runBuy,
}

func init() {
	f := buyCmd.Flags()
	f.StringVar(&buyFlags.email, "email", "", "customer email")
	f.StringVar(&buyFlags.name, "name", "", "customer name")
	f.StringVar(&buyFlags.phone, "phone", "", "customer phone")
	f.StringVar(&buyFlags.fileID, "file", "", "file id")
	f.StringVar(&buyFlags.amount, "amount", "", "price in major units, e.g. 1000 or 4.99")
	f.StringVar(&buyFlags.currency, "currency", "NGN", "ISO 4217 currency")
	f.StringVar(&buyFlags.rail, "rail", string(types.RailPaystack), "paystack, flutterwave or nowpayments")
	_ = buyCmd.MarkFlagRequired("email")
	_ = buyCmd.MarkFlagRequired("file")
	_ = buyCmd.MarkFlagRequired("amount")
	rootCmd.AddCommand(buyCmd)
}

func runBuy(cmd *cobra.Command, _ []string) error {
	amount, err := decimal.NewFromString(buyFlags.amount)
	if err != nil {
		return fmt.Errorf("invalid --amount: %w", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	in := bufio.NewReader(cmd.InOrStdin())
	log := newLogger()
	defer func() { _ = log.Sync() }()

	ctrl := client.NewController(newClient(), client.NewFileStore(storePath), client.Options{
		OnUpdate: func(u client.Update) { render(out, u) },
		Log:      log,
	})
	defer ctrl.Close()

	req := &client.CheckoutRequest{
		Email:         buyFlags.email,
		Amount:        amount,
		Currency:      strings.ToUpper(buyFlags.currency),
		FileID:        buyFlags.fileID,
		CustomerName:  buyFlags.name,
		CustomerPhone: buyFlags.phone,
		Rail:          types.Rail(buyFlags.rail),
	}

	res, err := ctrl.Checkout(ctx, req)
	for err != nil {
		if !askRetry(out, in, err) {
			return err
		}
		res, err = ctrl.Retry(ctx)
	}
	if res.PaymentStatus.Terminal() {
		return nil
	}

	fmt.Fprintln(out, "Press Enter once the payment page is closed.")
	if _, err := in.ReadString('\n'); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	st, err := ctrl.PopupClosed(ctx)
	if err != nil {
		if errors.Is(err, client.ErrStillPending) {
			fmt.Fprintf(out, "Still pending. Check later with: checkout status %s\n", res.IntentReference)
			return nil
		}
		return err
	}
	if st.PaymentStatus != types.PaymentStatusCompleted {
		return fmt.Errorf("payment %s", st.PaymentStatus)
	}
	return nil
}

// askRetry offers a manual retry for failures the controller gave up on.
func askRetry(out io.Writer, in *bufio.Reader, err error) bool {
	var exhausted *client.RetriesExhaustedError
	var apiErr *client.Error
	switch {
	case errors.As(err, &exhausted):
		fmt.Fprintf(out, "Gave up after %d attempts: %v\n", exhausted.Attempts, exhausted.Err)
	case errors.As(err, &apiErr) && apiErr.Type == types.ErrorTypeGateway:
		fmt.Fprintf(out, "The payment provider refused the request: %s\n", apiErr.Message)
	case client.IsConflict(err):
		fmt.Fprintln(out, "That checkout closed without a charge. Trying again starts a new one.")
	default:
		return false
	}
	fmt.Fprint(out, "Try again? [y/N] ")
	line, _ := in.ReadString('\n')
	return strings.EqualFold(strings.TrimSpace(line), "y")
}

func render(out io.Writer, u client.Update) {
	switch u.Phase {
	case client.PhaseOffline:
		fmt.Fprintln(out, "No connection to the server, waiting...")
	case client.PhaseInitiating:
		fmt.Fprintln(out, "Contacting the payment provider...")
	case client.PhaseRetryWait:
		fmt.Fprintf(out, "\rAttempt %d of %d failed, retrying in %ds ", u.Attempt, u.MaxAttempts, int(u.RetryIn.Seconds()+0.5))
	case client.PhaseRedirect:
		fmt.Fprintf(out, "\nOpen this page to pay:\n  %s\n", u.RedirectURL)
	case client.PhaseVerifying:
		fmt.Fprintln(out, "Checking payment status...")
	case client.PhasePending:
		fmt.Fprintln(out, "Payment not confirmed yet.")
	case client.PhaseSettled:
		printStatus(out, u.Status)
	}
}

func printStatus(out io.Writer, st *client.Status) {
	fmt.Fprintf(out, "Payment %s: %s %s (intent %s)\n", st.PaymentStatus, st.Amount.String(), st.Currency, st.IntentReference)
	if st.PaidAt != nil {
		fmt.Fprintf(out, "Paid at %s\n", st.PaidAt.Local().Format("2006-01-02 15:04:05"))
	}
	if st.DownloadURL != "" {
		fmt.Fprintf(out, "Download: %s\n", st.DownloadURL)
	}
}
