package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/routesim/core/model"
	"github.com/kilianp07/routesim/infra/notify"
)

var (
	pushToken    string
	pushTitle    string
	pushBody     string
	pushEndpoint string
	gatewayURL   string
	notifyVeh    int64
)

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Notification related commands",
}

var notifySendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a single push notification",
	RunE:  runNotifySend,
}

var notifyPendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List pending notifications for a vehicle",
	RunE:  runNotifyPending,
}

func init() {
	notifySendCmd.Flags().StringVar(&pushToken, "token", "", "push token")
	notifySendCmd.Flags().StringVar(&pushTitle, "title", "Vehicle update", "notification title")
	notifySendCmd.Flags().StringVar(&pushBody, "body", "", "notification body")
	notifySendCmd.Flags().StringVar(&pushEndpoint, "endpoint", notify.DefaultPushEndpoint, "push provider endpoint")
	_ = notifySendCmd.MarkFlagRequired("token")

	notifyPendingCmd.Flags().StringVar(&gatewayURL, "base-url", "", "notification backend base URL")
	notifyPendingCmd.Flags().Int64Var(&notifyVeh, "vehicle", 1, "vehicle id")
	_ = notifyPendingCmd.MarkFlagRequired("base-url")

	notifyCmd.AddCommand(notifySendCmd, notifyPendingCmd)
	rootCmd.AddCommand(notifyCmd)
}

func runNotifySend(cmd *cobra.Command, args []string) error {
	d := notify.NewExpoDispatcher(notify.PushConfig{Endpoint: pushEndpoint, Timeout: 10 * time.Second})
	res, err := d.Dispatch(cmd.Context(), model.PushMessage{Token: pushToken, Title: pushTitle, Body: pushBody})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "status %d: %s\n", res.StatusCode, res.Body)
	return err
}

func runNotifyPending(cmd *cobra.Command, args []string) error {
	gw := notify.NewHTTPGateway(notify.GatewayConfig{BaseURL: gatewayURL, Timeout: 10 * time.Second}, nil)
	notes, err := gw.FetchPending(cmd.Context(), notifyVeh)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, n := range notes {
		if _, err := fmt.Fprintf(out, "%s\t%s\n", n.PushToken, n.Payload); err != nil {
			return err
		}
	}
	return nil
}
