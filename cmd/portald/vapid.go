package main

import (
	"fmt"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/spf13/cobra"
)

func vapidCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "vapid",
		Short: "Generate a VAPID key pair for push.vapid_public_key and push.vapid_private_key",
		// Key generation needs no configuration.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
			if err != nil {
				return fmt.Errorf("failed to generate VAPID keys: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "PORTAL_PUSH_VAPID_PUBLIC_KEY=%s\nPORTAL_PUSH_VAPID_PRIVATE_KEY=%s\n", publicKey, privateKey)
			return nil
		},
	}
}
