package main

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"
)

func callCmd() *cobra.Command {
	var host string

	cmd := &cobra.Command{
		Use:   "call <phone-number>",
		Short: "Place an outbound call that streams to a running relay",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if host == "" {
				host = cfg.PublicHost
			}
			if host == "" {
				return errors.New("a public host is required (--host or VOICERELAY_PUBLIC_HOST)")
			}

			calls, err := newCallSystem(cfg)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			call, err := calls.MakeStreamCall(ctx, host, args[0])
			if err != nil {
				return err
			}
			logger.Info("call initiated", "call_sid", call.ID(), "to", args[0])
			cmd.Println(call.ID())
			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "public host of the relay (default $VOICERELAY_PUBLIC_HOST)")
	return cmd
}
