package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/agentplexus/voicerelay/callsystem"
	"github.com/agentplexus/voicerelay/internal/chat"
	"github.com/agentplexus/voicerelay/internal/config"
	"github.com/agentplexus/voicerelay/internal/server"
	"github.com/agentplexus/voicerelay/internal/template"
	"github.com/agentplexus/voicerelay/realtime"
	"github.com/agentplexus/voicerelay/relay"
	"github.com/agentplexus/voicerelay/transport"
)

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the webhooks and the media stream endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			calls, err := newCallSystem(cfg)
			if err != nil {
				return err
			}

			store := template.New(cfg.SessionTemplate, cfg.Instructions, logger)
			if err := store.Watch(ctx); err != nil {
				logger.Warn("config files are not watched, restart to reload them", "error", err)
			}
			defer func() { _ = store.Close() }()

			chatClient, err := chat.New(chat.Config{
				Endpoint:   cfg.Azure.Endpoint,
				APIKey:     cfg.Azure.APIKey,
				Deployment: cfg.ChatDeployment(),
				Logger:     logger,
			})
			if err != nil {
				return fmt.Errorf("chat client: %w", err)
			}

			srv, err := server.New(server.Config{
				Addr:         cfg.Addr,
				PublicHost:   cfg.PublicHost,
				Username:     cfg.AuthUsername,
				Password:     cfg.AuthPassword,
				Tunables:     cfg.Tunables,
				PollInterval: cfg.PollInterval,
				Calls:        calls,
				Chat:         chatClient,
				Media: transport.New(
					transport.WithWriteTimeout(cfg.WriteTimeout),
					transport.WithLogger(logger),
				),
				Dial:    engineDialer(cfg),
				Session: store,
				Logger:  logger,
			})
			if err != nil {
				return err
			}

			logger.Info("starting voice relay",
				"addr", cfg.Addr,
				"deployment", cfg.Azure.Deployment,
				"session_template", cfg.SessionTemplate)
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default $VOICERELAY_ADDR or :8080)")
	return cmd
}

func newCallSystem(cfg *config.Config) (*callsystem.Provider, error) {
	return callsystem.New(
		callsystem.WithAccountSID(cfg.Twilio.AccountSID),
		callsystem.WithAuthToken(cfg.Twilio.AuthToken),
		callsystem.WithPhoneNumber(cfg.Twilio.PhoneNumber),
		callsystem.WithWebhookURL(cfg.PublicHost),
	)
}

func engineDialer(cfg *config.Config) server.EngineDialer {
	return func(ctx context.Context) (relay.Engine, error) {
		conn, err := realtime.Dial(ctx, realtime.Config{
			Endpoint:     cfg.Azure.Endpoint,
			Deployment:   cfg.Azure.Deployment,
			APIVersion:   cfg.Azure.APIVersion,
			APIKey:       cfg.Azure.APIKey,
			WriteTimeout: cfg.WriteTimeout,
		})
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}
