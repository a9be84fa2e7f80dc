package main

import (
	"context"
	"os"

	"github.com/joho/godotenv"
	cli "github.com/urfave/cli/v3"

	"github.com/webtosite/webtosite/pkg/config"
	"github.com/webtosite/webtosite/pkg/log"
)

const defaultPort = 8080

func main() {
	_ = godotenv.Load()

	logger := log.WithModule("webtosite")

	command := &cli.Command{
		Name:                  "webtosite",
		Usage:                 "Provision managed content sites and serve the AI proxy gateway",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the gateway on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL; empty or \"memory\" selects the in-memory store",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Platform event bus backend (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma-separated Kafka broker list for the kafka event bus",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   "text",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
			&cli.StringFlag{
				Name:    "admin-secret",
				Usage:   "Shared secret for the proxy admin surface; empty leaves it unmounted",
				Sources: cli.EnvVars("PROXY_ADMIN_SECRET"),
			},
			&cli.BoolFlag{
				Name:    "enable-ai-proxy",
				Usage:   "Serve the OpenAI-compatible proxy surface",
				Sources: cli.EnvVars("ENABLE_AI_PROXY"),
			},
			&cli.BoolFlag{
				Name:    "enable-plugin-api",
				Usage:   "Serve the site plugin validation endpoint",
				Sources: cli.EnvVars("ENABLE_PLUGIN_API"),
			},
			&cli.BoolFlag{
				Name:    "enable-user-auth",
				Usage:   "Require the X-User-ID principal from the auth layer on editor routes",
				Sources: cli.EnvVars("ENABLE_USER_AUTH"),
			},
			&cli.BoolFlag{
				Name:    "enable-voice-flow",
				Usage:   "Serve the voice onboarding variant",
				Sources: cli.EnvVars("ENABLE_VOICE_FLOW"),
			},
			&cli.IntFlag{
				Name:    "log-retention-days",
				Usage:   "Days of proxy request log to keep; 0 keeps everything",
				Sources: cli.EnvVars("PROXY_LOG_RETENTION_DAYS"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			logger.InfoContext(ctx, "Initializing webtosite gateway")

			gateway, err := NewGateway(ctx, logger, GatewayOptions{
				DatabaseURL:      command.String("database-url"),
				EventBus:         command.String("event-bus"),
				KafkaBrokers:     command.String("kafka-brokers"),
				AdminSecret:      command.String("admin-secret"),
				EnableAIProxy:    command.Bool("enable-ai-proxy"),
				EnablePluginAPI:  command.Bool("enable-plugin-api"),
				EnableUserAuth:   command.Bool("enable-user-auth"),
				EnableVoiceFlow:  command.Bool("enable-voice-flow"),
				LogRetentionDays: command.Int("log-retention-days"),
				Providers:        config.ProvidersFromEnv(),
				Content:          config.ContentFromEnv(),
				Redis:            config.RedisFromEnv(),
			})
			if err != nil {
				return err
			}

			defer gateway.Close(ctx)

			return gateway.Start(command.Int("port"))
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		logger.Error("Gateway exited", "error", err)
		os.Exit(1)
	}
}
