// Command chatprobe 是本地调试工具：签发开发用 token，或直接向模型提问。
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/cyberbuddy/backend/internal/auth"
	"github.com/zhouzirui/cyberbuddy/backend/internal/config"
	"github.com/zhouzirui/cyberbuddy/backend/internal/model/user"
	"github.com/zhouzirui/cyberbuddy/backend/internal/service/ai"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file, using system environment variables only", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "chatprobe",
		Short:        "CyberBuddy backend probe",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(newTokenCmd(), newAskCmd())
	return rootCmd
}

type tokenOptions struct {
	subject string
	email   string
	name    string
	ttl     time.Duration
}

func newTokenCmd() *cobra.Command {
	var opts tokenOptions
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a local HS256 token signed with JWT_SECRET",
		Long: `Mint a bearer token for local development.

The token is signed with JWT_SECRET and JWT_ISSUER from the environment, so the
API server started with AUTH_MODE=jwt accepts it.

Example:
  chatprobe token --subject u1 --email alice@example.com --ttl 24h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return runToken(cmd.OutOrStdout(), cfg.Auth, opts)
		},
	}
	cmd.Flags().StringVar(&opts.subject, "subject", "", "subject (user id) of the token")
	cmd.Flags().StringVar(&opts.email, "email", "", "email claim")
	cmd.Flags().StringVar(&opts.name, "name", "", "display name claim")
	cmd.Flags().DurationVar(&opts.ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func runToken(out io.Writer, cfg config.AuthConfig, opts tokenOptions) error {
	if cfg.Mode != config.AuthJWT {
		return fmt.Errorf("tokens can only be minted with AUTH_MODE=%s, current mode is %q", config.AuthJWT, cfg.Mode)
	}
	verifier, err := auth.NewJWTVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	if err != nil {
		return err
	}

	token, err := verifier.Issue(user.Identity{
		SubjectID:   opts.subject,
		Email:       opts.email,
		DisplayName: opts.name,
	}, opts.ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}

func newAskCmd() *cobra.Command {
	var system string
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Send one question to the configured provider",
		Long: `Send one question through the rate gate and retry policy to the provider
selected by AI_PROVIDER and print the reply, or the classified error.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger, closeLog := config.SetupLogger(cfg.Log)
			defer closeLog()

			provider, err := ai.NewProvider(cmd.Context(), cfg.AI)
			if err != nil {
				return err
			}
			if system == "" {
				system = cfg.AI.SystemPrompt
			}
			return runAsk(cmd.Context(), cmd.OutOrStdout(), cfg, provider, logger, system, args[0])
		},
	}
	cmd.Flags().StringVar(&system, "system", "", "override the system prompt")
	return cmd
}

func runAsk(ctx context.Context, out io.Writer, cfg *config.Config, provider ai.Provider, logger *slog.Logger, system, question string) error {
	gate := ai.NewGate(cfg.RateLimit.MaxConcurrent, cfg.RateLimit.MinInterval)
	retry := ai.NewRetryPolicy(ai.RetryConfig{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
	}, nil).WithLogger(logger)

	start := time.Now()
	reply, err := ai.Call(ctx, gate, retry, cfg.AI.Timeout, func(ctx context.Context) (string, error) {
		return provider.Generate(ctx, ai.SystemPrompt(system), nil, question)
	})
	if err != nil {
		return ai.Classify(err)
	}

	logger.Info("probe reply received", "provider", cfg.AI.Provider, "duration", time.Since(start), "length", len(reply))
	_, err = fmt.Fprintln(out, reply)
	return err
}
