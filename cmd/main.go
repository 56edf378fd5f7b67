package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"support-relay/handler"
	"support-relay/internal/integrations/assistant"
	"support-relay/internal/integrations/chatwoot"
	"support-relay/internal/integrations/gchat"
	"support-relay/internal/integrations/paramstore"
	"support-relay/internal/usecase"
)

func main() {
	ctx := context.Background()
	logger := slog.Default()

	// ---- Configuration (read only here) ----
	assistantID := mustEnv("ASSISTANT_ID")
	accountID := mustEnv("CHATWOOT_ACCOUNT_ID")
	chatwootBaseURL := os.Getenv("CHATWOOT_BASE_URL")
	paramPrefix := os.Getenv("PARAM_PREFIX")
	maxRetries := envInt("MAX_AI_RETRIES", 2)

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		slog.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	messagingToken := resolveSecret(ctx, ssmClient, paramPrefix, "CHATWOOT_API_KEY", "/chatwoot-api-key")
	messagingOpts := []chatwoot.Option{}
	if chatwootBaseURL != "" {
		messagingOpts = append(messagingOpts, chatwoot.WithBaseURL(chatwootBaseURL))
	}
	messagingClient, err := chatwoot.NewClient(accountID, messagingToken, messagingOpts...)
	if err != nil {
		slog.Error("failed to create messaging client", "err", err)
		os.Exit(1)
	}

	assistantOpts := []assistant.Option{}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		assistantOpts = append(assistantOpts, assistant.WithAPIKey(key))
	}
	assistantClient, err := assistant.NewClient(ssmClient, paramPrefix, assistantOpts...)
	if err != nil {
		slog.Error("failed to create assistant client", "err", err)
		os.Exit(1)
	}

	notifyURL := os.Getenv("GCHAT_WEBHOOK_URL")
	if notifyURL == "" && paramPrefix != "" {
		// Optional channel: a missing parameter just leaves it disabled.
		notifyURL, _ = ssmClient.GetParameter(ctx, paramPrefix+"/gchat-webhook-url")
	}
	notifier := gchat.NewNotifier(notifyURL, messagingClient, logger)

	// ---- Handler ----
	replyService, err := usecase.NewReplyService(assistantClient, notifier, assistantID, maxRetries, logger)
	if err != nil {
		slog.Error("failed to create reply service", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(messagingClient, assistantClient, replyService, notifier, logger)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

// resolveSecret reads a secret from the environment, falling back to SSM
// under the configured prefix. Missing either way is fatal.
func resolveSecret(ctx context.Context, ps *paramstore.Client, paramPrefix, envKey, paramSuffix string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	if paramPrefix == "" {
		slog.Error("required secret is not configured", "env", envKey)
		os.Exit(1)
	}
	v, err := ps.GetParameter(ctx, paramPrefix+paramSuffix)
	if err != nil {
		slog.Error("failed to resolve secret from paramstore", "env", envKey, "err", err)
		os.Exit(1)
	}
	return v
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
