package main

import (
	"context"
	"os"
	"strconv"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog"

	"budtender-agent/handler"
	"budtender-agent/internal/integrations/openai"
	"budtender-agent/internal/integrations/paramstore"
	"budtender-agent/internal/repository"
	"budtender-agent/internal/tenantconfig"
	"budtender-agent/internal/usecase"
)

func main() {
	ctx := context.Background()
	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", "budtender-agent").Logger()

	// ---- Configuration (read only here) ----
	catalogTable := mustEnv(log, "CATALOG_TABLE")
	paramPrefix := mustEnv(log, "PARAM_PREFIX")
	selector := usecase.SelectorConfig{
		MaxCandidates: envInt("MAX_CANDIDATES", 0),
		BucketLimit:   envInt("BUCKET_LIMIT", 0),
		FallbackLimit: envInt("FALLBACK_LIMIT", 20),
	}
	maxMessageLen := envInt("MAX_MESSAGE_LENGTH", 500)

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load AWS config")
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create SSM client")
	}
	catalog, err := repository.New(awsdynamodb.NewFromConfig(cfg), catalogTable)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create catalog client")
	}
	tenants, err := tenantconfig.New(ssmClient, ssmClient, paramPrefix)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create tenant store")
	}
	openaiClient, err := openai.NewClient(ssmClient, paramPrefix)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create OpenAI client")
	}

	// ---- Handler ----
	advisor, err := usecase.NewAdvisorService(ssmClient, tenants, catalog, openaiClient, paramPrefix, selector, maxMessageLen, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create advisor service")
	}

	h, err := handler.NewHandler(advisor, tenants, catalog, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create handler")
	}

	lambda.Start(h.Handle)
}

func mustEnv(log zerolog.Logger, key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatal().Str("key", key).Msg("required environment variable is not set")
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
