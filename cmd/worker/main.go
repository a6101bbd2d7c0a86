// Command worker is the process entry point a dispatcher invokes once per
// job (or once per single-step rerun), grounded directly on
// original_source/backend/worker/worker.py's main(): read JOB_ID/STEP_INDEX/
// CONTINUE_AFTER from the environment, wire the concrete services, run the
// Job Processor exactly once, map its outcome onto the documented exit
// codes, and install the same SIGINT=130/SIGTERM=143 signal convention
// (§6).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"goa.design/clue/log"

	"github.com/grandcanyonsmith/leadengine/internal/artifactstore"
	"github.com/grandcanyonsmith/leadengine/internal/capability"
	"github.com/grandcanyonsmith/leadengine/internal/capability/browser"
	"github.com/grandcanyonsmith/leadengine/internal/capability/clock"
	"github.com/grandcanyonsmith/leadengine/internal/capability/emailsender"
	"github.com/grandcanyonsmith/leadengine/internal/capability/httpclient"
	"github.com/grandcanyonsmith/leadengine/internal/capability/idgen"
	"github.com/grandcanyonsmith/leadengine/internal/capability/kvstore"
	"github.com/grandcanyonsmith/leadengine/internal/capability/lease"
	"github.com/grandcanyonsmith/leadengine/internal/capability/objectstore"
	"github.com/grandcanyonsmith/leadengine/internal/capability/secretstore"
	"github.com/grandcanyonsmith/leadengine/internal/capability/shellrunner"
	"github.com/grandcanyonsmith/leadengine/internal/config"
	"github.com/grandcanyonsmith/leadengine/internal/delivery"
	"github.com/grandcanyonsmith/leadengine/internal/jobprocessor"
	"github.com/grandcanyonsmith/leadengine/internal/llmadapter"
	"github.com/grandcanyonsmith/leadengine/internal/llmadapter/anthropic"
	"github.com/grandcanyonsmith/leadengine/internal/llmadapter/bedrock"
	"github.com/grandcanyonsmith/leadengine/internal/llmadapter/openai"
	"github.com/grandcanyonsmith/leadengine/internal/orchestrator"
	"github.com/grandcanyonsmith/leadengine/internal/stephandler"
	"github.com/grandcanyonsmith/leadengine/internal/steprecorder"
)

// bedrockModelPrefixes routes AWS Bedrock inference-profile model IDs (e.g.
// "anthropic.claude-3-5-sonnet-20241022-v2:0", "us.anthropic.claude-...") to
// the Bedrock-hosted provider rather than the direct Anthropic API, which
// instead sees bare "claude-..." model IDs. Not named anywhere in
// original_source (it never routed between providers by prefix — it only
// ever called OpenAI directly); this module's own routing convention (§1
// DOMAIN STACK names all three backends but not how a step selects one).
var bedrockModelPrefixes = []string{"anthropic.", "us.anthropic.", "meta.", "amazon.", "mistral.", "cohere."}

// llmSecret is the JSON document LLM_SECRET_NAME (§6) resolves to: a single
// opaque secret holding every provider's API key, rather than one secret per
// provider, matching original_source's single APIKeyManager boundary for
// resolving model credentials.
type llmSecret struct {
	OpenAIAPIKey    string `json:"openai_api_key"`
	AnthropicAPIKey string `json:"anthropic_api_key"`
	AnthropicModel  string `json:"anthropic_default_model"`
	BedrockModel    string `json:"bedrock_default_model"`
}

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}

	format := log.FormatJSON
	if cfg.LogFormat == config.LogFormatText {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))

	if cfg.JobID == "" && cfg.FixturePath == "" {
		log.Error(ctx, fmt.Errorf("JOB_ID environment variable not set"), log.KV{K: "msg", V: "missing required configuration"})
		fmt.Fprintln(os.Stderr, "ERROR: JOB_ID environment variable not set")
		os.Exit(1)
	}

	// Mirror worker.py's signal_handler: 130 for SIGINT, 143 for SIGTERM,
	// both logged and flushed before exit (§5 cancellation propagation).
	ctx, cancel := context.WithCancel(ctx)
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigc
		log.Print(ctx, log.KV{K: "msg", V: "received signal, initiating graceful shutdown"}, log.KV{K: "signal", V: sig.String()})
		cancel()
		code := 143
		if sig == syscall.SIGINT {
			code = 130
		}
		time.Sleep(2 * time.Second) // give the in-flight CAS write a chance to land
		os.Exit(code)
	}()

	var (
		processor *jobprocessor.Processor
		cleanup   func()
	)
	if cfg.FixturePath != "" {
		doc, ferr := loadFixture(cfg.FixturePath)
		if ferr != nil {
			log.Error(ctx, ferr, log.KV{K: "msg", V: "failed to load worker fixture"})
			fmt.Fprintf(os.Stderr, "ERROR: failed to load worker fixture: %v\n", ferr)
			os.Exit(1)
		}
		cfg.JobID = doc.Job.JobID
		processor, cleanup, err = buildFixtureProcessor(cfg, doc)
	} else {
		processor, cleanup, err = buildProcessor(ctx, cfg)
	}
	if err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "failed to initialize worker services"})
		fmt.Fprintf(os.Stderr, "ERROR: failed to initialize worker services: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	log.Print(ctx, log.KV{K: "msg", V: "starting worker"}, log.KV{K: "job_id", V: cfg.JobID}, log.KV{K: "step_index", V: cfg.StepIndex})

	result, err := processor.Process(ctx, jobprocessor.Request{
		JobID:         cfg.JobID,
		StepIndex:     cfg.StepIndex,
		ContinueAfter: cfg.ContinueAfter,
	})
	if err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "fatal error processing job"}, log.KV{K: "job_id", V: cfg.JobID})
		fmt.Fprintf(os.Stderr, "ERROR: fatal error processing job %s: %v\n", cfg.JobID, err)
		os.Exit(1)
	}

	if !result.Success {
		log.Error(ctx, fmt.Errorf("%s", result.Error), log.KV{K: "msg", V: "job failed"}, log.KV{K: "job_id", V: cfg.JobID}, log.KV{K: "error_type", V: result.ErrorType})
		fmt.Fprintf(os.Stderr, "ERROR: job %s failed: %s\n", cfg.JobID, result.Error)
		os.Exit(1)
	}

	log.Print(ctx, log.KV{K: "msg", V: "job completed successfully"}, log.KV{K: "job_id", V: cfg.JobID})
	os.Exit(0)
}

// buildProcessor wires every capability implementation named in §1's DOMAIN
// STACK into a ready-to-run jobprocessor.Processor. The returned cleanup
// func closes network clients that hold persistent connections (Mongo,
// Redis).
func buildProcessor(ctx context.Context, cfg config.Config) (*jobprocessor.Processor, func(), error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.ObjectStoreRegion))
	if err != nil {
		return nil, nil, fmt.Errorf("load aws config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg)
	secretsClient := secretsmanager.NewFromConfig(awsCfg)
	lambdaClient := lambda.NewFromConfig(awsCfg)
	sesClient := sesv2.NewFromConfig(awsCfg)
	bedrockClient := bedrockruntime.NewFromConfig(awsCfg)

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(envOrDefault("MONGO_URI", "mongodb://localhost:27017")))
	if err != nil {
		return nil, nil, fmt.Errorf("connect mongo: %w", err)
	}
	db := mongoClient.Database(envOrDefault("MONGO_DATABASE", "leadengine"))

	redisClient := redis.NewClient(&redis.Options{Addr: envOrDefault("REDIS_ADDR", "localhost:6379")})

	cleanup := func() {
		_ = mongoClient.Disconnect(context.Background())
		_ = redisClient.Close()
	}

	objects := objectstore.New(s3Client, cfg.ObjectStoreBucket, objectstore.WithCDNDomain(cfg.CDNDomain))
	kv := kvstore.New(db)
	secrets := secretstore.New(secretsClient)
	leaseStore := lease.New(redisClient, "leadengine/lease/")
	ids := idgen.New()
	wallClock := clock.New()
	httpClient := httpclient.New()

	router, err := buildRouter(ctx, secrets, cfg, bedrockClient)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("build llm router: %w", err)
	}

	store := artifactstore.New(objects, kv, httpClient, ids, wallClock)
	adapter := llmadapter.New(router, store)

	// ShellRunner is only wired when SHELL_EXECUTOR_FUNCTION_NAME is
	// configured; tool steps that never request shell access don't need it.
	var shellRunner capability.ShellRunner
	if cfg.ShellExecutorFunctionName != "" {
		r, err := shellrunner.New(lambdaClient, cfg.ShellExecutorFunctionName)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("build shell runner: %w", err)
		}
		shellRunner = r
	}

	var sender capability.EmailSender
	if cfg.EmailFromAddress != "" {
		s, err := emailsender.New(sesClient, cfg.EmailFromAddress)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("build email sender: %w", err)
		}
		sender = s
	}

	recorder := steprecorder.New(objects, kv, ids, wallClock, steprecorder.Config{})

	aiHandler := &stephandler.AIGenerationHandler{
		Adapter: adapter,
		Store:   store,
		KV:      kv,
		Browser: browser.New(),
		Shell:   shellRunner,
		Clock:   wallClock,
	}
	webhookHandler := &stephandler.WebhookHandler{HTTP: httpClient, KV: kv, Clock: wallClock}

	finalizer := &delivery.Finalizer{
		KV:                  kv,
		Store:               store,
		Adapter:             adapter,
		HTTP:                httpClient,
		Email:               sender,
		Clock:               wallClock,
		APIURL:              cfg.APIURL,
		TemplateRenderModel: cfg.TemplateRenderModel,
		WebhookMaxRetries:   cfg.DeliveryWebhookMaxRetries,
	}

	o := &orchestrator.Orchestrator{
		KV:        kv,
		Recorder:  recorder,
		IDs:       ids,
		Clock:     wallClock,
		AI:        aiHandler,
		Webhook:   webhookHandler,
		Finalizer: finalizer,
	}

	return &jobprocessor.Processor{
		KV:           kv,
		Lease:        leaseStore,
		Clock:        wallClock,
		Orchestrator: o,
	}, cleanup, nil
}

// buildRouter resolves LLM_SECRET_NAME and wires every available LLM
// backend (§1 DOMAIN STACK) into one Router: OpenAI is the fallback (the
// engine's default backend, per the llmadapter package doc), Anthropic and
// Bedrock are selected by model-ID prefix.
func buildRouter(ctx context.Context, secrets capability.SecretStore, cfg config.Config, bedrockClient *bedrockruntime.Client) (*llmadapter.Router, error) {
	var secret llmSecret
	if cfg.LLMSecretName != "" {
		raw, err := secrets.Get(ctx, cfg.LLMSecretName)
		if err != nil {
			return nil, fmt.Errorf("resolve llm secret %s: %w", cfg.LLMSecretName, err)
		}
		if err := json.Unmarshal([]byte(raw), &secret); err != nil {
			return nil, fmt.Errorf("decode llm secret %s: %w", cfg.LLMSecretName, err)
		}
	}

	openaiProvider, err := openai.NewFromAPIKey(secret.OpenAIAPIKey)
	if err != nil {
		return nil, fmt.Errorf("build openai provider: %w", err)
	}
	router := llmadapter.NewRouter(openaiProvider)

	if secret.AnthropicAPIKey != "" {
		defaultModel := secret.AnthropicModel
		if defaultModel == "" {
			defaultModel = "claude-sonnet-4-5"
		}
		anthropicProvider, err := anthropic.NewFromAPIKey(secret.AnthropicAPIKey, defaultModel)
		if err != nil {
			return nil, fmt.Errorf("build anthropic provider: %w", err)
		}
		router.Register("claude-", anthropicProvider)
	}

	bedrockModel := secret.BedrockModel
	if bedrockModel == "" {
		bedrockModel = "anthropic.claude-3-5-sonnet-20241022-v2:0"
	}
	bedrockProvider, err := bedrock.New(bedrockClient, bedrock.Options{DefaultModel: bedrockModel})
	if err != nil {
		return nil, fmt.Errorf("build bedrock provider: %w", err)
	}
	for _, prefix := range bedrockModelPrefixes {
		router.Register(prefix, bedrockProvider)
	}

	return router, nil
}

func envOrDefault(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}
