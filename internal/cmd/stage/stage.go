// Package stage parses stage command flags and composes the stage process:
// storage, model provider, scene hub, MCP surface, and transport.
package stage

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	entrypoint "github.com/louisbranch/yesand/internal/platform/cmd"
	platformgrpc "github.com/louisbranch/yesand/internal/platform/grpc"
	"github.com/louisbranch/yesand/internal/platform/timeouts"
	server "github.com/louisbranch/yesand/internal/services/stage/app"
	"github.com/louisbranch/yesand/internal/services/stage/domain/orchestration"
	"github.com/louisbranch/yesand/internal/services/stage/domain/sanitize"
	"github.com/louisbranch/yesand/internal/services/stage/llm"
	stagemcp "github.com/louisbranch/yesand/internal/services/stage/mcp"
	"github.com/louisbranch/yesand/internal/services/stage/orchestrator"
	boltstore "github.com/louisbranch/yesand/internal/services/stage/storage/bbolt"
	sqlitestore "github.com/louisbranch/yesand/internal/services/stage/storage/sqlite"
)

// Config holds stage command configuration.
type Config struct {
	HTTPAddr      string        `env:"STAGE_HTTP_ADDR"      envDefault:":8090"`
	GRPCAddr      string        `env:"STAGE_GRPC_ADDR"      envDefault:":8091"`
	DataDir       string        `env:"STAGE_DATA_DIR"       envDefault:"data"`
	LLMBaseURL    string        `env:"LLM_BASE_URL"         envDefault:"https://api.openai.com/v1"`
	LLMAPIKey     string        `env:"LLM_API_KEY"`
	LLMModel      string        `env:"LLM_MODEL"            envDefault:"gpt-4o-mini"`
	ImageModel    string        `env:"LLM_IMAGE_MODEL"`
	SessionSecret string        `env:"STAGE_SESSION_SECRET"`
	SessionIssuer string        `env:"STAGE_SESSION_ISSUER"`
	TurnBudget    int           `env:"STAGE_TURN_BUDGET"    envDefault:"20"`
	SpendCap      int64         `env:"STAGE_SPEND_CAP"      envDefault:"250000"`
	DirectorDelay time.Duration `env:"STAGE_DIRECTOR_DELAY" envDefault:"45s"`
	CanvasDelay   time.Duration `env:"STAGE_CANVAS_DEBOUNCE" envDefault:"4s"`
	Personas      []string      `env:"STAGE_PERSONAS"       envDefault:"Spark,Echo" envSeparator:","`
	GameMode      string        `env:"STAGE_GAME_MODE"      envDefault:"freeform"`
	IdleAfter     time.Duration `env:"STAGE_IDLE_AFTER"     envDefault:"10m"`
	BlockedTerms  []string      `env:"STAGE_BLOCKED_TERMS"  envSeparator:","`
	EnableMCP     bool          `env:"STAGE_ENABLE_MCP"     envDefault:"true"`

	// HealthCheck checks a running stage instead of starting one.
	HealthCheck bool
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	personas := strings.Join(cfg.Personas, ",")
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "stage HTTP/websocket listen address")
	fs.StringVar(&cfg.GRPCAddr, "grpc-addr", cfg.GRPCAddr, "gRPC health listen address (empty disables)")
	fs.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "directory for board and state databases")
	fs.StringVar(&cfg.LLMBaseURL, "llm-base-url", cfg.LLMBaseURL, "OpenAI-compatible API base URL")
	fs.StringVar(&cfg.LLMModel, "llm-model", cfg.LLMModel, "chat completion model")
	fs.StringVar(&cfg.ImageModel, "image-model", cfg.ImageModel, "image generation model (empty disables)")
	fs.IntVar(&cfg.TurnBudget, "turn-budget", cfg.TurnBudget, "human turns per scene")
	fs.Int64Var(&cfg.SpendCap, "spend-cap", cfg.SpendCap, "model tokens per scene")
	fs.DurationVar(&cfg.DirectorDelay, "director-delay", cfg.DirectorDelay, "silence before the director nudges the scene")
	fs.DurationVar(&cfg.CanvasDelay, "canvas-debounce", cfg.CanvasDelay, "quiet period before performers react to canvas edits")
	fs.StringVar(&personas, "personas", personas, "comma-separated performer personas")
	fs.StringVar(&cfg.GameMode, "game-mode", cfg.GameMode, "default game mode for new scenes")
	fs.DurationVar(&cfg.IdleAfter, "idle-after", cfg.IdleAfter, "stop scenes idle this long (0 disables)")
	fs.BoolVar(&cfg.EnableMCP, "mcp", cfg.EnableMCP, "serve the tool registry at /mcp")
	fs.BoolVar(&cfg.HealthCheck, "healthcheck", false, "check the gRPC health endpoint of a running stage and exit")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	cfg.Personas = splitList(personas)
	if !orchestration.GameMode(cfg.GameMode).Valid() {
		return Config{}, fmt.Errorf("unknown game mode %q", cfg.GameMode)
	}
	return cfg, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// CheckHealth waits until the stage at cfg.GRPCAddr reports SERVING.
func CheckHealth(ctx context.Context, cfg Config) error {
	addr := strings.TrimSpace(cfg.GRPCAddr)
	if addr == "" {
		return errors.New("grpc address is required for health checks")
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("dial health: %w", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, timeouts.HealthCheck)
	defer cancel()
	return platformgrpc.WaitForHealth(ctx, conn, server.HealthService, nil)
}

// Run opens storage, builds the stage app, and serves until ctx ends.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceStage, func(ctx context.Context) error {
		if err := serve(ctx, cfg); err != nil {
			return fmt.Errorf("serve stage: %w", err)
		}
		return nil
	})
}

func serve(ctx context.Context, cfg Config) error {
	if strings.TrimSpace(cfg.LLMAPIKey) == "" {
		return errors.New("llm api key is required")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	boards, err := boltstore.Open(filepath.Join(cfg.DataDir, "boards.db"))
	if err != nil {
		return fmt.Errorf("open board store: %w", err)
	}
	defer func() {
		if err := boards.Close(); err != nil {
			log.Printf("stage: close board store: %v", err)
		}
	}()
	states, err := sqlitestore.Open(filepath.Join(cfg.DataDir, "stage.sqlite"))
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer func() {
		if err := states.Close(); err != nil {
			log.Printf("stage: close state store: %v", err)
		}
	}()

	provider := llm.NewOpenAI(llm.OpenAIConfig{
		BaseURL:    cfg.LLMBaseURL,
		APIKey:     cfg.LLMAPIKey,
		Model:      cfg.LLMModel,
		ImageModel: cfg.ImageModel,
	})
	var images llm.ImageGenerator
	if strings.TrimSpace(cfg.ImageModel) != "" {
		images = provider
	}

	policy := orchestration.DefaultPolicy()
	policy.TurnBudget = cfg.TurnBudget
	policy.SpendCap = cfg.SpendCap
	timing := orchestrator.DefaultTiming()
	timing.DirectorDelay = cfg.DirectorDelay
	timing.CanvasDebounce = cfg.CanvasDelay

	hub := server.NewHub(server.HubConfig{
		Boards:      boards,
		States:      states,
		Generator:   provider,
		Images:      images,
		Moderator:   sanitize.NewPatternModerator(sanitize.DefaultRules(), cfg.BlockedTerms),
		Policy:      policy,
		Timing:      timing,
		Personas:    cfg.Personas,
		DefaultMode: orchestration.GameMode(cfg.GameMode),
		IdleAfter:   cfg.IdleAfter,
	})

	serverCfg := server.Config{
		HTTPAddr:      cfg.HTTPAddr,
		GRPCAddr:      cfg.GRPCAddr,
		SessionSecret: cfg.SessionSecret,
		SessionIssuer: cfg.SessionIssuer,
	}
	if cfg.EnableMCP {
		serverCfg.MCPHandler = stagemcp.NewHTTPHandler(hub, hub.Registry())
	}
	srv, err := server.NewServer(serverCfg, hub)
	if err != nil {
		hub.Close()
		return fmt.Errorf("init stage server: %w", err)
	}
	defer srv.Close()

	return srv.ListenAndServe(ctx)
}
