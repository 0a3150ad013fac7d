package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/civicrelay/civicrelay/internal/api"
	"github.com/civicrelay/civicrelay/internal/flow"
	"github.com/civicrelay/civicrelay/internal/genai"
	"github.com/civicrelay/civicrelay/internal/lockfile"
	"github.com/civicrelay/civicrelay/internal/messaging"
	"github.com/civicrelay/civicrelay/internal/registry"
	"github.com/civicrelay/civicrelay/internal/store"
	"github.com/civicrelay/civicrelay/internal/twiliosms"
	"github.com/civicrelay/civicrelay/internal/util"
	"github.com/civicrelay/civicrelay/internal/whatsapp"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultDataDir is the default directory for CivicRelay data
	DefaultDataDir = "/var/lib/civicrelay"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "civicrelay.db"
	// DefaultWhatsAppDBFileName is the default SQLite database for WhatsApp session state
	DefaultWhatsAppDBFileName = "whatsmeow.db"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	if err := run(flags); err != nil {
		slog.Error("CivicRelay failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("CivicRelay exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL string
	WhatsAppDSN string
	DataDir     string
	OpenAIKey   string
	OpenAIModel string
	TwilioSID   string
	APIAddr     string
}

// Flags holds command line flag values
type Flags struct {
	qrOutput    *string
	numeric     *bool
	dataDir     *string
	dbDSN       *string
	waDSN       *string
	openaiKey   *string
	openaiModel *string
	apiAddr     *string
	noWorker    *bool
}

// initializeLogger sets up structured logging. Debug level is enabled via
// $CIVICRELAY_DEBUG.
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("CIVICRELAY_DEBUG", false) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		WhatsAppDSN: os.Getenv("WHATSAPP_DB_DSN"),
		DataDir:     os.Getenv("CIVICRELAY_DATA_DIR"),
		OpenAIKey:   os.Getenv("OPENAI_API_KEY"),
		OpenAIModel: os.Getenv("OPENAI_MODEL"),
		TwilioSID:   os.Getenv("TWILIO_ACCOUNT_SID"),
		APIAddr:     os.Getenv("API_ADDR"),
	}

	if config.DataDir == "" {
		config.DataDir = DefaultDataDir
		slog.Debug("No CIVICRELAY_DATA_DIR set, using default", "data_dir", config.DataDir)
	}

	// Fall back to SQLite files in the data directory when no DSNs are provided.
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.DataDir, DefaultDBFileName)
		slog.Debug("No DATABASE_URL provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = filepath.Join(config.DataDir, DefaultWhatsAppDBFileName)
		slog.Debug("No WHATSAPP_DB_DSN provided, defaulting to SQLite", "sqlite_path", config.WhatsAppDSN)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDSN != "",
		"CIVICRELAY_DATA_DIR", config.DataDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"TWILIO_ACCOUNT_SID_SET", config.TwilioSID != "",
		"API_ADDR", config.APIAddr)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:    flag.String("qr-output", "", "path to write WhatsApp login QR code"),
		numeric:     flag.Bool("numeric-code", false, "use numeric WhatsApp login code instead of QR code"),
		dataDir:     flag.String("data-dir", config.DataDir, "data directory for CivicRelay state (overrides $CIVICRELAY_DATA_DIR)"),
		dbDSN:       flag.String("db-dsn", config.DatabaseURL, "database DSN for conversation and report storage (overrides $DATABASE_URL)"),
		waDSN:       flag.String("whatsapp-db-dsn", config.WhatsAppDSN, "database DSN for WhatsApp session state (overrides $WHATSAPP_DB_DSN)"),
		openaiKey:   flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		openaiModel: flag.String("openai-model", config.OpenAIModel, "OpenAI model name (overrides $OPENAI_MODEL)"),
		apiAddr:     flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		noWorker:    flag.Bool("no-worker-line", false, "disable the WhatsApp worker line"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"qrOutput", *flags.qrOutput,
		"numeric", *flags.numeric,
		"dataDir", *flags.dataDir,
		"dbDSN_set", *flags.dbDSN != "",
		"waDSN_set", *flags.waDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"noWorker", *flags.noWorker)

	// Re-derive default SQLite paths when the data directory flag moved them.
	if *flags.dataDir != config.DataDir {
		if *flags.dbDSN == filepath.Join(config.DataDir, DefaultDBFileName) {
			*flags.dbDSN = filepath.Join(*flags.dataDir, DefaultDBFileName)
		}
		if *flags.waDSN == filepath.Join(config.DataDir, DefaultWhatsAppDBFileName) {
			*flags.waDSN = filepath.Join(*flags.dataDir, DefaultWhatsAppDBFileName)
		}
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	for _, dsn := range []string{*flags.dbDSN, *flags.waDSN} {
		if store.DetectDSNType(dsn) == "postgres" {
			continue
		}
		dir := filepath.Dir(dsn)
		if err := os.MkdirAll(dir, 0755); err != nil {
			slog.Error("Failed to create directory for database", "error", err, "dir", dir)
			return err
		}
	}
	return nil
}

// run wires the components together and blocks until shutdown.
func run(flags Flags) error {
	lock, err := lockfile.AcquireLock(*flags.dataDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := openStore(flags)
	if err != nil {
		return err
	}
	defer st.Close()

	aiClient, err := genai.NewClient(buildGenAIOptions(flags)...)
	if err != nil {
		return err
	}

	reg := registry.New(st)

	states := flow.NewStateManager(st)
	contexts := flow.NewContextBuilder(reg)
	pipeline := flow.NewDecisionPipeline(aiClient)
	executor := flow.NewExecutor(reg, reg, reg, reg, aiClient)
	engine := flow.NewEngine(states, contexts, pipeline, executor)

	var services []messaging.Service
	var citizenLine *messaging.TwilioService

	if os.Getenv("TWILIO_ACCOUNT_SID") != "" {
		twilioClient, err := twiliosms.NewClient()
		if err != nil {
			return err
		}
		citizenLine = messaging.NewTwilioService(twilioClient)
		services = append(services, citizenLine)
		slog.Info("Citizen SMS line enabled")
	} else {
		slog.Warn("TWILIO_ACCOUNT_SID not set, citizen SMS line disabled")
	}

	if !*flags.noWorker {
		waClient, err := whatsapp.NewClient(buildWhatsAppOptions(flags)...)
		if err != nil {
			return err
		}
		services = append(services, messaging.NewWhatsAppService(waClient))
		slog.Info("Worker WhatsApp line enabled")
	} else {
		slog.Info("Worker WhatsApp line disabled by flag")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	router := messaging.NewRouter(engine, services...)
	if err := router.Start(ctx); err != nil {
		return err
	}
	defer router.Stop()

	server := api.NewServer(engine, states, citizenLine, buildAPIOptions(flags)...)
	slog.Info("CivicRelay started", "services", len(services))
	return server.Start(ctx)
}

// openStore selects the durable store implementation from the DSN.
func openStore(flags Flags) (store.Store, error) {
	dsn := *flags.dbDSN
	if store.DetectDSNType(dsn) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, using PostgreSQL store")
		return store.NewPostgresStore(store.WithPostgresDSN(dsn))
	}
	slog.Debug("Detected SQLite DSN, using SQLite store", "db_path", dsn)
	return store.NewSQLiteStore(store.WithSQLiteDSN(dsn))
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(flags Flags) []whatsapp.Option {
	var waOpts []whatsapp.Option
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if *flags.waDSN != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.waDSN))
	}
	return waOpts
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	if *flags.openaiModel != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(*flags.openaiModel))
	}
	return genaiOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	return apiOpts
}
