package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/receipt-ledger/internal/ingest"
	"github.com/zombor/receipt-ledger/internal/receipt"
	"github.com/zombor/receipt-ledger/internal/scanning"
	"github.com/zombor/receipt-ledger/internal/scanning/tesseract"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

// config holds the flags shared by every subcommand
type config struct {
	stagingDB    *string
	dbDriver     *string
	dbDSN        *string
	inbox        *string
	processed    *string
	scannerType  *string
	geminiKey    *string
	geminiModel  *string
	ollamaURL    *string
	ollamaModel  *string
	ocrLang      *string
	ocrExtractor *string
	logLevel     *string
}

// app is the wired set of stores and the service built from config
type app struct {
	staging    *receipt.BoltStaging
	service    *receipt.Service
	categories *receipt.GormCategories
	storage    *receipt.LocalStorage
	scanner    scanning.Scanner
}

func (a *app) Close() {
	if a.scanner != nil {
		a.scanner.Close()
	}
	if a.staging != nil {
		a.staging.Close()
	}
}

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	// A missing .env is fine; real environment variables take precedence
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "error: loading .env: %v\n", err)
		os.Exit(1)
	}

	rootFlags := ff.NewFlagSet("receipt-ledger")
	cfg := &config{
		stagingDB:    rootFlags.StringLong("staging-db", "staging.db", "Staging database file path"),
		dbDriver:     rootFlags.StringLong("db-driver", "sqlite", "Ledger database driver: 'sqlite', 'mysql' or 'postgres'"),
		dbDSN:        rootFlags.StringLong("db-dsn", "ledger.db?_pragma=busy_timeout(5000)", "Ledger database DSN"),
		inbox:        rootFlags.StringLong("inbox", "./receipts/inbox", "Directory receipts are uploaded to and ingested from"),
		processed:    rootFlags.StringLong("processed", "./receipts/processed", "Directory ingested receipts are moved to"),
		scannerType:  rootFlags.StringLong("scanner", "gemini", "Scanner type: 'gemini', 'ollama' or 'tesseract'"),
		geminiKey:    rootFlags.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)"),
		geminiModel:  rootFlags.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name"),
		ollamaURL:    rootFlags.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL"),
		ollamaModel:  rootFlags.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, llava-phi3, bakllava, qwen2-vl)"),
		ocrLang:      rootFlags.StringLong("ocr-lang", "eng", "Tesseract languages, joined with '+'"),
		ocrExtractor: rootFlags.StringLong("ocr-extractor", "ollama", "Model that structures OCR text: 'gemini' or 'ollama'"),
		logLevel:     rootFlags.StringLong("log-level", "info", "Log level: debug, info, warn or error"),
	}
	_ = rootFlags.BoolLong("version", "Show version information")

	serveFlags := ff.NewFlagSet("serve").SetParent(rootFlags)
	var (
		port     = serveFlags.IntLong("port", 8080, "HTTP server port")
		authUser = serveFlags.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass = serveFlags.StringLong("auth-pass", "", "Basic auth password or bcrypt hash (optional)")
		watch    = serveFlags.BoolLong("watch", "Ingest receipts as they land in the inbox")
	)
	serveCmd := &ff.Command{
		Name:      "serve",
		Usage:     "receipt-ledger serve [FLAGS]",
		ShortHelp: "run the review API",
		Flags:     serveFlags,
		Exec: func(ctx context.Context, args []string) error {
			a, err := build(cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			return serve(ctx, a, *port, receipt.BasicAuth{Username: *authUser, Password: *authPass}, *watch)
		},
	}

	ingestFlags := ff.NewFlagSet("ingest").SetParent(rootFlags)
	ingestCmd := &ff.Command{
		Name:      "ingest",
		Usage:     "receipt-ledger ingest [FLAGS]",
		ShortHelp: "stage every receipt in the inbox once and exit",
		Flags:     ingestFlags,
		Exec: func(ctx context.Context, args []string) error {
			a, err := build(cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			report, err := a.service.IngestAll()
			if err != nil {
				return err
			}
			slog.Info("Ingestion finished", "staged", report.Staged, "failed", report.Failed, "skipped", report.Skipped)
			if report.Failed > 0 {
				return fmt.Errorf("%d receipt(s) could not be ingested", report.Failed)
			}
			return nil
		},
	}

	exportFlags := ff.NewFlagSet("export").SetParent(rootFlags)
	out := exportFlags.StringLong("out", "receipts.xlsx", "Output workbook path")
	exportCmd := &ff.Command{
		Name:      "export",
		Usage:     "receipt-ledger export [FLAGS]",
		ShortHelp: "write the ledger to an xlsx workbook",
		Flags:     exportFlags,
		Exec: func(ctx context.Context, args []string) error {
			return export(cfg, *out)
		},
	}

	migrateFlags := ff.NewFlagSet("migrate").SetParent(rootFlags)
	migrateCmd := &ff.Command{
		Name:      "migrate",
		Usage:     "receipt-ledger migrate [FLAGS]",
		ShortHelp: "create or update the ledger tables and exit",
		Flags:     migrateFlags,
		Exec: func(ctx context.Context, args []string) error {
			db, err := receipt.OpenDatabase(*cfg.dbDriver, *cfg.dbDSN)
			if err != nil {
				return err
			}
			if err := receipt.Migrate(db); err != nil {
				return err
			}
			slog.Info("Database migrated", "driver", *cfg.dbDriver)
			return nil
		},
	}

	rootCmd := &ff.Command{
		Name:        "receipt-ledger",
		Usage:       "receipt-ledger [FLAGS] <SUBCOMMAND> ...",
		Flags:       rootFlags,
		Subcommands: []*ff.Command{serveCmd, ingestCmd, exportCmd, migrateCmd},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.Parse(os.Args[1:], ff.WithEnvVarPrefix("RECEIPT_LEDGER"))
	if err == nil {
		configureLogging(*cfg.logLevel)
		err = rootCmd.Run(ctx)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Command(rootCmd))
		if !errors.Is(err, ff.ErrHelp) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	}
}

func configureLogging(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

func newScanner(cfg *config) (scanning.Scanner, error) {
	switch *cfg.scannerType {
	case "gemini":
		slog.Info("Initializing Gemini scanner...", "model", *cfg.geminiModel)
		g, err := newGemini(cfg)
		if err != nil {
			return nil, err
		}
		return g, nil
	case "ollama":
		slog.Info("Initializing Ollama scanner...", "url", *cfg.ollamaURL, "model", *cfg.ollamaModel)
		o, err := scanning.NewOllama(*cfg.ollamaURL, *cfg.ollamaModel)
		if err != nil {
			return nil, err
		}
		return o, nil
	case "tesseract":
		var extractor scanning.TextExtractor
		switch *cfg.ocrExtractor {
		case "gemini":
			g, err := newGemini(cfg)
			if err != nil {
				return nil, err
			}
			extractor = g
		case "ollama":
			o, err := scanning.NewOllama(*cfg.ollamaURL, *cfg.ollamaModel)
			if err != nil {
				return nil, err
			}
			extractor = o
		default:
			return nil, fmt.Errorf("invalid ocr extractor %q: valid values are gemini or ollama", *cfg.ocrExtractor)
		}
		slog.Info("Initializing Tesseract scanner...", "languages", *cfg.ocrLang, "extractor", *cfg.ocrExtractor)
		t, err := tesseract.New(*cfg.ocrLang, extractor)
		if err != nil {
			return nil, err
		}
		return t, nil
	default:
		return nil, fmt.Errorf("invalid scanner type %q: valid values are gemini, ollama or tesseract", *cfg.scannerType)
	}
}

func newGemini(cfg *config) (*scanning.Gemini, error) {
	// Get Gemini API key from flag or environment
	apiKey := *cfg.geminiKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.New("gemini API key is required: set --gemini-key or GEMINI_API_KEY")
	}
	return scanning.NewGemini(apiKey, *cfg.geminiModel)
}

// build opens every store and wires the service
func build(cfg *config) (*app, error) {
	a := &app{}
	var err error

	slog.Info("Initializing staging store...", "path", *cfg.stagingDB)
	a.staging, err = receipt.NewBoltStaging(*cfg.stagingDB)
	if err != nil {
		return nil, fmt.Errorf("opening staging store: %w", err)
	}

	slog.Info("Initializing ledger database...", "driver", *cfg.dbDriver)
	db, err := receipt.OpenDatabase(*cfg.dbDriver, *cfg.dbDSN)
	if err != nil {
		a.Close()
		return nil, err
	}
	if err := receipt.Migrate(db); err != nil {
		a.Close()
		return nil, err
	}

	a.scanner, err = newScanner(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	slog.Info("Initializing storage...", "inbox", *cfg.inbox, "processed", *cfg.processed)
	a.storage, err = receipt.NewLocalStorage(*cfg.inbox, *cfg.processed)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.categories = receipt.NewGormCategories(db)
	a.service = receipt.NewService(a.staging, receipt.NewGormLedger(db), a.scanner, a.storage)
	return a, nil
}

func serve(ctx context.Context, a *app, port int, basicAuth receipt.BasicAuth, watch bool) error {
	gin.SetMode(gin.ReleaseMode)
	server := receipt.NewServer(a.service, a.categories, basicAuth)

	addr := fmt.Sprintf(":%d", port)
	errCh := make(chan error, 2)
	go func() {
		errCh <- server.Start(addr)
	}()

	if watch {
		watcher := ingest.NewWatcher(a.storage.BasePath(), a.service)
		go func() {
			if err := watcher.Run(ctx); err != nil {
				errCh <- err
			}
		}()
	}

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr))
	if basicAuth.Username != "" || basicAuth.Password != "" {
		slog.Info("Basic auth enabled", "user", basicAuth.Username)
	}

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	slog.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func export(cfg *config, path string) error {
	db, err := receipt.OpenDatabase(*cfg.dbDriver, *cfg.dbDSN)
	if err != nil {
		return err
	}
	receipts, err := receipt.NewGormLedger(db).ListAll()
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()
	if err := receipt.WriteLedgerXLSX(f, receipts); err != nil {
		return err
	}
	slog.Info("Exported ledger", "path", path, "receipts", len(receipts))
	return f.Close()
}
