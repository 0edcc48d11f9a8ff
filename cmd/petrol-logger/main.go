package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/peterbourgon/ff/v4/ffyaml"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/zombor/petrol-logger/internal/extract"
	"github.com/zombor/petrol-logger/internal/inbox"
	"github.com/zombor/petrol-logger/internal/ledger"
	"github.com/zombor/petrol-logger/internal/mileage"
	"github.com/zombor/petrol-logger/internal/refill"
	"github.com/zombor/petrol-logger/internal/telegram"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	// A missing .env is fine; the environment and flags still apply
	_ = godotenv.Load()

	fs := ff.NewFlagSet("petrol-logger")
	var (
		smtpAddr      = fs.StringLong("smtp-addr", "0.0.0.0:4467", "SMTP listen address")
		smtpDomain    = fs.StringLong("smtp-domain", "localhost", "SMTP server domain")
		recipients    = fs.StringListLong("allowed-recipient", "Accepted recipient address (repeatable, default any)")
		marker        = fs.StringLong("receipt-marker", extract.DefaultMarker, "Text that identifies a receipt email")
		strategy      = fs.StringLong("strategy", "table", "Field lookup strategy: 'table' or 'delimiter'")
		tgToken       = fs.StringLong("telegram-token", "", "Telegram bot token")
		tgChatID      = fs.StringLong("telegram-chat-id", "", "Telegram chat to prompt for mileage")
		tgURL         = fs.StringLong("telegram-url", telegram.DefaultBaseURL, "Telegram Bot API base URL")
		backoff       = fs.DurationLong("transport-backoff", 60*time.Second, "Delay after a failed Telegram request")
		pollInterval  = fs.DurationLong("poll-interval", 5*time.Second, "Delay between polls for a mileage reply")
		maxRetries    = fs.IntLong("max-transport-retries", 0, "Consecutive Telegram failures before giving up (0 retries forever)")
		ledgerType    = fs.StringLong("ledger", "sheets", "Ledger backend: 'sheets' or 'excel'")
		sheetsCreds   = fs.StringLong("sheets-credentials", "", "Google service account credentials file")
		spreadsheetID = fs.StringLong("sheets-spreadsheet-id", "", "Google spreadsheet ID")
		worksheet     = fs.StringLong("sheets-worksheet", ledger.DefaultWorksheet, "Worksheet refills are logged to")
		excelPath     = fs.StringLong("excel-path", "petrol.xlsx", "Workbook path for the excel ledger")
		baselineType  = fs.StringLong("baseline", "ledger", "Baseline source: 'ledger' or 'file'")
		baselineFile  = fs.StringLong("baseline-file", "baseline.txt", "Baseline file for the file baseline")
		dbPath        = fs.StringLong("db", "petrol-logger.db", "Journal database file path")
		archivePath   = fs.StringLong("archive", "./rejects", "Directory for messages that failed to parse")
		httpAddr      = fs.StringLong("http-addr", "", "HTTP status API address (disabled if empty)")
		authUser      = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass      = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		logLevel      = fs.StringLong("log-level", "info", "Log level: debug, info, warn or error")
		logFormat     = fs.StringLong("log-format", "text", "Log format: 'text' or 'json'")
		_             = fs.StringLong("config", "", "YAML config file (optional)")
		showVersion   = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("PETROL_LOGGER"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ffyaml.Parse),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	logger, err := newLogger(*logLevel, *logFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	slog.Info("Initializing database...", "path", *dbPath)
	db, err := refill.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	archive, err := refill.NewDirArchive(*archivePath)
	if err != nil {
		slog.Error("Failed to initialize archive", "error", err)
		os.Exit(1)
	}

	// Initialize ledger based on type
	var writer ledger.Writer
	switch *ledgerType {
	case "sheets":
		if *spreadsheetID == "" {
			slog.Error("Spreadsheet ID is required. Set --sheets-spreadsheet-id or PETROL_LOGGER_SHEETS_SPREADSHEET_ID")
			os.Exit(1)
		}
		opts := []option.ClientOption{option.WithScopes(sheets.SpreadsheetsScope)}
		if *sheetsCreds != "" {
			opts = append(opts, option.WithCredentialsFile(*sheetsCreds))
		}
		slog.Info("Initializing Google Sheets ledger...", "spreadsheet", *spreadsheetID, "worksheet", *worksheet)
		writer, err = ledger.NewSheetsLedger(ctx, *spreadsheetID, *worksheet, opts...)
	case "excel":
		slog.Info("Initializing workbook ledger...", "path", *excelPath, "worksheet", *worksheet)
		writer, err = ledger.NewExcelLedger(*excelPath, *worksheet)
	default:
		slog.Error("Invalid ledger type", "type", *ledgerType, "valid", "sheets or excel")
		os.Exit(1)
	}
	if err != nil {
		slog.Error("Failed to initialize ledger", "error", err)
		os.Exit(1)
	}

	var baseline ledger.BaselineStore
	switch *baselineType {
	case "ledger":
		baseline = ledger.NewLedgerBaseline(writer)
	case "file":
		baseline, err = ledger.NewFileBaseline(*baselineFile)
		if err != nil {
			slog.Error("Failed to initialize baseline", "error", err)
			os.Exit(1)
		}
	default:
		slog.Error("Invalid baseline type", "type", *baselineType, "valid", "ledger or file")
		os.Exit(1)
	}

	lookup, err := extract.NewStrategy(*strategy)
	if err != nil {
		slog.Error("Invalid strategy", "error", err)
		os.Exit(1)
	}
	extractor := extract.NewExtractor(*marker, lookup)

	chat, err := telegram.NewClient(*tgURL, *tgToken, *tgChatID)
	if err != nil {
		slog.Error("Failed to initialize Telegram client", "error", err)
		os.Exit(1)
	}
	confirmer := mileage.NewConfirmer(chat, mileage.RetryPolicy{
		TransportBackoff:    *backoff,
		PollInterval:        *pollInterval,
		MaxTransportRetries: *maxRetries,
	})
	confirmer.Observer = func(from, to mileage.State) {
		slog.Debug("Confirmation state changed", "from", from, "to", to)
	}

	// Initialize service
	service := refill.NewService(db, extractor, confirmer, writer, baseline, archive)

	listener := inbox.NewServer(inbox.Config{
		Addr:              *smtpAddr,
		Domain:            *smtpDomain,
		AllowedRecipients: *recipients,
	}, service)
	go func() {
		if err := listener.ListenAndServe(); err != nil {
			slog.Error("Inbox listener error", "error", err)
			stop()
		}
	}()

	var server *refill.Server
	if *httpAddr != "" {
		server = refill.NewServer(service, refill.BasicAuth{
			Username: *authUser,
			Password: *authPass,
		})
		go func() {
			if err := server.Start(*httpAddr); err != nil {
				slog.Error("Server error", "error", err)
				stop()
			}
		}()
		if *authUser != "" || *authPass != "" {
			slog.Info("Basic auth enabled", "user", *authUser)
		}
	}

	slog.Info("Petrol logger started", "version", version, "smtp", *smtpAddr, "ledger", *ledgerType)

	// Wait for interrupt signal
	<-ctx.Done()
	slog.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := listener.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Inbox listener did not shut down cleanly", "error", err)
	}
	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Server did not shut down cleanly", "error", err)
		}
	}
}

func newLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("parsing log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch format {
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
}
