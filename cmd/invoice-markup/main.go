package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/invoice-markup/internal/billing"
	"github.com/zombor/invoice-markup/internal/document"
	"github.com/zombor/invoice-markup/internal/invoice"
	"github.com/zombor/invoice-markup/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

// run parses args, executes the selected subcommand and returns the process
// exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	rootFlags := ff.NewFlagSet("invoice-markup")
	logoPath := rootFlags.StringLong("logo", "", "PNG or JPEG logo printed on rendered invoices (optional)")
	fontPath := rootFlags.StringLong("font", "", "TrueType font for non-Latin text on rendered invoices (optional)")
	fontBoldPath := rootFlags.StringLong("font-bold", "", "bold TrueType font used with --font (defaults to --font)")
	showVersion := rootFlags.Bool('v', "version", "Show version information")

	root := &ff.Command{
		Name:      "invoice-markup",
		Usage:     "invoice-markup [FLAGS] <SUBCOMMAND> ...",
		ShortHelp: "re-bill supplier invoices with a 2.5% markup",
		Flags:     rootFlags,
	}

	newRenderer := func() (*document.Renderer, error) {
		issuer := document.DefaultIssuer
		if *logoPath != "" {
			logo, err := os.ReadFile(*logoPath)
			if err != nil {
				return nil, fmt.Errorf("reading logo: %w", err)
			}
			issuer.Logo = logo
		}
		opts := []document.Option{document.WithIssuer(issuer)}
		if *fontPath != "" {
			regular, bold, err := readFonts(*fontPath, *fontBoldPath)
			if err != nil {
				return nil, err
			}
			opts = append(opts, document.WithUTF8Font(regular, bold))
		}
		return document.NewRenderer(opts...), nil
	}

	root.Subcommands = []*ff.Command{
		serveCommand(rootFlags, newRenderer),
		renderCommand(rootFlags, newRenderer),
	}

	err := root.Parse(args, ff.WithEnvVarPrefix("INVOICE_MARKUP"))
	if err == nil && *showVersion {
		fmt.Fprintln(stdout, version)
		return 0
	}
	if err == nil {
		err = root.Run(ctx)
	}
	if err == nil {
		return 0
	}

	selected := root.GetSelected()
	if selected == nil {
		selected = root
	}
	if errors.Is(err, ff.ErrHelp) {
		fmt.Fprintf(stderr, "%s\n", ffhelp.Command(selected))
		return 0
	}
	if !isRunError(err) {
		fmt.Fprintf(stderr, "%s\n", ffhelp.Command(selected))
	}
	fmt.Fprintf(stderr, "error: %v\n", err)
	return 1
}

// runError marks failures that happen after flags parsed cleanly, so usage
// is not printed for them
type runError struct {
	err error
}

func (e runError) Error() string { return e.err.Error() }
func (e runError) Unwrap() error { return e.err }

func isRunError(err error) bool {
	var re runError
	return errors.As(err, &re)
}

// readFonts loads the UTF-8 font pair. The regular face stands in for bold
// when no bold file is given.
func readFonts(regularPath, boldPath string) ([]byte, []byte, error) {
	regular, err := os.ReadFile(regularPath)
	if err != nil {
		return nil, nil, fmt.Errorf("reading font: %w", err)
	}
	if boldPath == "" {
		return regular, regular, nil
	}
	bold, err := os.ReadFile(boldPath)
	if err != nil {
		return nil, nil, fmt.Errorf("reading bold font: %w", err)
	}
	return regular, bold, nil
}

func serveCommand(parent *ff.FlagSet, newRenderer func() (*document.Renderer, error)) *ff.Command {
	fs := ff.NewFlagSet("serve").SetParent(parent)
	var (
		port           = fs.IntLong("port", 8080, "HTTP server port")
		dbPath         = fs.StringLong("db", "invoice-markup.db", "Database file path")
		storagePath    = fs.StringLong("storage", "./invoices", "Storage directory for uploaded invoices")
		scannerType    = fs.StringLong("scanner", "webhook", "Scanner type: 'webhook', 'gemini' or 'ollama'")
		webhookURL     = fs.StringLong("webhook-url", "", "Automation webhook URL that extracts invoice data")
		webhookTimeout = fs.DurationLong("webhook-timeout", 2*time.Minute, "Webhook request timeout")
		geminiKey      = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel    = fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		ollamaURL      = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel    = fs.StringLong("ollama-model", "qwen2.5vl", "Ollama vision model name")
		authUser       = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass       = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
	)

	return &ff.Command{
		Name:      "serve",
		Usage:     "invoice-markup serve [FLAGS]",
		ShortHelp: "run the HTTP API",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			renderer, err := newRenderer()
			if err != nil {
				return runError{err}
			}

			slog.Info("Initializing database...")
			db, err := billing.NewBoltDB(*dbPath)
			if err != nil {
				return runError{fmt.Errorf("initializing database: %w", err)}
			}
			defer db.Close()

			scanner, err := newScanner(*scannerType, scannerConfig{
				webhookURL:     *webhookURL,
				webhookTimeout: *webhookTimeout,
				geminiKey:      *geminiKey,
				geminiModel:    *geminiModel,
				ollamaURL:      *ollamaURL,
				ollamaModel:    *ollamaModel,
			})
			if err != nil {
				return runError{err}
			}
			defer scanner.Close()

			slog.Info("Initializing storage...")
			store, err := billing.NewLocalStorage(*storagePath)
			if err != nil {
				return runError{fmt.Errorf("initializing storage: %w", err)}
			}

			service := billing.NewService(db, scanner, store, renderer)
			server := billing.NewServer(service, billing.BasicAuth{
				Username: *authUser,
				Password: *authPass,
			})

			addr := fmt.Sprintf(":%d", *port)
			slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)
			if *authUser != "" || *authPass != "" {
				slog.Info("Basic auth enabled", "user", *authUser)
			}

			if err := server.Run(ctx, addr); err != nil {
				return runError{fmt.Errorf("server error: %w", err)}
			}
			return nil
		},
	}
}

type scannerConfig struct {
	webhookURL     string
	webhookTimeout time.Duration
	geminiKey      string
	geminiModel    string
	ollamaURL      string
	ollamaModel    string
}

func newScanner(kind string, cfg scannerConfig) (scanning.Scanner, error) {
	switch kind {
	case "webhook":
		slog.Info("Initializing webhook scanner...", "url", cfg.webhookURL)
		scanner, err := scanning.NewWebhook(cfg.webhookURL, cfg.webhookTimeout)
		if err != nil {
			return nil, fmt.Errorf("initializing webhook scanner: %w", err)
		}
		return scanner, nil
	case "gemini":
		apiKey := cfg.geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		slog.Info("Initializing Gemini scanner...", "model", cfg.geminiModel)
		scanner, err := scanning.NewGemini(apiKey, cfg.geminiModel)
		if err != nil {
			return nil, fmt.Errorf("initializing gemini: %w", err)
		}
		return scanner, nil
	case "ollama":
		slog.Info("Initializing Ollama scanner...", "url", cfg.ollamaURL, "model", cfg.ollamaModel)
		scanner, err := scanning.NewOllama(cfg.ollamaURL, cfg.ollamaModel)
		if err != nil {
			return nil, fmt.Errorf("initializing ollama: %w", err)
		}
		return scanner, nil
	default:
		return nil, fmt.Errorf("invalid scanner type %q: want webhook, gemini or ollama", kind)
	}
}

func renderCommand(parent *ff.FlagSet, newRenderer func() (*document.Renderer, error)) *ff.Command {
	fs := ff.NewFlagSet("render").SetParent(parent)
	var (
		payloadPath   = fs.StringLong("payload", "-", "Extraction payload file, '-' for stdin")
		outDir        = fs.StringLong("out", ".", "Directory to write the PDF into")
		invoiceNumber = fs.StringLong("invoice-number", "", "Invoice number")
		paymentTerms  = fs.StringLong("payment-terms", "", "Payment terms")
		clientName    = fs.StringLong("client-name", "", "Client name")
		clientAddress = fs.StringLong("client-address", "", "Client address")
		clientTaxID   = fs.StringLong("client-tax-id", "", "Client tax ID")
	)

	return &ff.Command{
		Name:      "render",
		Usage:     "invoice-markup render [FLAGS]",
		ShortHelp: "render a PDF from an extraction payload",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			md := invoice.Metadata{
				InvoiceNumber: *invoiceNumber,
				PaymentTerms:  *paymentTerms,
				Client: invoice.ClientDetails{
					Name:    *clientName,
					Address: *clientAddress,
					TaxID:   *clientTaxID,
				},
			}
			if err := md.Validate(); err != nil {
				return err
			}

			payload, err := readPayload(*payloadPath, os.Stdin)
			if err != nil {
				return runError{err}
			}

			renderer, err := newRenderer()
			if err != nil {
				return runError{err}
			}

			record, err := invoice.Normalize(payload, md)
			if err != nil {
				return runError{err}
			}
			doc, err := renderer.Render(record)
			if err != nil {
				return runError{fmt.Errorf("rendering invoice: %w", err)}
			}

			store, err := billing.NewLocalStorage(*outDir)
			if err != nil {
				return runError{fmt.Errorf("initializing output directory: %w", err)}
			}
			name, err := store.Save(doc.Filename(), doc.Bytes())
			if err != nil {
				return runError{fmt.Errorf("writing document: %w", err)}
			}

			slog.Info("Invoice rendered",
				"file", name,
				"pages", doc.Pages(),
				"items", len(record.Items),
				"total", record.Currency+" "+record.MarkupTotal.StringFixed(2),
			)
			return nil
		},
	}
}

func readPayload(path string, stdin io.Reader) ([]byte, error) {
	if path == "" || path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("reading payload from stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading payload: %w", err)
	}
	return data, nil
}
