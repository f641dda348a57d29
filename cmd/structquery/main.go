// Command structquery runs one schema-validated query from the shell.
//
// Usage:
//
//	structquery ask --schema schema.json "Extract the product: ..."
//	structquery ask --config config.yaml --schema schema.json "..."
//	structquery version
//
// The schema file holds a raw JSON Schema document; the response is printed
// as JSON when it conforms, or the violations when it does not.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/trevorprater/structquery"
	"github.com/trevorprater/structquery/config"
	"github.com/trevorprater/structquery/query"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "ask":
		os.Exit(runAsk(os.Args[2:]))
	case "version":
		fmt.Printf("structquery %s\n", version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, strings.TrimSpace(`
structquery - schema-validated queries against a generative model

commands:
  ask [flags] <prompt>   run one query
  version                print the version

ask flags:
  --config path    YAML config file (env overrides apply)
  --schema path    JSON Schema document for the output shape (required)
  --model name     override the configured model
`))
}

func runAsk(args []string) int {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path")
	schemaPath := fs.String("schema", "", "JSON Schema document path")
	model := fs.String("model", "", "model override")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "ask: a prompt argument is required")
		return 2
	}
	prompt := strings.Join(fs.Args(), " ")

	if *schemaPath == "" {
		fmt.Fprintln(os.Stderr, "ask: --schema is required")
		return 2
	}
	schemaDoc, err := os.ReadFile(*schemaPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ask: read schema: %v\n", err)
		return 1
	}

	cfg, err := config.NewLoader().WithConfigPath(*configPath).Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ask: load config: %v\n", err)
		return 1
	}

	logger, err := buildLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ask: logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	client, err := structquery.New(
		structquery.WithConfig(cfg),
		structquery.WithClientLogger(logger),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ask: %v\n", err)
		return 1
	}

	opts := client.Options()
	opts.OutputFormat = json.RawMessage(schemaDoc)
	if *model != "" {
		opts.Model = *model
	}

	sess, err := structquery.Session[map[string]any](client, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ask: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := sess.Run(ctx, prompt)
	if err != nil {
		if query.CodeOf(err) == query.CodeCancelled {
			fmt.Fprintln(os.Stderr, "ask: interrupted")
			return 130
		}
		fmt.Fprintf(os.Stderr, "ask: %v\n", err)
		return 1
	}

	if !res.Valid() {
		fmt.Fprintf(os.Stderr, "response did not conform (%d violations):\n", len(res.Violations))
		for _, v := range res.Violations {
			fmt.Fprintf(os.Stderr, "  %s [%s]: %s\n", v.Path, v.Constraint, v.Message)
		}
		return 1
	}

	out, err := json.MarshalIndent(res.Value, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "ask: encode result: %v\n", err)
		return 1
	}
	fmt.Println(string(out))
	fmt.Fprintf(os.Stderr, "tokens: %d in / %d out ($%.5f)\n",
		res.Usage.InputTokens, res.Usage.OutputTokens, res.Usage.CostUSD)
	return 0
}

func buildLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		zc.Level = level
	}
	return zc.Build()
}
