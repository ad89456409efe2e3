package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/term"

	"researchbuddy/internal/catalog"
	"researchbuddy/internal/config"
	"researchbuddy/internal/conversation"
	"researchbuddy/internal/credentials"
	"researchbuddy/internal/db"
	"researchbuddy/internal/gateway"
	"researchbuddy/internal/logging"
	"researchbuddy/internal/server"
	"researchbuddy/internal/ui"
)

const recorderQueue = 256

const usage = `Usage: researchbuddy [-config path] [command]

Commands:
  chat      interactive terminal client (default)
  serve     JSON HTTP API
  admin     inspect and maintain the interaction log (list, show, export-session, stats, query, cleanup)
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("researchbuddy", flag.ContinueOnError)
	configPath := fs.String("config", config.DefaultPath(), "path to config.toml")
	fs.Usage = func() { fmt.Fprint(fs.Output(), usage); fs.PrintDefaults() }
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	cmd, rest := "chat", fs.Args()
	if len(rest) > 0 {
		cmd, rest = rest[0], rest[1:]
	}

	switch cmd {
	case "chat":
		return runChat(cfg)
	case "serve":
		return runServe(cfg, rest)
	case "admin":
		return runAdmin(cfg, rest, os.Stdin, os.Stdout)
	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// app holds everything both front-ends share.
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	logClose io.Closer
	db       *sql.DB
	dbErr    error
	recorder *conversation.AsyncRecorder
	creds    credentials.Resolver
}

func newApp(cfg *config.Config) (*app, error) {
	logger, closer, err := logging.Setup(cfg.Log, cfg.Paths.LogFile)
	if err != nil {
		return nil, fmt.Errorf("setup logging: %w", err)
	}
	a := &app{
		cfg:      cfg,
		logger:   logger,
		logClose: closer,
		creds:    credentials.Standard(cfg.Paths.Secrets),
	}

	a.db, a.dbErr = db.Open(cfg.Paths.Database)
	if a.dbErr != nil {
		logger.Warn().Err(a.dbErr).Str("path", cfg.Paths.Database).Msg("interaction log unavailable")
	} else {
		a.recorder = conversation.NewAsyncRecorder(db.Sink{DB: a.db}, logger, recorderQueue)
	}
	return a, nil
}

func (a *app) defaults() conversation.Settings {
	return conversation.Settings{
		ModelName:   a.cfg.Chat.DefaultModel,
		Temperature: a.cfg.Chat.Temperature,
		MaxTokens:   a.cfg.Chat.MaxTokens,
	}
}

func (a *app) orchestrator(creds credentials.Resolver) (*conversation.Orchestrator, error) {
	opts := []conversation.Option{
		conversation.WithLogger(a.logger),
		conversation.WithHistoryWindow(a.cfg.Chat.HistoryWindow),
		conversation.WithMaxTokensLimit(a.cfg.Chat.MaxTokensLimit),
	}
	if a.recorder != nil {
		opts = append(opts, conversation.WithRecorder(a.recorder))
	}
	gw := gateway.New(a.cfg.Provider, gateway.WithLogger(a.logger))
	orch := conversation.New(catalog.Default(), gw, creds, opts...)
	if err := orch.CheckSettings(a.defaults()); err != nil {
		return nil, fmt.Errorf("chat defaults: %w", err)
	}
	return orch, nil
}

// Close drains pending log writes before the database goes away.
func (a *app) Close() {
	if a.recorder != nil {
		_ = a.recorder.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
	_ = a.logClose.Close()
}

func runChat(cfg *config.Config) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	orch, err := a.orchestrator(a.creds)
	if err != nil {
		return err
	}

	p := ui.NewProgram(ui.Deps{
		Orchestrator: orch,
		Defaults:     a.defaults(),
		DB:           a.db,
		DBErr:        a.dbErr,
		ExportDir:    cfg.Paths.Exports,
		Logger:       a.logger,
	})
	_, err = p.Run()
	return err
}

func runServe(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	addr := fs.String("addr", cfg.Server.Addr, "listen address")
	promptKey := fs.Bool("prompt-key", false, "read the API key from the terminal instead of the secrets file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	creds := a.creds
	if *promptKey {
		key, err := readSecret("API key: ")
		if err != nil {
			return err
		}
		ov := &credentials.Override{}
		ov.Set(key)
		creds = creds.With(ov)
	}

	orch, err := a.orchestrator(creds)
	if err != nil {
		return err
	}

	opts := []server.Option{
		server.WithLogger(a.logger),
		server.WithAdminSecret(credentials.SecretFile{Path: cfg.Paths.Secrets}),
	}
	if a.db != nil {
		opts = append(opts, server.WithDB(a.db))
	}
	srv := server.New(orch, a.defaults(), cfg.Server, opts...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !creds.Available() {
		a.logger.Warn().Msg(credentials.ErrMissing.Error())
	}
	fmt.Fprintf(os.Stderr, "researchbuddy listening on http://%s\n", *addr)
	return srv.Run(ctx, *addr)
}

// readSecret prompts on stderr and reads a line from the terminal without echo.
func readSecret(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}
