package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/afero"
	flag "github.com/spf13/pflag"

	"github.com/comigor/ovenmitt-go/internal/auth"
	"github.com/comigor/ovenmitt-go/internal/config"
	"github.com/comigor/ovenmitt-go/internal/conversation"
	"github.com/comigor/ovenmitt-go/internal/journal"
	"github.com/comigor/ovenmitt-go/internal/llm"
	"github.com/comigor/ovenmitt-go/internal/logger"
	"github.com/comigor/ovenmitt-go/internal/pipeline"
	"github.com/comigor/ovenmitt-go/internal/report"
	"github.com/comigor/ovenmitt-go/internal/source/imessage"
	"github.com/comigor/ovenmitt-go/internal/source/mail"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		email      = flag.Bool("email", false, "draft replies to unread mail")
		imsg       = flag.Bool("imsg", false, "draft replies to recent iMessage chats")
		authOnly   = flag.Bool("auth", false, "sign in to the mail service and exit")
		review     = flag.Bool("review", false, "list today's drafts and exit")
		configPath = flag.String("config", "", "path to a YAML config file")
	)
	flag.Parse()

	rep := report.New(os.Stdout)

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		rep.Fatal(err)
		return 1
	}
	logger.SetLevel(cfg.LogLevel)

	fs := afero.NewOsFs()
	writer := journal.NewWriter(fs, cfg.Journal.OutputDir)

	if *review {
		blocks, err := writer.Blocks(time.Now())
		if err != nil {
			rep.Fatal(err)
			return 1
		}
		rep.Review(writer.Path(time.Now()), blocks)
		return 0
	}

	sel := pipeline.Select(*email, *imsg)
	needMail := sel.Mail || *authOnly
	if err := cfg.Validate(needMail, !*authOnly); err != nil {
		rep.Fatal(fmt.Errorf("%w. Add it to your shell profile or config file", err))
		return 1
	}

	rep.Banner(time.Now())
	ctx := context.Background()

	var tokens *auth.Provider
	if needMail {
		store, err := auth.NewStore(cfg.Auth)
		if err != nil {
			rep.Fatal(err)
			return 1
		}
		tokens, err = auth.New(cfg.Auth, cfg.Mail.Address, store, os.Stdout)
		if err != nil {
			rep.Fatal(err)
			return 1
		}
	}

	if *authOnly {
		rep.Step("🔑 Authenticating with Exchange...")
		if _, err := tokens.Token(ctx); err != nil {
			rep.Fatal(err)
			return 1
		}
		rep.OK("Authenticated as " + cfg.Mail.Address)
		return 0
	}

	// Initialize generation client
	backend, err := llm.New(cfg.LLM)
	if err != nil {
		rep.Fatal(err)
		return 1
	}
	systemPrompt, err := llm.BuildSystemPrompt(fs, cfg.LLM.SystemPromptFile)
	if err != nil {
		rep.Fatal(err)
		return 1
	}
	drafter := llm.NewDrafter(backend, cfg.LLM, systemPrompt)

	var (
		sources   []pipeline.Source
		preflight []pipeline.Preflight
	)
	if sel.Mail {
		preflight = append(preflight, func(ctx context.Context) error {
			rep.Step("🔑 Authenticating with Exchange...")
			if _, err := tokens.Token(ctx); err != nil {
				return err
			}
			rep.OK("Authenticated as " + cfg.Mail.Address)
			return nil
		})
		sources = append(sources, mail.NewAdapter(cfg.Mail, tokens))
	}
	if sel.Local {
		sources = append(sources, imessage.NewAdapter(cfg.IMessage))
	}

	runner := pipeline.New(drafter, writer, rep, pipeline.Options{
		Window:       windowOptions(cfg),
		ExcerptChars: cfg.Journal.ExcerptChars,
	}, preflight...)

	summaries, err := runner.Run(ctx, sources)
	if errors.Is(err, pipeline.ErrGenerationUnavailable) {
		rep.Fatal(fmt.Errorf("%w. Start it with: ollama serve", err))
		return 1
	}
	if err != nil {
		rep.Fatal(err)
		return 1
	}
	for _, s := range summaries {
		logger.L.Info("source finished", "source", s.Source, "state", s.State,
			"fetched", s.Fetched, "eligible", s.Eligible, "drafted", s.Drafted, "failed", s.Failed)
	}

	rep.Done(writer.Dir())
	return 0
}

func windowOptions(cfg *config.Config) map[conversation.Source]conversation.WindowOptions {
	mailOpts := conversation.DefaultWindowOptions(conversation.SourceMail)
	mailOpts.MaxTargetChars = cfg.LLM.MaxInputChars

	localOpts := conversation.DefaultWindowOptions(conversation.SourceLocalMessage)
	localOpts.MaxTargetChars = cfg.LLM.MaxInputChars
	if cfg.IMessage.ContextItems > 0 {
		localOpts.MaxContextItems = cfg.IMessage.ContextItems
	}

	return map[conversation.Source]conversation.WindowOptions{
		conversation.SourceMail:         mailOpts,
		conversation.SourceLocalMessage: localOpts,
	}
}
