// Command settinggen generates a fictional setting from a prompt and prints
// the node events as they arrive.
//
//	settinggen -prompt "a desert empire ruled by clockwork priests" -rounds 2 -html out.html
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/longfeng22/MaliangAINovalWriter-sub001/config"
	"github.com/longfeng22/MaliangAINovalWriter-sub001/engine"
	"github.com/longfeng22/MaliangAINovalWriter-sub001/log"
	"github.com/longfeng22/MaliangAINovalWriter-sub001/render"
	"github.com/longfeng22/MaliangAINovalWriter-sub001/setting"
	"github.com/longfeng22/MaliangAINovalWriter-sub001/store"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	createdStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575"))
	updatedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#3C91E6"))
	deletedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F25D94"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFB000"))
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF3B30"))
	dimStyle     = lipgloss.NewStyle().Faint(true)
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a YAML config file")
		prompt     = flag.String("prompt", "", "what the setting is about")
		strategy   = flag.String("strategy", "", "generation strategy id (default standard)")
		structured = flag.Bool("structured", false, "use structured-output rounds instead of streaming text")
		rounds     = flag.Int("rounds", 0, "number of generation rounds (0 uses the config)")
		htmlOut    = flag.String("html", "", "write the finished setting as HTML to this file")
		userID     = flag.String("user", "local", "owner of the generated setting")
		kb         = flag.String("kb", "", "comma-separated knowledge base entries")
		kbMode     = flag.String("kb-mode", "hybrid", "how -kb entries are used: reuse, imitation or hybrid")
		kbRef      = flag.String("kb-ref", "", "comma-separated knowledge base entries shown as references in hybrid mode")
	)
	flag.Parse()

	if strings.TrimSpace(*prompt) == "" {
		fmt.Fprintln(os.Stderr, "a -prompt is required")
		flag.Usage()
		os.Exit(2)
	}
	req := engine.StartRequest{
		UserID:                    *userID,
		Prompt:                    *prompt,
		StrategyID:                *strategy,
		Rounds:                    *rounds,
		KnowledgeBaseIDs:          splitList(*kb),
		KnowledgeBaseMode:         engine.ParseKnowledgeBaseMode(*kbMode),
		ReferenceKnowledgeBaseIDs: splitList(*kbRef),
	}
	if err := run(*configPath, req, *structured, *htmlOut); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("error: "+err.Error()))
		os.Exit(1)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func run(configPath string, req engine.StartRequest, useStructured bool, htmlOut string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if req.Rounds > 0 {
		cfg.Generation.Rounds = req.Rounds
		cfg.Generation.MaxIterations = req.Rounds
	}

	logger := cfg.Logger()
	log.SetDefaultLogger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := cfg.OpenStore(ctx)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer closeStore()

	opts := cfg.EngineOptions(logger)
	if opts.TextModel, err = newModel(cfg.Model, cfg.Model.TextModel); err != nil {
		return err
	}
	if cfg.Model.ToolModel != "" {
		if opts.ToolModel, err = newModel(cfg.Model, cfg.Model.ToolModel); err != nil {
			return err
		}
	}
	if cfg.Model.StructuredModel != "" {
		if opts.StructuredModel, err = newModel(cfg.Model, cfg.Model.StructuredModel); err != nil {
			return err
		}
	}
	if st != nil {
		opts.Persister = store.NewPersister(st, logger)
		if opts.KnowledgeBase == nil {
			opts.KnowledgeBase = store.KnowledgeBase{Store: st}
		}
	}
	eng := engine.New(opts)

	start := eng.StartTextStreamingSession
	if useStructured {
		start = eng.StartStructuredOutputSession
	}
	id, err := start(ctx, req)
	if err != nil {
		return err
	}
	fmt.Println(titleStyle.Render("session " + id))

	events, unsubscribe, err := eng.Subscribe(ctx, id)
	if err != nil {
		return err
	}
	defer unsubscribe()

	for ev := range events {
		printEvent(ev)
	}
	// The subscription ends early when interrupted.
	if ctx.Err() != nil {
		if err := eng.CancelSession(context.Background(), id); err != nil {
			logger.Warn("[session %s] cancel: %v", id, err)
		}
	}

	status, err := eng.GetSessionStatus(context.Background(), id)
	if err == nil {
		fmt.Println(titleStyle.Render(fmt.Sprintf("%s · %d nodes", status.Status, status.NodeCount)))
	}

	if htmlOut != "" {
		g, err := eng.Graph(id)
		if err != nil {
			return err
		}
		page := "<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>Setting</title></head><body>\n" +
			render.HTML(g, req.Prompt) + "</body></html>\n"
		if err := os.WriteFile(htmlOut, []byte(page), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", htmlOut, err)
		}
		fmt.Println(dimStyle.Render("wrote " + htmlOut))
	}
	return nil
}

func newModel(mc config.ModelConfig, name string) (llms.Model, error) {
	opts := []openai.Option{openai.WithModel(name)}
	if mc.APIKey != "" {
		opts = append(opts, openai.WithToken(mc.APIKey))
	}
	if mc.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(mc.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create model %s: %w", name, err)
	}
	return llm, nil
}

func printEvent(ev setting.Event) {
	switch e := ev.(type) {
	case setting.SessionStarted:
		fmt.Println(dimStyle.Render(fmt.Sprintf("started (%s, strategy %q)", e.Mode, e.Strategy)))
	case setting.NodeCreated:
		path := e.ParentPath
		if path == "" {
			path = "/"
		}
		fmt.Printf("%s %s [%s] under %s\n", createdStyle.Render("+"), e.Node.Name, e.Node.Type, path)
	case setting.NodeUpdated:
		fmt.Printf("%s %s [%s]\n", updatedStyle.Render("~"), e.Node.Name, e.Node.Type)
	case setting.NodeDeleted:
		fmt.Printf("%s %d nodes (%s)\n", deletedStyle.Render("-"), len(e.NodeIDs), e.Reason)
	case setting.GenerationProgress:
		if e.Message == setting.ProgressHeartbeat || e.Message == setting.ProgressStreamReady {
			return
		}
		fmt.Println(dimStyle.Render("… " + e.Message))
	case setting.GenerationError:
		style := warnStyle
		if !e.Recoverable {
			style = errorStyle
		}
		fmt.Println(style.Render(fmt.Sprintf("%s: %s", e.Code, e.Message)))
	case setting.GenerationCompleted:
		fmt.Println(titleStyle.Render(fmt.Sprintf("%s: %d nodes in %dms", e.Outcome, e.NodeCount, e.DurationMs)))
	}
}
