// ABOUTME: The run command: drives a combat session from config and prints the transcript
// ABOUTME: Ctrl-C stops the session; the round budget and errors prompt on stdin to continue

package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/2389/coven-combat/internal/auth"
	"github.com/2389/coven-combat/internal/combat"
	"github.com/2389/coven-combat/internal/config"
	"github.com/2389/coven-combat/internal/render"
	"github.com/2389/coven-combat/internal/stream"
)

// attachFlags collects repeated -attach values.
type attachFlags []string

func (a *attachFlags) String() string { return strings.Join(*a, ",") }

func (a *attachFlags) Set(v string) error {
	*a = append(*a, v)
	return nil
}

func runCombat(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", config.DefaultPath(), "config file (yaml or toml)")
	startSide := fs.String("start", "", "side that opens the session (left or right), overrides config")
	opener := fs.String("opener", "", "opening message, overrides config")
	htmlPath := fs.String("html", "", "write the transcript as HTML to this file on exit")
	autoContinue := fs.Bool("yes", false, "continue automatically when the round budget is reached")
	var attachments attachFlags
	fs.Var(&attachments, "attach", "file to send with the opening message (repeatable)")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if *startSide != "" {
		cfg.Combat.StartingSide = *startSide
	}
	if *opener != "" {
		cfg.Combat.OpeningMessage = *opener
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging)

	files, err := readAttachments(attachments)
	if err != nil {
		return err
	}

	client, err := stream.NewClient(stream.ClientConfig{
		BaseURL:    cfg.Backend.BaseURL,
		StreamPath: cfg.Backend.StreamPath,
		Tokens:     tokenSource(cfg.Auth),
		Timeout:    cfg.Transport.RequestTimeout,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("creating stream client: %w", err)
	}

	engine := combat.NewEngine(client, combat.Options{
		MaxRounds:          cfg.Combat.MaxRounds,
		PacingDelay:        enginePacing(cfg.Combat.PacingDelay),
		OpeningMessage:     cfg.Combat.OpeningMessage,
		OpeningAttachments: files,
		Logger:             logger,
	})
	defer engine.Close()

	printHeader(cfg, *configPath)

	labels := render.Labels{
		combat.Left:  cfg.Left.BotID,
		combat.Right: cfg.Right.BotID,
	}

	events := engine.Subscribe(ctx)
	if err := engine.Start(cfg.StartingSide(), cfg.Left.Slot(), cfg.Right.Slot()); err != nil {
		return fmt.Errorf("starting session: %w", err)
	}

	s := &session{
		engine:       engine,
		labels:       labels,
		out:          os.Stdout,
		answers:      readLines(os.Stdin),
		autoContinue: *autoContinue,
		logger:       logger,
	}
	err = s.loop(ctx, events)

	engine.Stop()
	render.ClearLine(os.Stdout)
	if *htmlPath != "" {
		if werr := writeHTML(*htmlPath, cfg, engine.View().Messages, labels); werr != nil {
			return werr
		}
		fmt.Printf("Transcript written to %s\n", *htmlPath)
	}
	return err
}

// statePollInterval bounds how long a prompt can lag behind the engine when
// every event after a halt was dropped for this reader.
const statePollInterval = 200 * time.Millisecond

// session prints engine events and answers prompts.
type session struct {
	engine       *combat.Engine
	labels       render.Labels
	out          io.Writer
	answers      <-chan string
	autoContinue bool
	logger       *slog.Logger

	printed int
	partial bool
}

// loop renders events as they arrive. Prompts are driven by the engine view
// rather than by phase or error events, which a busy stream can push out of
// the subscriber buffer.
func (s *session) loop(ctx context.Context, events <-chan combat.Event) error {
	ticker := time.NewTicker(statePollInterval)
	defer ticker.Stop()

	for {
		var ev combat.Event
		select {
		case <-ctx.Done():
			fmt.Fprintln(s.out)
			color.New(color.FgYellow).Fprintln(s.out, "Stopped.")
			return nil

		case e, ok := <-events:
			if !ok {
				return nil
			}
			ev = e

		case <-ticker.C:
		}

		done, err := s.settle(ctx)
		if done {
			return err
		}
		if ev.Kind == combat.EventPartial && s.engine.View().PartialText != "" {
			render.Partial(s.out, ev.Side, ev.Text, s.labels)
			s.partial = true
		}
	}
}

// settle prints new transcript lines and, once the engine has halted, asks
// whether to go on. It reports true when the session is over.
func (s *session) settle(ctx context.Context) (bool, error) {
	v := s.engine.View()
	s.flushMessages(v.Messages)
	if v.Active {
		return false, nil
	}

	switch {
	case v.Phase == combat.PhaseWaitingContinue:
		s.clearPartial()
		color.New(color.FgGreen).Fprintf(s.out, "--- %d rounds complete ---\n", v.Round)
		if !s.autoContinue && !s.confirm(ctx, "Continue? [Y/n] ", true) {
			return true, nil
		}
		if err := s.engine.Continue(); err != nil {
			return true, fmt.Errorf("continuing session: %w", err)
		}

	case v.Phase == combat.PhaseStopped && v.Err != nil:
		s.clearPartial()
		color.New(color.FgRed, color.Bold).Fprintf(s.out, "Session stopped: %v\n", v.Err)
		if !s.confirm(ctx, "Resume from the last message? [y/N] ", false) {
			return true, v.Err
		}
		if err := s.engine.Continue(); err != nil {
			return true, fmt.Errorf("resuming session: %w", err)
		}
	}
	return false, nil
}

// flushMessages prints log entries not yet shown.
func (s *session) flushMessages(msgs []combat.Message) {
	for _, m := range msgs[min(s.printed, len(msgs)):] {
		s.clearPartial()
		if err := render.Terminal(s.out, m, s.labels); err != nil {
			s.logger.Warn("failed to print message", "index", m.Index, "error", err)
		}
	}
	s.printed = len(msgs)
}

func (s *session) clearPartial() {
	if s.partial {
		render.ClearLine(s.out)
		s.partial = false
	}
}

// confirm asks question and waits for an answer. An empty answer selects def.
func (s *session) confirm(ctx context.Context, question string, def bool) bool {
	fmt.Fprint(s.out, question)
	select {
	case <-ctx.Done():
		return false
	case answer, ok := <-s.answers:
		if !ok {
			return false
		}
		switch strings.ToLower(strings.TrimSpace(answer)) {
		case "":
			return def
		case "y", "yes":
			return true
		default:
			return false
		}
	}
}

// readLines feeds lines from r into a channel so prompts can be abandoned on Ctrl-C.
func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

// enginePacing maps the configured delay onto the engine's convention, where
// zero selects the default and a negative value disables pacing. Config has
// already applied its own default, so a zero here was set explicitly.
func enginePacing(d time.Duration) time.Duration {
	if d == 0 {
		return -1
	}
	return d
}

func tokenSource(cfg config.AuthConfig) stream.TokenSource {
	if cfg.Token != "" {
		return auth.StaticToken(cfg.Token)
	}
	return auth.NewFileTokenSource(cfg.TokenFile)
}

func readAttachments(paths []string) ([]stream.Attachment, error) {
	var out []stream.Attachment
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("reading attachment: %w", err)
		}
		out = append(out, stream.Attachment{
			Filename: filepath.Base(p),
			MimeType: mime.TypeByExtension(filepath.Ext(p)),
			Data:     data,
		})
	}
	return out, nil
}

func printHeader(cfg *config.Config, configPath string) {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:  %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Backend: %s\n", cfg.Backend.BaseURL)
	green.Print("    ▶ ")
	fmt.Printf("Left:    %s\n", describeSlot(cfg.Left))
	green.Print("    ▶ ")
	fmt.Printf("Right:   %s\n", describeSlot(cfg.Right))
	green.Print("    ▶ ")
	fmt.Printf("Rounds:  %d per run, %s pacing\n", cfg.Combat.MaxRounds, cfg.Combat.PacingDelay)
	fmt.Println()
}

func describeSlot(s config.SlotConfig) string {
	if s.ModelName == "" {
		return s.BotID
	}
	return fmt.Sprintf("%s (%s)", s.BotID, s.ModelName)
}

func writeHTML(path string, cfg *config.Config, messages []combat.Message, labels render.Labels) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating transcript file: %w", err)
	}
	title := fmt.Sprintf("%s vs %s", describeSlot(cfg.Left), describeSlot(cfg.Right))
	if err := render.HTML(f, title, messages, labels); err != nil {
		f.Close()
		return fmt.Errorf("writing transcript: %w", err)
	}
	return f.Close()
}
