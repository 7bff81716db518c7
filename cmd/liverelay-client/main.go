package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gaspardpetit/liverelay/internal/capture"
	"github.com/gaspardpetit/liverelay/internal/client"
	"github.com/gaspardpetit/liverelay/internal/config"
	"github.com/gaspardpetit/liverelay/internal/frame"
	"github.com/gaspardpetit/liverelay/internal/logx"
)

var (
	version   = "dev"
	buildSHA  = "unknown"
	buildDate = "unknown"
)

const dialAttempts = 5

func main() {
	var cfg config.ClientConfig
	cfg.SetDefaults()
	cfg.ApplyEnv()
	if path, ok := config.ConfigFlag(os.Args[1:]); ok {
		cfg.ConfigFile = path
	}
	if cfg.ConfigFile != "" {
		if err := cfg.LoadFile(cfg.ConfigFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			logx.Log.Fatal().Err(err).Str("path", cfg.ConfigFile).Msg("load config")
		}
	}
	cfg.ApplyEnv()

	showVersion := flag.Bool("version", false, "print version and exit")
	cfg.BindFlagsFromCurrent(flag.CommandLine)
	flag.Parse()
	if *showVersion {
		fmt.Printf("liverelay-client version=%s sha=%s date=%s\n", version, buildSHA, buildDate)
		return
	}
	logx.Configure(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	tr := client.NewWSTransport(cfg.ServerURL)
	if err := tr.Dial(ctx, dialAttempts); err != nil {
		logx.Log.Fatal().Err(err).Str("url", cfg.ServerURL).Msg("connect relay")
	}
	defer func() { _ = tr.Close() }()

	coord := client.NewCoordinator(tr, frame.NewBuffer(cfg.MaxFrames), client.Options{
		SystemInstruction: cfg.SystemInstruction,
		Capture: capture.Options{
			Interval: cfg.CaptureInterval,
			Quality:  cfg.FrameQuality,
		},
	})
	defer coord.Close()

	p := newPrinter(os.Stdout)
	unsub := coord.Transcript().Subscribe(p.show)
	defer unsub()
	for _, m := range coord.Transcript().Messages() {
		p.show(m)
	}

	if cfg.AutoConnect {
		if err := coord.Connect(ctx); err != nil {
			logx.Log.Error().Err(err).Msg("connect upstream")
		}
	}
	if cfg.CaptureSource != "" {
		startCapture(coord, cfg.CaptureSource)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if !run(ctx, coord, cfg, line) {
				return
			}
		}
	}
}

// run executes one input line and reports whether the client should keep
// reading.
func run(ctx context.Context, coord *client.Coordinator, cfg config.ClientConfig, line string) bool {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
	case line == "/quit":
		return false
	case line == "/connect":
		if err := coord.Connect(ctx); err != nil {
			fmt.Println("! " + err.Error())
		}
	case line == "/disconnect":
		if err := coord.Disconnect(ctx); err != nil {
			fmt.Println("! " + err.Error())
		}
	case line == "/capture start":
		if cfg.CaptureSource == "" {
			fmt.Println("! no capture source configured (CAPTURE_SOURCE)")
			return true
		}
		startCapture(coord, cfg.CaptureSource)
	case line == "/capture stop":
		coord.StopCapture()
	case line == "/frames":
		st := coord.Status()
		fmt.Printf("%d frames buffered (capturing=%t)\n", st.Frames, st.Capturing)
	case strings.HasPrefix(line, "/"):
		fmt.Println("! unknown command " + line)
	default:
		if !coord.Submit(ctx, line) {
			st := coord.Status()
			switch {
			case !st.UpstreamOpen:
				fmt.Println("! not connected to Gemini Live; use /connect")
			case st.Waiting:
				fmt.Println("! still waiting for the previous response")
			}
		}
	}
	return true
}

func startCapture(coord *client.Coordinator, path string) {
	s, err := capture.NewFileSurface(path)
	if err != nil {
		fmt.Println("! " + err.Error())
		return
	}
	if err := coord.StartCapture(s); err != nil {
		_ = s.Close()
		fmt.Println("! " + err.Error())
	}
}

// printer writes transcript messages, streaming AI text as it grows.
type printer struct {
	out     io.Writer
	mu      sync.Mutex
	printed map[string]int
	done    map[string]bool
}

func newPrinter(out io.Writer) *printer {
	return &printer{out: out, printed: map[string]int{}, done: map[string]bool{}}
}

func (p *printer) show(m client.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if m.Kind != client.KindAI {
		if _, seen := p.printed[m.ID]; seen {
			return
		}
		p.printed[m.ID] = len(m.Content)
		prefix := map[client.Kind]string{
			client.KindUser:   "you",
			client.KindSystem: "system",
			client.KindError:  "error",
		}[m.Kind]
		line := m.Content
		if m.Frames > 0 {
			line = fmt.Sprintf("%s [%d frames]", line, m.Frames)
		}
		_, _ = fmt.Fprintf(p.out, "%s %s: %s\n", m.At.Format(time.Kitchen), prefix, line)
		return
	}
	if p.done[m.ID] {
		return
	}
	n, seen := p.printed[m.ID]
	if !seen {
		_, _ = fmt.Fprintf(p.out, "%s ai: ", m.At.Format(time.Kitchen))
	}
	if n < len(m.Content) {
		_, _ = io.WriteString(p.out, m.Content[n:])
		n = len(m.Content)
	}
	p.printed[m.ID] = n
	if !m.Streaming {
		_, _ = io.WriteString(p.out, "\n")
		p.done[m.ID] = true
	}
}
