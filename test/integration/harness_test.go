//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/ai_mon/internal/config"
	"github.com/eliteGoblin/focusd/ai_mon/internal/daemon"
	"github.com/eliteGoblin/focusd/ai_mon/internal/domain"
	"github.com/eliteGoblin/focusd/ai_mon/internal/infra"
	"github.com/eliteGoblin/focusd/ai_mon/internal/usecase"
)

const (
	chatURL   = "https://chat.openai.com/c/123"
	canvasURL = "https://school.instructure.com/courses/1?tool=https://chat.openai.com/"
	redText   = "Can you do my homework for me?"
)

// stack is a running host over a real SQLite store: router, control socket
// and a native messaging stream on pipes.
type stack struct {
	cfg    *config.Config
	store  domain.StateStore
	block  *usecase.BlockMachine
	events *daemon.Broadcaster
	router *daemon.Router
	codec  *daemon.Codec

	socket string
	cancel context.CancelFunc
	done   chan struct{}

	stdin  *io.PipeWriter
	stdout *io.PipeWriter
	frames chan []byte
}

func newConfig(dir string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Store.Backend = config.BackendSQLite
	cfg.Store.DataDir = dir
	cfg.Host.SocketPath = filepath.Join(dir, "s.sock")
	return cfg
}

func startStack(cfg *config.Config) *stack {
	ctx, cancel := context.WithCancel(context.Background())
	logger := zap.NewNop()

	store, err := infra.OpenStateStore(ctx, cfg, logger)
	Expect(err).NotTo(HaveOccurred())

	repo := usecase.NewStateRepository(store, logger)
	events := daemon.NewBroadcaster(logger)
	block := usecase.NewBlockMachine(repo, events, infra.NewTimeScheduler(), logger)
	engine := usecase.NewEngine(usecase.EngineConfig{Policy: cfg.Policy}, repo, block, events, logger)
	router := daemon.NewRouter(daemon.DefaultRouterConfig(), engine, block, repo,
		domain.HostRecord{PID: os.Getpid(), StartedAt: time.Now(), SocketPath: cfg.SocketPath()}, logger)
	engine.Start(ctx)

	codec, err := daemon.NewCodec()
	Expect(err).NotTo(HaveOccurred())

	s := &stack{
		cfg:    cfg,
		store:  store,
		block:  block,
		events: events,
		router: router,
		codec:  codec,
		socket: cfg.SocketPath(),
		cancel: cancel,
		done:   make(chan struct{}),
		frames: make(chan []byte, 256),
	}

	go func() {
		defer close(s.done)
		router.Run(ctx)
	}()

	control := daemon.NewControlServer(s.socket, codec, router, events, logger)
	ln, err := control.Listen()
	Expect(err).NotTo(HaveOccurred())
	go control.Serve(ctx, ln)

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	s.stdin = inW
	s.stdout = outW
	go daemon.NewNativeHost(codec, router, events, logger).Serve(ctx, inR, outW)
	go func() {
		for {
			frame, err := daemon.ReadFrame(outR)
			if err != nil {
				return
			}
			s.frames <- frame
		}
	}()

	return s
}

func (s *stack) stop() {
	s.stdin.Close()
	s.cancel()
	Eventually(s.done, 5*time.Second).Should(BeClosed())
	s.stdout.Close()
	// The control server unlinks the socket on its way out.
	Eventually(func() bool {
		_, err := os.Stat(s.socket)
		return os.IsNotExist(err)
	}, 5*time.Second).Should(BeTrue())
	s.block.Close()
	Expect(s.store.Close()).To(Succeed())
}

func (s *stack) dial() *daemon.Client {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := daemon.Dial(ctx, s.socket)
	Expect(err).NotTo(HaveOccurred())
	return client
}

func (s *stack) call(client *daemon.Client, cmd domain.Command, out any) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return client.Call(ctx, cmd, out)
}

// browser sends one raw envelope over the native stream and returns the
// matching response. Events seen on the way are returned too.
func (s *stack) browser(id, typ string, payload any) (*daemon.Response, []daemon.EventMessage) {
	env := map[string]any{"id": id, "type": typ}
	if payload != nil {
		env["payload"] = payload
	}
	data, err := json.Marshal(env)
	Expect(err).NotTo(HaveOccurred())
	Expect(daemon.WriteFrame(s.stdin, data)).To(Succeed())

	var events []daemon.EventMessage
	timeout := time.After(5 * time.Second)
	for {
		select {
		case frame := <-s.frames:
			resp, ev, err := s.codec.DecodeMessage(frame)
			Expect(err).NotTo(HaveOccurred())
			if ev != nil {
				events = append(events, *ev)
				continue
			}
			if resp.ID == id {
				return resp, events
			}
		case <-timeout:
			Fail("no response to " + typ)
			return nil, events
		}
	}
}

func eventTypes(events []daemon.EventMessage) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.Type)
	}
	return out
}
