//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/ai_mon/internal/config"
	"github.com/eliteGoblin/focusd/ai_mon/internal/daemon"
	"github.com/eliteGoblin/focusd/ai_mon/internal/domain"
)

var _ = Describe("Native messaging host", func() {
	var (
		tmpDir string
		host   *stack
	)

	BeforeEach(func() {
		var err error
		// Short path: unix socket names are limited to ~100 bytes.
		tmpDir, err = os.MkdirTemp("", "aimon-it")
		Expect(err).NotTo(HaveOccurred())
		host = startStack(newConfig(tmpDir))
	})

	AfterEach(func() {
		if host != nil {
			host.stop()
		}
		os.RemoveAll(tmpDir)
	})

	Describe("navigation", func() {
		Context("when the browser opens an AI tool", func() {
			It("should report Yellow with the tool name", func() {
				resp, events := host.browser("1", "EvaluateNavigation",
					map[string]any{"context_id": "tab-1", "url": chatURL})
				Expect(resp.OK).To(BeTrue())
				Expect(eventTypes(events)).To(ContainElement("StatusChanged"))

				resp, _ = host.browser("2", "GetStatus", map[string]any{"context_id": "tab-1"})
				var status domain.ContextStatus
				Expect(json.Unmarshal(resp.Result, &status)).To(Succeed())
				Expect(status.Tier).To(Equal(domain.Yellow))
				Expect(status.Reason).To(Equal("Using ChatGPT"))
			})
		})

		Context("when an AI tool is used on an academic platform", func() {
			It("should block after the threshold and redirect AI pages", func() {
				for i := 0; i < 5; i++ {
					resp, _ := host.browser("nav", "EvaluateNavigation",
						map[string]any{"context_id": "tab-1", "url": canvasURL})
					Expect(resp.OK).To(BeTrue())
				}

				client := host.dial()
				defer client.Close()
				var status domain.BlockStatus
				Expect(host.call(client, domain.GetBlockStatus{}, &status)).To(Succeed())
				Expect(status.IsBlocked).To(BeTrue())

				_, events := host.browser("redirect", "EvaluateNavigation",
					map[string]any{"context_id": "tab-2", "url": chatURL})
				Expect(eventTypes(events)).To(ContainElement("RedirectRequested"))
			})
		})
	})

	Describe("malformed input", func() {
		It("should answer with an error and keep serving", func() {
			resp, _ := host.browser("bad", "EvaluateNavigation", map[string]any{"url": chatURL})
			Expect(resp.OK).To(BeFalse())
			Expect(resp.Code).To(Equal("invalid_envelope"))

			resp, _ = host.browser("unknown", "Teleport", nil)
			Expect(resp.OK).To(BeFalse())
			Expect(resp.Code).To(Equal("unknown_command"))

			resp, _ = host.browser("ok", "GetBlockStatus", nil)
			Expect(resp.OK).To(BeTrue())
		})
	})

	Describe("control socket", func() {
		It("should stream block events to subscribers", func() {
			watcher := host.dial()
			defer watcher.Close()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			seen := make(chan string, 64)
			go watcher.Subscribe(ctx, func(ev daemon.EventMessage) { seen <- ev.Type })
			Eventually(host.events.Len, 2*time.Second).Should(Equal(2))

			client := host.dial()
			defer client.Close()
			for i := 0; i < 5; i++ {
				var res daemon.TierResult
				Expect(host.call(client, domain.ClassifyAndRecord{
					ContextID: "cli", Text: redText, Timestamp: time.Now(),
				}, &res)).To(Succeed())
				Expect(res.Tier).To(Equal(domain.Red))
			}
			Eventually(seen, 2*time.Second).Should(Receive(Equal("BlockActivated")))

			var status domain.BlockStatus
			Expect(host.call(client, domain.ResetBlock{}, &status)).To(Succeed())
			Expect(status.IsBlocked).To(BeFalse())
			Eventually(seen, 2*time.Second).Should(Receive(Equal("BlockDeactivated")))
		})

		It("should reject out-of-range policy before it reaches the engine", func() {
			client := host.dial()
			defer client.Close()

			err := host.call(client, domain.ReconfigurePolicy{Config: domain.PolicyConfig{
				Enabled: true, ViolationThreshold: 0, BlockDurationMinutes: 10,
			}}, nil)
			Expect(err).To(MatchError(daemon.ErrInvalidEnvelope))

			var cfg domain.PolicyConfig
			Expect(host.call(client, domain.GetPolicy{}, &cfg)).To(Succeed())
			Expect(cfg).To(Equal(domain.DefaultPolicyConfig()))
		})
	})

	Describe("persistence", func() {
		It("should restore an active block after a restart", func() {
			client := host.dial()
			for i := 0; i < 5; i++ {
				Expect(host.call(client, domain.ClassifyAndRecord{
					ContextID: "cli", Text: redText, Timestamp: time.Now(),
				}, nil)).To(Succeed())
			}
			client.Close()

			cfg := host.cfg
			host.stop()
			host = startStack(cfg)

			client = host.dial()
			defer client.Close()
			var status domain.BlockStatus
			Expect(host.call(client, domain.GetBlockStatus{}, &status)).To(Succeed())
			Expect(status.IsBlocked).To(BeTrue())
			Expect(status.BlockEndTime).NotTo(BeNil())

			var counts domain.ViolationCounts
			Expect(host.call(client, domain.GetViolationCounts{}, &counts)).To(Succeed())
			Expect(counts[domain.Red]).To(Equal(5))
		})
	})

	Describe("config hot reload", func() {
		It("should apply a rewritten config file", func() {
			path := filepath.Join(tmpDir, "config.yaml")
			cfg := newConfig(tmpDir)
			Expect(config.WriteFile(path, cfg, false)).To(Succeed())

			loader := config.NewLoader(path, zap.NewNop())
			_, err := loader.Load()
			Expect(err).NotTo(HaveOccurred())
			loader.OnChange(func(c *config.Config) {
				host.router.Post(domain.ReloadConfig{
					Policy:   c.Policy,
					Rules:    c.Rules,
					Keywords: c.Keywords,
				})
			})
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			Expect(loader.Watch(ctx)).To(Succeed())

			cfg.Policy.ViolationThreshold = 2
			cfg.Keywords.Red = []string{"launch codes"}
			Expect(config.WriteFile(path, cfg, true)).To(Succeed())

			client := host.dial()
			defer client.Close()
			Eventually(func() int {
				var p domain.PolicyConfig
				Expect(host.call(client, domain.GetPolicy{}, &p)).To(Succeed())
				return p.ViolationThreshold
			}, 3*time.Second, 50*time.Millisecond).Should(Equal(2))

			var res daemon.TierResult
			Expect(host.call(client, domain.ClassifyAndRecord{
				ContextID: "cli", Text: "send the launch codes", Timestamp: time.Now(),
			}, &res)).To(Succeed())
			Expect(res.Tier).To(Equal(domain.Red))
		})
	})
})
