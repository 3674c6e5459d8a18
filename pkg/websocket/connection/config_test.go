package connection_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/backtesting-org/dashboard-push/pkg/websocket/connection"
)

var _ = Describe("Config", func() {
	It("accepts the defaults once a URL is set", func() {
		cfg := connection.DefaultConfig()
		cfg.URL = "wss://push.example.com/ws"
		Expect(cfg.Validate()).To(Succeed())
	})

	It("requires a URL", func() {
		cfg := connection.DefaultConfig()
		err := cfg.Validate()
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("URL"))
	})

	It("rejects a pong timeout that is not shorter than the ping interval", func() {
		cfg := connection.DefaultConfig()
		cfg.URL = "wss://push.example.com/ws"
		cfg.PongTimeout = cfg.PingInterval
		err := cfg.Validate()
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("PingInterval"))
	})

	It("rejects a max reconnect delay below the initial delay", func() {
		cfg := connection.DefaultConfig()
		cfg.URL = "wss://push.example.com/ws"
		cfg.ReconnectMaxDelay = cfg.ReconnectInitialDelay / 2
		Expect(cfg.Validate()).ToNot(Succeed())
	})

	It("fills in only the missing values", func() {
		cfg := connection.Config{
			URL:          "wss://push.example.com/ws",
			PingInterval: 15 * time.Second,
		}
		cfg.ApplyDefaults()

		defaults := connection.DefaultConfig()
		Expect(cfg.PingInterval).To(Equal(15 * time.Second))
		Expect(cfg.PongTimeout).To(Equal(defaults.PongTimeout))
		Expect(cfg.ReconnectInitialDelay).To(Equal(time.Second))
		Expect(cfg.ReconnectMaxDelay).To(Equal(30 * time.Second))
		Expect(cfg.TokenParam).To(Equal("token"))
		Expect(cfg.Validate()).To(Succeed())
	})

	It("produces a valid test configuration", func() {
		cfg := connection.TestConfig("ws://127.0.0.1:1/ws")
		Expect(cfg.Validate()).To(Succeed())
		Expect(cfg.ReconnectMaxJitter).To(BeNumerically("<", 0))
	})
})
