package connection_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/stretchr/testify/mock"

	"github.com/backtesting-org/dashboard-push/pkg/logging"
	"github.com/backtesting-org/dashboard-push/pkg/websocket/base"
	"github.com/backtesting-org/dashboard-push/pkg/websocket/connection"
	"github.com/backtesting-org/dashboard-push/pkg/websocket/performance"
	"github.com/backtesting-org/dashboard-push/pkg/websocket/security"
)

type mockDialer struct {
	mock.Mock
	calls atomic.Int32
}

func (m *mockDialer) DialContext(ctx context.Context, urlStr string, header http.Header) (connection.WebSocketConn, *http.Response, error) {
	m.calls.Add(1)
	args := m.Called(ctx, urlStr, header)
	var conn connection.WebSocketConn
	if c := args.Get(0); c != nil {
		conn = c.(connection.WebSocketConn)
	}
	return conn, nil, args.Error(2)
}

type mockTokenProvider struct {
	mock.Mock
}

func (m *mockTokenProvider) Token(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

// fakeConn is an open transport whose reads fail once drop or Close is called
type fakeConn struct {
	dropped chan struct{}
	once    sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{dropped: make(chan struct{})}
}

func (c *fakeConn) drop() {
	c.once.Do(func() { close(c.dropped) })
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	<-c.dropped
	return 0, nil, errors.New("connection reset by peer")
}

func (c *fakeConn) WriteMessage(int, []byte) error { return nil }

func (c *fakeConn) WriteControl(int, []byte, time.Time) error { return nil }

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) SetReadLimit(int64) {}

func (c *fakeConn) Close() error {
	c.drop()
	return nil
}

type closeEvent struct {
	Code   int
	Reason string
}

type reconnectEvent struct {
	Attempt int
	Delay   time.Duration
}

// recorder captures every callback the manager fires
type recorder struct {
	mu         sync.Mutex
	opens      int
	closes     []closeEvent
	errs       []error
	reconnects []reconnectEvent
	frames     []string
}

func (r *recorder) attach(cm connection.ConnectionManager) {
	cm.SetCallbacks(
		func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.opens++
		},
		func(code int, reason string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.closes = append(r.closes, closeEvent{Code: code, Reason: reason})
		},
		func(frame []byte) {
			if env, err := base.ParseEnvelope(frame); err == nil && env.Type == base.MessageTypePong {
				cm.HandlePong()
				return
			}
			r.mu.Lock()
			defer r.mu.Unlock()
			r.frames = append(r.frames, string(frame))
		},
		func(err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errs = append(r.errs, err)
		},
	)
	cm.SetReconnectCallback(func(attempt int, delay time.Duration) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.reconnects = append(r.reconnects, reconnectEvent{Attempt: attempt, Delay: delay})
	})
}

func (r *recorder) Opens() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opens
}

func (r *recorder) Closes() []closeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]closeEvent(nil), r.closes...)
}

func (r *recorder) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func (r *recorder) Reconnects() []reconnectEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]reconnectEvent(nil), r.reconnects...)
}

func (r *recorder) Frames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.frames...)
}

var _ = Describe("ConnectionManager", func() {
	var (
		server  *pushServer
		cfg     connection.Config
		metrics performance.Metrics
		logger  logging.ApplicationLogger
		events  *recorder
		cm      connection.ConnectionManager
	)

	BeforeEach(func() {
		server = newPushServer()
		cfg = connection.TestConfig(server.URL())
		metrics = performance.NewMetrics()
		logger = logging.NewNoOpLogger()
		events = &recorder{}
	})

	AfterEach(func() {
		if cm != nil {
			cm.Disconnect()
		}
		server.Close()
	})

	newManager := func(tokens security.TokenProvider, dialer connection.WebSocketDialer) connection.ConnectionManager {
		m := connection.NewConnectionManager(cfg, tokens, nil, metrics, logger, dialer)
		events.attach(m)
		return m
	}

	Describe("Connect", func() {
		BeforeEach(func() {
			cm = newManager(security.NewStaticTokenProvider("secret"), nil)
		})

		It("opens the transport with the token on the URL", func() {
			Expect(cm.GetState()).To(Equal(connection.StateDisconnected))

			cm.Connect()

			Eventually(cm.IsConnected).Should(BeTrue())
			Expect(events.Opens()).To(Equal(1))
			Expect(server.Tokens()).To(Equal([]string{"secret"}))

			stats := cm.GetConnectionStats()
			Expect(stats["state"]).To(Equal("open"))
			Expect(stats["connection_id"]).ToNot(BeEmpty())
			Expect(stats["attempt_count"]).To(Equal(0))
		})

		It("is a no-op while connecting or open", func() {
			cm.Connect()
			cm.Connect()
			Eventually(cm.IsConnected).Should(BeTrue())

			cm.Connect()
			Consistently(server.Connections, 200*time.Millisecond).Should(Equal(1))
			Expect(events.Opens()).To(Equal(1))
		})

		It("delivers inbound frames in arrival order", func() {
			cm.Connect()
			Eventually(cm.IsConnected).Should(BeTrue())

			server.Push(`{"type":"balance","balance":{"amount_cents":1}}`)
			server.Push(`{"type":"balance","balance":{"amount_cents":2}}`)

			Eventually(events.Frames).Should(Equal([]string{
				`{"type":"balance","balance":{"amount_cents":1}}`,
				`{"type":"balance","balance":{"amount_cents":2}}`,
			}))
			Expect(metrics.GetStats()["frames_received"]).To(BeNumerically(">=", 2))
		})
	})

	Describe("Send", func() {
		BeforeEach(func() {
			cm = newManager(security.NewStaticTokenProvider("secret"), nil)
		})

		It("fails synchronously while disconnected", func() {
			err := cm.Send(map[string]string{"type": "hello"})

			Expect(err).To(HaveOccurred())
			Expect(errors.Is(err, connection.ErrNotConnected)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("not connected"))

			var notConnected *connection.NotConnectedError
			Expect(errors.As(err, &notConnected)).To(BeTrue())
			Expect(notConnected.State).To(Equal(connection.StateDisconnected))

			Consistently(server.Received, 100*time.Millisecond).Should(BeEmpty())
		})

		It("writes JSON while open", func() {
			cm.Connect()
			Eventually(cm.IsConnected).Should(BeTrue())

			Expect(cm.Send(map[string]string{"type": "hello"})).To(Succeed())
			Eventually(server.Received).Should(ContainElement(`{"type":"hello"}`))
		})

		It("reports values that cannot be serialized", func() {
			cm.Connect()
			Eventually(cm.IsConnected).Should(BeTrue())

			err := cm.Send(make(chan int))
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("failed to marshal JSON"))
		})
	})

	Describe("unexpected closure", func() {
		BeforeEach(func() {
			cm = newManager(security.NewStaticTokenProvider("secret"), nil)
			cm.Connect()
			Eventually(cm.IsConnected).Should(BeTrue())
		})

		It("reconnects after the network drops", func() {
			server.DropLatest()

			Eventually(events.Closes).ShouldNot(BeEmpty())
			Expect(events.Closes()[0].Code).To(Equal(connection.CloseAbnormal))
			Eventually(events.Reconnects).Should(HaveLen(1))
			Expect(events.Reconnects()[0]).To(Equal(reconnectEvent{Attempt: 1, Delay: cfg.ReconnectInitialDelay}))

			Eventually(server.Connections).Should(Equal(2))
			Eventually(cm.IsConnected).Should(BeTrue())
			Expect(events.Opens()).To(Equal(2))
			Expect(cm.GetConnectionStats()["attempt_count"]).To(Equal(0))
			Expect(metrics.GetStats()["reconnection_count"]).To(Equal(int64(1)))
		})

		It("reconnects after a server close with any code", func() {
			server.CloseLatest(4001, "maintenance")

			Eventually(events.Closes).Should(ContainElement(closeEvent{Code: 4001, Reason: "maintenance"}))
			Eventually(server.Connections).Should(Equal(2))
			Eventually(cm.IsConnected).Should(BeTrue())
		})

		It("asks the token provider again on every connect", func() {
			store := security.NewMemoryStore()
			Expect(store.Put(context.Background(), security.DefaultTokenKey, "first")).To(Succeed())

			cm.Disconnect()
			Eventually(cm.GetState).Should(Equal(connection.StateDisconnected))

			cm = newManager(security.NewStoredTokenProvider(store, ""), nil)
			cm.Connect()
			Eventually(cm.IsConnected).Should(BeTrue())

			Expect(store.Put(context.Background(), security.DefaultTokenKey, "second")).To(Succeed())
			server.DropLatest()

			Eventually(server.Tokens).Should(Equal([]string{"secret", "first", "second"}))
		})
	})

	Describe("heartbeat", func() {
		BeforeEach(func() {
			cm = newManager(security.NewStaticTokenProvider("secret"), nil)
		})

		It("keeps a responsive connection open", func() {
			cm.Connect()
			Eventually(cm.IsConnected).Should(BeTrue())

			Consistently(cm.IsConnected, 500*time.Millisecond).Should(BeTrue())
			Expect(server.Received()).To(ContainElement(`{"type":"ping"}`))
			Expect(events.Closes()).To(BeEmpty())
			Expect(server.Connections()).To(Equal(1))
		})

		It("forces a 1002 close and reconnects when pongs stop", func() {
			server.SetAnswerPings(false)
			cm.Connect()
			Eventually(cm.IsConnected).Should(BeTrue())

			Eventually(events.Closes, time.Second).Should(ContainElement(closeEvent{Code: connection.CloseHeartbeatTimeout, Reason: "Pong timeout"}))
			Eventually(server.CloseCodes).Should(ContainElement(connection.CloseHeartbeatTimeout))
			Eventually(server.Connections).Should(BeNumerically(">=", 2))
			Expect(metrics.GetStats()["heartbeat_timeouts"]).To(BeNumerically(">=", 1))
		})
	})

	Describe("Disconnect", func() {
		It("closes with 1000 and never reconnects", func() {
			cm = newManager(security.NewStaticTokenProvider("secret"), nil)
			cm.Connect()
			Eventually(cm.IsConnected).Should(BeTrue())

			cm.Disconnect()

			Eventually(events.Closes).Should(Equal([]closeEvent{{Code: 1000, Reason: "Client initiated disconnect"}}))
			Expect(cm.GetState()).To(Equal(connection.StateDisconnected))
			Eventually(server.CloseCodes).Should(ContainElement(1000))

			Consistently(server.Connections, 300*time.Millisecond).Should(Equal(1))
			Expect(events.Reconnects()).To(BeEmpty())
		})

		It("suppresses reconnection only once", func() {
			cm = newManager(security.NewStaticTokenProvider("secret"), nil)
			cm.Connect()
			Eventually(cm.IsConnected).Should(BeTrue())
			cm.Disconnect()
			Eventually(cm.GetState).Should(Equal(connection.StateDisconnected))

			cm.Connect()
			Eventually(cm.IsConnected).Should(BeTrue())
			server.DropLatest()

			Eventually(events.Reconnects).Should(HaveLen(1))
			Eventually(server.Connections).Should(Equal(3))
		})

		It("does nothing when already disconnected", func() {
			cm = newManager(security.NewStaticTokenProvider("secret"), nil)
			cm.Disconnect()

			Expect(cm.GetState()).To(Equal(connection.StateDisconnected))
			Expect(events.Closes()).To(BeEmpty())

			cm.Connect()
			Eventually(cm.IsConnected).Should(BeTrue())
			server.DropLatest()
			Eventually(events.Reconnects).Should(HaveLen(1))
		})

		It("cancels a dial in flight", func() {
			dialer := &mockDialer{}
			dialer.On("DialContext", mock.Anything, mock.Anything, mock.Anything).
				Run(func(args mock.Arguments) {
					<-args.Get(0).(context.Context).Done()
				}).
				Return(nil, nil, context.Canceled)

			cm = newManager(security.NewStaticTokenProvider("secret"), dialer)
			cm.Connect()
			Eventually(dialer.calls.Load).Should(Equal(int32(1)))
			Expect(cm.GetState()).To(Equal(connection.StateConnecting))

			cm.Disconnect()

			Expect(cm.GetState()).To(Equal(connection.StateDisconnected))
			Eventually(events.Closes).Should(Equal([]closeEvent{{Code: 1000, Reason: "Client initiated disconnect"}}))
			Consistently(dialer.calls.Load, 200*time.Millisecond).Should(Equal(int32(1)))
			Expect(events.Errors()).To(BeEmpty())
		})

		It("cancels a reconnect that is already scheduled", func() {
			cfg.ReconnectInitialDelay = 300 * time.Millisecond
			cfg.ReconnectMaxDelay = time.Second

			dialer := &mockDialer{}
			dialer.On("DialContext", mock.Anything, mock.Anything, mock.Anything).
				Return(nil, nil, errors.New("connection refused"))

			cm = newManager(security.NewStaticTokenProvider("secret"), dialer)
			cm.Connect()
			Eventually(events.Reconnects).Should(HaveLen(1))

			cm.Disconnect()

			Consistently(dialer.calls.Load, 600*time.Millisecond).Should(Equal(int32(1)))
			Expect(cm.GetConnectionStats()["reconnect_pending"]).To(BeFalse())
		})
	})

	Describe("failed connection attempts", func() {
		It("reports the error and backs off exponentially", func() {
			dialer := &mockDialer{}
			dialer.On("DialContext", mock.Anything, mock.Anything, mock.Anything).
				Return(nil, nil, errors.New("connection refused"))

			cm = newManager(security.NewStaticTokenProvider("secret"), dialer)
			cm.Connect()

			Eventually(events.Reconnects).Should(HaveLen(4))
			delays := events.Reconnects()
			Expect(delays[0]).To(Equal(reconnectEvent{Attempt: 1, Delay: 20 * time.Millisecond}))
			Expect(delays[1]).To(Equal(reconnectEvent{Attempt: 2, Delay: 40 * time.Millisecond}))
			Expect(delays[2]).To(Equal(reconnectEvent{Attempt: 3, Delay: 80 * time.Millisecond}))
			Expect(delays[3]).To(Equal(reconnectEvent{Attempt: 4, Delay: 160 * time.Millisecond}))

			errs := events.Errors()
			Expect(errs).ToNot(BeEmpty())
			var transportErr *connection.TransportError
			Expect(errors.As(errs[0], &transportErr)).To(BeTrue())
			Expect(transportErr.Op).To(Equal("dial"))
			Expect(events.Closes()[0].Code).To(Equal(connection.CloseAbnormal))
		})

		It("restarts the same backoff sequence after a successful open", func() {
			cfg.PingInterval = time.Minute
			cfg.PongTimeout = time.Second
			conn := newFakeConn()

			dialer := &mockDialer{}
			dialer.On("DialContext", mock.Anything, mock.Anything, mock.Anything).
				Return(nil, nil, errors.New("connection refused")).Twice()
			dialer.On("DialContext", mock.Anything, mock.Anything, mock.Anything).
				Return(conn, nil, nil).Once()
			dialer.On("DialContext", mock.Anything, mock.Anything, mock.Anything).
				Return(nil, nil, errors.New("connection refused"))

			cm = newManager(security.NewStaticTokenProvider("secret"), dialer)
			cm.Connect()

			Eventually(events.Opens).Should(Equal(1))
			Expect(events.Reconnects()).To(HaveLen(2))
			Expect(cm.GetConnectionStats()["attempt_count"]).To(Equal(0))

			conn.drop()

			Eventually(events.Reconnects).Should(HaveLen(4))
			reconnects := events.Reconnects()
			Expect(reconnects[2:4]).To(Equal(reconnects[0:2]))
			Expect(reconnects[0:2]).To(Equal([]reconnectEvent{
				{Attempt: 1, Delay: 20 * time.Millisecond},
				{Attempt: 2, Delay: 40 * time.Millisecond},
			}))
		})

		It("treats a token failure as a failed attempt", func() {
			tokens := &mockTokenProvider{}
			tokens.On("Token", mock.Anything).Return("", errors.New("store offline")).Once()
			tokens.On("Token", mock.Anything).Return("secret", nil)

			cm = newManager(tokens, nil)
			cm.Connect()

			Eventually(cm.IsConnected).Should(BeTrue())
			Expect(events.Errors()).To(HaveLen(1))
			Expect(events.Errors()[0].Error()).To(ContainSubstring("store offline"))
			Expect(events.Closes()).To(HaveLen(1))
			Expect(server.Tokens()).To(Equal([]string{"secret"}))
		})
	})

	It("survives a panicking callback", func() {
		var opened atomic.Int32
		cm = connection.NewConnectionManager(cfg, security.NewStaticTokenProvider("secret"), nil, metrics, logger, nil)
		manager := cm
		cm.SetCallbacks(
			func() {
				opened.Add(1)
				panic("boom")
			},
			nil,
			func(frame []byte) {
				if env, err := base.ParseEnvelope(frame); err == nil && env.Type == base.MessageTypePong {
					manager.HandlePong()
				}
			},
			nil,
		)

		cm.Connect()
		Eventually(cm.IsConnected).Should(BeTrue())
		Expect(opened.Load()).To(Equal(int32(1)))
		Consistently(cm.IsConnected, 300*time.Millisecond).Should(BeTrue())
		Expect(server.Connections()).To(Equal(1))
	})
})
