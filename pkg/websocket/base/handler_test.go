package base_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/backtesting-org/dashboard-push/pkg/logging"
	"github.com/backtesting-org/dashboard-push/pkg/websocket/base"
	"github.com/backtesting-org/dashboard-push/pkg/websocket/performance"
)

var _ = Describe("Dispatcher", func() {
	var (
		registry   *base.HandlerRegistry
		metrics    performance.Metrics
		dispatcher *base.Dispatcher
		errs       []error
		calls      map[string][]*base.Envelope
		pongs      int
	)

	record := func(name string) base.Handler {
		return func(env *base.Envelope) error {
			calls[name] = append(calls[name], env)
			return nil
		}
	}

	BeforeEach(func() {
		registry = base.NewHandlerRegistry(logging.NewNoOpLogger())
		metrics = performance.NewMetrics()
		dispatcher = base.NewDispatcher(registry, metrics, logging.NewNoOpLogger())
		errs = nil
		calls = map[string][]*base.Envelope{}
		pongs = 0

		dispatcher.SetErrorHandler(func(err error) { errs = append(errs, err) })
		dispatcher.SetPongHandler(func() { pongs++ })

		registry.Register(base.MessageTypeDeposit, record("deposit"))
		registry.Register(base.MessageTypeWithdrawal, record("withdrawal"))
		registry.Register("custom", record("custom"))
	})

	It("routes a deposit only to the deposit handler", func() {
		dispatcher.Dispatch([]byte(`{"type":"deposit","deposit":{"id":"d-1"}}`))

		Expect(calls["deposit"]).To(HaveLen(1))
		Expect(calls["deposit"][0].Payload).To(MatchJSON(`{"id":"d-1"}`))
		Expect(calls["withdrawal"]).To(BeEmpty())
		Expect(calls["custom"]).To(BeEmpty())
		Expect(metrics.GetStats()["frames_dispatched"]).To(Equal(int64(1)))
	})

	It("routes a deposit whose fields do not match the typed view", func() {
		dispatcher.Dispatch([]byte(`{"type":"deposit","deposit":{"id":42,"updated_at":"2024-01-01 10:00:00","extra":true}}`))

		Expect(errs).To(BeEmpty())
		Expect(calls["deposit"]).To(HaveLen(1))
		Expect(calls["deposit"][0].Payload).To(MatchJSON(`{"id":42,"updated_at":"2024-01-01 10:00:00","extra":true}`))
	})

	It("routes a withdrawal only to the withdrawal handler", func() {
		dispatcher.Dispatch([]byte(`{"type":"withdrawal","withdrawal":{"id":"w-1"}}`))

		Expect(calls["withdrawal"]).To(HaveLen(1))
		Expect(calls["deposit"]).To(BeEmpty())
		Expect(calls["custom"]).To(BeEmpty())
	})

	It("routes extension types through the generic registry", func() {
		dispatcher.Dispatch([]byte(`{"type":"custom","x":1}`))
		Expect(calls["custom"]).To(HaveLen(1))
		Expect(calls["custom"][0].Raw).To(MatchJSON(`{"type":"custom","x":1}`))
	})

	It("silently drops unknown types", func() {
		dispatcher.Dispatch([]byte(`{"type":"foo"}`))

		Expect(calls).To(BeEmpty())
		Expect(errs).To(BeEmpty())
		Expect(metrics.GetStats()["frames_dropped"]).To(Equal(int64(1)))
	})

	It("sends pongs to the heartbeat and never to handlers", func() {
		registry.Register(base.MessageTypePong, record("pong"))

		dispatcher.Dispatch([]byte(`{"type":"pong"}`))

		Expect(pongs).To(Equal(1))
		Expect(calls["pong"]).To(BeEmpty())
	})

	It("never surfaces pings to handlers", func() {
		registry.Register(base.MessageTypePing, record("ping"))
		dispatcher.Dispatch([]byte(`{"type":"ping"}`))
		Expect(calls["ping"]).To(BeEmpty())
		Expect(errs).To(BeEmpty())
	})

	It("reports malformed frames and keeps going", func() {
		dispatcher.Dispatch([]byte(`garbage`))
		dispatcher.Dispatch([]byte(`{"type":"deposit","deposit":{"id":"d-2"}}`))

		Expect(errs).To(HaveLen(1))
		var perr *base.ParseError
		Expect(errors.As(errs[0], &perr)).To(BeTrue())
		Expect(calls["deposit"]).To(HaveLen(1))
		Expect(metrics.GetStats()["parse_errors"]).To(Equal(int64(1)))
	})

	It("replaces a handler registered twice", func() {
		registry.Register(base.MessageTypeDeposit, record("second"))

		dispatcher.Dispatch([]byte(`{"type":"deposit","deposit":{}}`))

		Expect(calls["deposit"]).To(BeEmpty())
		Expect(calls["second"]).To(HaveLen(1))
	})

	It("removes a handler registered as nil", func() {
		registry.Register(base.MessageTypeDeposit, nil)
		dispatcher.Dispatch([]byte(`{"type":"deposit","deposit":{}}`))
		Expect(calls["deposit"]).To(BeEmpty())
		Expect(registry.GetRegisteredTypes()).ToNot(ContainElement(base.MessageTypeDeposit))
	})

	It("reports handler errors", func() {
		registry.Register(base.MessageTypeDeposit, func(*base.Envelope) error {
			return errors.New("boom")
		})

		dispatcher.Dispatch([]byte(`{"type":"deposit","deposit":{}}`))

		Expect(errs).To(HaveLen(1))
		var herr *base.HandlerError
		Expect(errors.As(errs[0], &herr)).To(BeTrue())
		Expect(herr.Type).To(Equal(base.MessageTypeDeposit))
		Expect(herr.Err).To(MatchError("boom"))
	})

	It("survives a panicking handler", func() {
		registry.Register(base.MessageTypeDeposit, func(*base.Envelope) error {
			panic("kaboom")
		})

		Expect(func() {
			dispatcher.Dispatch([]byte(`{"type":"deposit","deposit":{}}`))
		}).ToNot(Panic())

		Expect(errs).To(HaveLen(1))
		var herr *base.HandlerError
		Expect(errors.As(errs[0], &herr)).To(BeTrue())
		Expect(herr.Panic).To(Equal("kaboom"))

		dispatcher.Dispatch([]byte(`{"type":"withdrawal","withdrawal":{}}`))
		Expect(calls["withdrawal"]).To(HaveLen(1))
	})

	It("preserves arrival order per type", func() {
		for _, id := range []string{"a", "b", "c"} {
			dispatcher.Dispatch([]byte(`{"type":"deposit","deposit":{"id":"` + id + `"}}`))
		}

		ids := []string{}
		for _, env := range calls["deposit"] {
			deposit, err := env.DecodeDeposit()
			Expect(err).ToNot(HaveOccurred())
			ids = append(ids, deposit.ID)
		}
		Expect(ids).To(Equal([]string{"a", "b", "c"}))
	})
})
