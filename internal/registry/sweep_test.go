package registry_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/mesh-gateway/internal/registry"
)

type fakeProber struct {
	mu      sync.Mutex
	results map[string]error
	panics  map[string]bool
	calls   atomic.Int32
}

func newFakeProber() *fakeProber {
	return &fakeProber{
		results: make(map[string]error),
		panics:  make(map[string]bool),
	}
}

func (p *fakeProber) set(id string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results[id] = err
}

func (p *fakeProber) Probe(_ context.Context, instance registry.Instance) error {
	p.calls.Add(1)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.panics[instance.ID] {
		panic("probe exploded")
	}
	return p.results[instance.ID]
}

var _ = Describe("Health sweep", func() {
	var (
		reg    *registry.InMemory
		prober *fakeProber
		config registry.Config
		ctx    context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		prober = newFakeProber()
		config = registry.Config{
			SweepInterval:    20 * time.Millisecond,
			HeartbeatTimeout: time.Minute,
			ProbeTimeout:     time.Second,
			SweepConcurrency: 2,
		}
		reg = registry.New(config, prober, quietLogger())
	})

	Describe("Sweep", func() {
		It("should mark instances with a stale heartbeat unhealthy without probing them", func() {
			inst := newInstance("stale", "appointment-service", 3002)
			inst.LastHeartbeat = time.Now().Add(-2 * time.Minute)
			reg.Register(inst)

			reg.Sweep(ctx)

			got, _ := reg.Get("stale")
			Expect(got.Status).To(Equal(registry.StatusUnhealthy))
			Expect(prober.calls.Load()).To(BeZero())
		})

		It("should take the probe verdict for fresh instances", func() {
			reg.Register(newInstance("up", "appointment-service", 3002))
			reg.Register(newInstance("down", "appointment-service", 3003))
			prober.set("down", errors.New("connection refused"))

			reg.Sweep(ctx)

			up, _ := reg.Get("up")
			down, _ := reg.Get("down")
			Expect(up.Status).To(Equal(registry.StatusHealthy))
			Expect(down.Status).To(Equal(registry.StatusUnhealthy))
			Expect(prober.calls.Load()).To(Equal(int32(2)))
		})

		It("should revive an unhealthy instance when its probe succeeds", func() {
			inst := newInstance("a-1", "appointment-service", 3002)
			inst.Status = registry.StatusUnhealthy
			reg.Register(inst)

			reg.Sweep(ctx)

			got, _ := reg.Get("a-1")
			Expect(got.Status).To(Equal(registry.StatusHealthy))
		})

		It("should keep sweeping when a probe panics", func() {
			reg.Register(newInstance("a-1", "appointment-service", 3002))
			reg.Register(newInstance("a-2", "appointment-service", 3003))
			prober.panics["a-1"] = true

			Expect(func() { reg.Sweep(ctx) }).NotTo(Panic())

			a1, _ := reg.Get("a-1")
			a2, _ := reg.Get("a-2")
			Expect(a1.Status).To(Equal(registry.StatusUnhealthy))
			Expect(a2.Status).To(Equal(registry.StatusHealthy))
		})

		It("should only expire instances when no prober is configured", func() {
			reg = registry.New(config, nil, quietLogger())

			inst := newInstance("a-1", "appointment-service", 3002)
			inst.Status = registry.StatusUnknown
			reg.Register(inst)

			reg.Sweep(ctx)

			got, _ := reg.Get("a-1")
			Expect(got.Status).To(Equal(registry.StatusUnknown))
		})

		It("should bound probe timeouts", func() {
			reg = registry.New(registry.Config{
				SweepInterval:    time.Second,
				HeartbeatTimeout: time.Minute,
				ProbeTimeout:     20 * time.Millisecond,
			}, registry.ProberFunc(func(ctx context.Context, _ registry.Instance) error {
				<-ctx.Done()
				return ctx.Err()
			}), quietLogger())
			reg.Register(newInstance("slow", "appointment-service", 3002))

			start := time.Now()
			reg.Sweep(ctx)

			Expect(time.Since(start)).To(BeNumerically("<", time.Second))
			got, _ := reg.Get("slow")
			Expect(got.Status).To(Equal(registry.StatusUnhealthy))
		})
	})

	Describe("Start and Stop", func() {
		It("should sweep periodically until stopped", func() {
			reg.Register(newInstance("a-1", "appointment-service", 3002))
			prober.set("a-1", errors.New("503"))

			reg.Start(ctx)
			defer reg.Stop()

			Eventually(func() registry.Status {
				got, _ := reg.Get("a-1")
				return got.Status
			}, time.Second, 10*time.Millisecond).Should(Equal(registry.StatusUnhealthy))
		})

		It("should stop probing after Stop returns", func() {
			reg.Register(newInstance("a-1", "appointment-service", 3002))

			reg.Start(ctx)
			Eventually(prober.calls.Load, time.Second, 10*time.Millisecond).Should(BeNumerically(">", 0))
			reg.Stop()

			calls := prober.calls.Load()
			Consistently(prober.calls.Load, 100*time.Millisecond, 10*time.Millisecond).Should(Equal(calls))
		})

		It("should stop when the parent context is cancelled", func() {
			cctx, cancel := context.WithCancel(ctx)
			reg.Register(newInstance("a-1", "appointment-service", 3002))

			reg.Start(cctx)
			Eventually(prober.calls.Load, time.Second, 10*time.Millisecond).Should(BeNumerically(">", 0))
			cancel()
			reg.Stop()
		})

		It("should tolerate repeated Start and Stop", func() {
			reg.Start(ctx)
			reg.Start(ctx)
			reg.Stop()
			reg.Stop()
		})
	})

	Describe("Heartbeat and sweep race", func() {
		It("should let the last writer win so status can oscillate", func() {
			reg.Register(newInstance("a-1", "appointment-service", 3002))
			prober.set("a-1", errors.New("health endpoint returned 500"))

			Expect(reg.UpdateHeartbeat("a-1")).To(Succeed())
			got, _ := reg.Get("a-1")
			Expect(got.Status).To(Equal(registry.StatusHealthy))

			reg.Sweep(ctx)
			got, _ = reg.Get("a-1")
			Expect(got.Status).To(Equal(registry.StatusUnhealthy))

			Expect(reg.UpdateHeartbeat("a-1")).To(Succeed())
			got, _ = reg.Get("a-1")
			Expect(got.Status).To(Equal(registry.StatusHealthy))
		})
	})
})

var _ = Describe("Heartbeater", func() {
	It("should register, heartbeat and deregister on cancel", func() {
		reg := registry.New(registry.DefaultConfig(), nil, quietLogger())
		inst := newInstance("", "notification-service", 3004)
		inst.Status = registry.StatusUnknown

		hb := registry.NewHeartbeater(reg, inst, 10*time.Millisecond, quietLogger())
		Expect(hb.ID()).NotTo(BeEmpty())

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- hb.Run(ctx) }()

		Eventually(func() registry.Status {
			got, _ := reg.Get(hb.ID())
			return got.Status
		}, time.Second, 5*time.Millisecond).Should(Equal(registry.StatusHealthy))

		cancel()
		Eventually(done).Should(Receive(BeNil()))
		_, ok := reg.Get(hb.ID())
		Expect(ok).To(BeFalse())
	})

	It("should register again if the instance was removed", func() {
		reg := registry.New(registry.DefaultConfig(), nil, quietLogger())
		hb := registry.NewHeartbeater(reg, newInstance("n-1", "notification-service", 3004), 10*time.Millisecond, quietLogger())

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go hb.Run(ctx)

		Eventually(func() bool {
			_, ok := reg.Get("n-1")
			return ok
		}, time.Second, 5*time.Millisecond).Should(BeTrue())

		Expect(reg.Deregister("n-1")).To(Succeed())

		Eventually(func() bool {
			_, ok := reg.Get("n-1")
			return ok
		}, time.Second, 5*time.Millisecond).Should(BeTrue())
	})

	It("should fail to run with an invalid instance", func() {
		reg := registry.New(registry.DefaultConfig(), nil, quietLogger())
		hb := registry.NewHeartbeater(reg, registry.Instance{Name: "x"}, time.Second, quietLogger())
		Expect(hb.Run(context.Background())).To(MatchError(registry.ErrInvalidInstance))
	})
})
