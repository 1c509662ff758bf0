package registry_test

import (
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/mesh-gateway/internal/registry"
)

func newInstance(id, name string, port int) registry.Instance {
	return registry.Instance{
		ID:              id,
		Name:            name,
		Version:         "1.0.0",
		Host:            "localhost",
		Port:            port,
		HealthCheckPath: "/health",
	}
}

var _ = Describe("InMemory", func() {
	var reg *registry.InMemory

	BeforeEach(func() {
		reg = registry.New(registry.DefaultConfig(), nil, quietLogger())
	})

	Describe("Register", func() {
		It("should store the instance and fill defaults", func() {
			stored, err := reg.Register(newInstance("a-1", "appointment-service", 3002))
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Status).To(Equal(registry.StatusHealthy))
			Expect(stored.RegisteredAt).NotTo(BeZero())
			Expect(stored.LastHeartbeat).NotTo(BeZero())

			got, ok := reg.Get("a-1")
			Expect(ok).To(BeTrue())
			Expect(got).To(Equal(stored))
		})

		It("should generate an id when missing", func() {
			stored, err := reg.Register(newInstance("", "appointment-service", 3002))
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.ID).NotTo(BeEmpty())
			Expect(reg.Discover("appointment-service")).To(HaveLen(1))
		})

		It("should keep an explicit status", func() {
			inst := newInstance("a-1", "appointment-service", 3002)
			inst.Status = registry.StatusUnknown
			stored, err := reg.Register(inst)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Status).To(Equal(registry.StatusUnknown))
		})

		It("should be an idempotent upsert", func() {
			reg.Register(newInstance("a-1", "appointment-service", 3002))
			reg.Register(newInstance("a-1", "appointment-service", 4002))

			instances := reg.Discover("appointment-service")
			Expect(instances).To(HaveLen(1))
			Expect(instances[0].Port).To(Equal(4002))
		})

		It("should move an instance between names when re-registered under another name", func() {
			reg.Register(newInstance("a-1", "appointment-service", 3002))
			reg.Register(newInstance("a-1", "analytics-service", 3005))

			Expect(reg.Discover("appointment-service")).To(BeEmpty())
			Expect(reg.Discover("analytics-service")).To(HaveLen(1))
		})

		It("should reject invalid instances", func() {
			_, err := reg.Register(registry.Instance{Name: "", Host: "localhost", Port: 80})
			Expect(err).To(MatchError(registry.ErrInvalidInstance))

			_, err = reg.Register(registry.Instance{Name: "svc", Host: "localhost", Port: 0})
			Expect(err).To(MatchError(registry.ErrInvalidInstance))

			inst := newInstance("x", "svc", 80)
			inst.HealthCheckPath = "health"
			_, err = reg.Register(inst)
			Expect(err).To(MatchError(registry.ErrInvalidInstance))
		})

		It("should not share metadata with the caller", func() {
			inst := newInstance("a-1", "appointment-service", 3002)
			inst.Metadata = map[string]string{"zone": "eu"}
			reg.Register(inst)

			inst.Metadata["zone"] = "us"
			got, _ := reg.Get("a-1")
			Expect(got.Metadata["zone"]).To(Equal("eu"))
		})
	})

	Describe("Deregister", func() {
		It("should remove the instance from both indexes", func() {
			reg.Register(newInstance("a-1", "appointment-service", 3002))
			reg.Register(newInstance("a-2", "appointment-service", 3003))

			Expect(reg.Deregister("a-1")).To(Succeed())

			_, ok := reg.Get("a-1")
			Expect(ok).To(BeFalse())
			instances := reg.Discover("appointment-service")
			Expect(instances).To(HaveLen(1))
			Expect(instances[0].ID).To(Equal("a-2"))
			Expect(reg.AllServices()).To(HaveLen(1))
		})

		It("should report unknown ids", func() {
			Expect(reg.Deregister("missing")).To(MatchError(registry.ErrInstanceNotFound))
		})
	})

	Describe("Discover", func() {
		It("should return an empty list for unknown services", func() {
			Expect(reg.Discover("missing")).To(BeEmpty())
		})

		It("should return a snapshot, not a live view", func() {
			reg.Register(newInstance("a-1", "appointment-service", 3002))
			instances := reg.Discover("appointment-service")
			instances[0].Status = registry.StatusUnhealthy

			Expect(reg.HealthyInstances("appointment-service")).To(HaveLen(1))
		})
	})

	Describe("HealthyInstances", func() {
		It("should never return an instance that is not healthy", func() {
			for i, status := range []registry.Status{registry.StatusHealthy, registry.StatusUnhealthy, registry.StatusUnknown, registry.StatusHealthy} {
				inst := newInstance(string(rune('a'+i)), "appointment-service", 3000+i)
				inst.Status = status
				reg.Register(inst)
			}

			Expect(reg.Discover("appointment-service")).To(HaveLen(4))
			healthy := reg.HealthyInstances("appointment-service")
			Expect(healthy).To(HaveLen(2))
			for _, inst := range healthy {
				Expect(inst.Status).To(Equal(registry.StatusHealthy))
			}
		})
	})

	Describe("UpdateHeartbeat", func() {
		It("should refresh the heartbeat and mark the instance healthy", func() {
			inst := newInstance("a-1", "appointment-service", 3002)
			inst.Status = registry.StatusUnhealthy
			before, _ := reg.Register(inst)

			Expect(reg.UpdateHeartbeat("a-1")).To(Succeed())

			after, _ := reg.Get("a-1")
			Expect(after.Status).To(Equal(registry.StatusHealthy))
			Expect(after.LastHeartbeat).To(BeTemporally(">=", before.LastHeartbeat))
		})

		It("should report unknown ids", func() {
			Expect(reg.UpdateHeartbeat("missing")).To(MatchError(registry.ErrInstanceNotFound))
		})
	})

	Describe("Status change listener", func() {
		It("should be told when a heartbeat revives an instance", func() {
			var changes []registry.Status
			reg = registry.New(registry.DefaultConfig(), nil, quietLogger(),
				registry.WithStatusChangeListener(func(_ registry.Instance, _, to registry.Status) {
					changes = append(changes, to)
				}))

			inst := newInstance("a-1", "appointment-service", 3002)
			inst.Status = registry.StatusUnhealthy
			reg.Register(inst)

			reg.UpdateHeartbeat("a-1")
			reg.UpdateHeartbeat("a-1")

			Expect(changes).To(Equal([]registry.Status{registry.StatusHealthy}))
		})
	})

	Describe("Deregister listener", func() {
		var removed []string

		BeforeEach(func() {
			removed = nil
			reg = registry.New(registry.DefaultConfig(), nil, quietLogger(),
				registry.WithDeregisterListener(func(inst registry.Instance) {
					removed = append(removed, inst.Name+"/"+inst.ID)
				}))
		})

		It("should be told when an instance is deregistered", func() {
			reg.Register(newInstance("a-1", "appointment-service", 3002))
			Expect(reg.Deregister("a-1")).To(Succeed())
			Expect(reg.Deregister("a-1")).NotTo(Succeed())

			Expect(removed).To(Equal([]string{"appointment-service/a-1"}))
		})

		It("should be told when an instance moves to another name", func() {
			reg.Register(newInstance("a-1", "appointment-service", 3002))
			reg.Register(newInstance("a-1", "appointment-service", 3003))
			reg.Register(newInstance("a-1", "analytics-service", 3005))

			Expect(removed).To(Equal([]string{"appointment-service/a-1"}))
		})
	})

	Describe("Concurrent access", func() {
		It("should handle concurrent registration and reads", func() {
			const goroutines = 50
			var wg sync.WaitGroup
			wg.Add(goroutines * 2)

			for i := 0; i < goroutines; i++ {
				go func(i int) {
					defer wg.Done()
					reg.Register(newInstance("", "appointment-service", 3000+i))
				}(i)
				go func() {
					defer wg.Done()
					_ = reg.HealthyInstances("appointment-service")
				}()
			}
			wg.Wait()

			Expect(reg.Discover("appointment-service")).To(HaveLen(goroutines))
		})
	})
})

var _ = Describe("Instance", func() {
	It("should build URLs from host and port", func() {
		inst := newInstance("a-1", "appointment-service", 3002)
		Expect(inst.URL()).To(Equal("http://localhost:3002"))
		Expect(inst.HealthURL()).To(Equal("http://localhost:3002/health"))
	})

	DescribeTable("Weight",
		func(metadata map[string]string, expected float64) {
			inst := newInstance("a-1", "svc", 80)
			inst.Metadata = metadata
			Expect(inst.Weight()).To(Equal(expected))
		},
		Entry("defaults to 1 without metadata", nil, 1.0),
		Entry("reads the weight key", map[string]string{"weight": "3"}, 3.0),
		Entry("accepts fractional weights", map[string]string{"weight": "0.5"}, 0.5),
		Entry("falls back on garbage", map[string]string{"weight": "heavy"}, 1.0),
		Entry("falls back on non-positive weights", map[string]string{"weight": "-2"}, 1.0),
	)
})

var _ = Describe("Instance health URL", func() {
	It("should default the path to /health", func() {
		inst := newInstance("a-1", "appointment-service", 3002)
		inst.HealthCheckPath = ""
		Expect(inst.HealthURL()).To(Equal("http://localhost:3002/health"))
	})
})
