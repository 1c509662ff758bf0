package healthcheck_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/mesh-gateway/internal/healthcheck"
	"github.com/angeloszaimis/mesh-gateway/internal/registry"
)

func instanceFor(server *httptest.Server, path string) registry.Instance {
	u, err := url.Parse(server.URL)
	Expect(err).NotTo(HaveOccurred())
	port, err := strconv.Atoi(u.Port())
	Expect(err).NotTo(HaveOccurred())

	return registry.Instance{
		ID:              "i-1",
		Name:            "notification-service",
		Host:            u.Hostname(),
		Port:            port,
		HealthCheckPath: path,
	}
}

var _ = Describe("HTTPProber", func() {
	var (
		server *httptest.Server
		status int
		hits   []string
		prober *healthcheck.HTTPProber
	)

	BeforeEach(func() {
		status = http.StatusOK
		hits = nil
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits = append(hits, r.Method+" "+r.URL.Path)
			w.WriteHeader(status)
			w.Write([]byte("OK"))
		}))
		prober = healthcheck.NewHTTPProber(time.Second)
	})

	AfterEach(func() {
		server.Close()
	})

	It("should probe the instance's health path", func() {
		Expect(prober.Probe(context.Background(), instanceFor(server, "/status"))).To(Succeed())
		Expect(hits).To(Equal([]string{"GET /status"}))
	})

	It("should default to /health", func() {
		Expect(prober.Probe(context.Background(), instanceFor(server, ""))).To(Succeed())
		Expect(hits).To(Equal([]string{"GET /health"}))
	})

	It("should accept any 2xx", func() {
		status = http.StatusNoContent
		Expect(prober.Probe(context.Background(), instanceFor(server, "/health"))).To(Succeed())
	})

	It("should fail on non-2xx responses", func() {
		status = http.StatusServiceUnavailable
		err := prober.Probe(context.Background(), instanceFor(server, "/health"))
		Expect(err).To(MatchError(ContainSubstring("503")))
	})

	It("should fail when nothing listens", func() {
		inst := instanceFor(server, "/health")
		server.Close()
		Expect(prober.Probe(context.Background(), inst)).NotTo(Succeed())
	})

	It("should honour the context deadline", func() {
		slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}))
		defer slow.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		start := time.Now()
		Expect(prober.Probe(ctx, instanceFor(slow, "/health"))).NotTo(Succeed())
		Expect(time.Since(start)).To(BeNumerically("<", time.Second))
	})

	It("should drive the registry sweep", func() {
		status = http.StatusInternalServerError
		reg := registry.New(registry.DefaultConfig(), prober, nil)
		inst := instanceFor(server, "/health")
		reg.Register(inst)

		reg.Sweep(context.Background())

		got, _ := reg.Get(inst.ID)
		Expect(got.Status).To(Equal(registry.StatusUnhealthy))
	})
})
