package strategy_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/mesh-gateway/internal/registry"
	"github.com/angeloszaimis/mesh-gateway/internal/strategy"
)

var _ = Describe("Weighted", func() {
	var list []registry.Instance

	BeforeEach(func() {
		list = instances("svc", 3)
		list[0].Metadata = map[string]string{"weight": "1"}
		list[1].Metadata = map[string]string{"weight": "3"}
		// list[2] has no weight and defaults to 1
	})

	DescribeTable("deterministic draws over total weight 5",
		func(draw float64, expected string) {
			w := strategy.NewWeightedWithSource(func() float64 { return draw })
			got, ok := w.SelectInstance(list)
			Expect(ok).To(BeTrue())
			Expect(got.ID).To(Equal(expected))
		},
		Entry("draw at zero picks the first instance", 0.0, "svc-0"),
		Entry("draw inside the first band", 0.1, "svc-0"),
		Entry("draw on the first boundary stays on the first", 0.2, "svc-0"),
		Entry("draw inside the second band", 0.5, "svc-1"),
		Entry("draw on the second boundary", 0.8, "svc-1"),
		Entry("draw inside the last band", 0.9, "svc-2"),
		Entry("draw just below the top stays in the last band", 0.9999999, "svc-2"),
	)

	DescribeTable("running out of weight falls back to the last instance",
		func(weights []string, draw float64) {
			list := instances("svc", len(weights))
			for i, weight := range weights {
				list[i].Metadata = map[string]string{registry.MetadataWeight: weight}
			}

			w := strategy.NewWeightedWithSource(func() float64 { return draw })
			got, ok := w.SelectInstance(list)
			Expect(ok).To(BeTrue())
			Expect(got.ID).To(Equal(list[len(list)-1].ID))
		},
		Entry("sum that rounds up with a draw of exactly 1", []string{"0.1", "0.2"}, 1.0),
		Entry("source returning above 1", []string{"1", "3", "1"}, 1.5),
	)

	It("should favour heavier instances", func() {
		w := strategy.NewWeighted()
		counts := make(map[string]int)
		for i := 0; i < 5000; i++ {
			got, _ := w.SelectInstance(list)
			counts[got.ID]++
		}
		Expect(counts["svc-1"]).To(BeNumerically(">", counts["svc-0"]))
		Expect(counts["svc-1"]).To(BeNumerically(">", counts["svc-2"]))
	})

	It("should report no selection for an empty list", func() {
		_, ok := strategy.NewWeighted().SelectInstance(nil)
		Expect(ok).To(BeFalse())
	})
})
