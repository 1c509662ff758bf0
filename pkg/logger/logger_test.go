package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/mesh-gateway/pkg/logger"
)

var _ = Describe("Logger", func() {
	ctx := context.Background()

	Describe("New", func() {
		It("should create a stdout logger", func() {
			Expect(logger.New("info", false, "dev")).NotTo(BeNil())
		})
	})

	DescribeTable("ParseLevel",
		func(name string, expected slog.Level) {
			Expect(logger.ParseLevel(name)).To(Equal(expected))
		},
		Entry("debug", "debug", slog.LevelDebug),
		Entry("info", "info", slog.LevelInfo),
		Entry("warn", "warn", slog.LevelWarn),
		Entry("error", "error", slog.LevelError),
		Entry("case-insensitive", "WARN", slog.LevelWarn),
		Entry("defaults to info", "invalid", slog.LevelInfo),
	)

	DescribeTable("level filtering",
		func(level string, enabled, disabled slog.Level) {
			log := logger.NewWithWriter(&bytes.Buffer{}, level, false, "dev")
			Expect(log.Enabled(ctx, enabled)).To(BeTrue())
			Expect(log.Enabled(ctx, disabled)).To(BeFalse())
		},
		Entry("info hides debug", "info", slog.LevelInfo, slog.LevelDebug),
		Entry("warn hides info", "warn", slog.LevelWarn, slog.LevelInfo),
		Entry("error hides warn", "error", slog.LevelError, slog.LevelWarn),
	)

	It("should write JSON with the environment in prod", func() {
		var buf bytes.Buffer
		logger.NewWithWriter(&buf, "info", false, "prod").Info("Service registered", slog.String("service", "llm-service"))

		var line map[string]any
		Expect(json.Unmarshal(buf.Bytes(), &line)).To(Succeed())
		Expect(line).To(HaveKeyWithValue("environment", "prod"))
		Expect(line).To(HaveKeyWithValue("service", "llm-service"))
		Expect(line).To(HaveKeyWithValue("msg", "Service registered"))
	})

	It("should write text outside prod", func() {
		var buf bytes.Buffer
		logger.NewWithWriter(&buf, "info", false, "dev").Info("hello")
		Expect(buf.String()).To(ContainSubstring("environment=dev"))
		Expect(buf.String()).To(ContainSubstring("msg=hello"))
	})

	It("should include the source when asked", func() {
		var buf bytes.Buffer
		logger.NewWithWriter(&buf, "info", true, "dev").Info("hello")
		Expect(buf.String()).To(ContainSubstring("source="))
	})

	It("should tag component loggers", func() {
		var buf bytes.Buffer
		logger.Component(logger.NewWithWriter(&buf, "info", false, "dev"), "registry").Info("hello")
		Expect(buf.String()).To(ContainSubstring("component=registry"))
	})
})
