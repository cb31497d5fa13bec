// Command opentokend serves the opentoken engine over a JSON HTTP API.
//
// Configuration is read from the file given with -config (any format viper
// understands) and from OPENTOKEN_* environment variables. Prometheus
// metrics are served at /metrics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/opentoken"
	"github.com/MrEthical07/opentoken/mail"
	promexport "github.com/MrEthical07/opentoken/metrics/export/prometheus"
	"github.com/MrEthical07/opentoken/store/engines"
)

func main() {
	configPath := flag.String("config", "", "path to a config file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("opentokend exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg Config, logger *slog.Logger) error {
	kv, err := engines.Open(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	if c, ok := kv.(io.Closer); ok {
		defer c.Close()
	}

	b := opentoken.New().
		WithConfig(cfg.engineConfig()).
		WithStore(kv).
		WithLogger(logger)

	// -------- MAIL --------
	if cfg.SMTP.Host != "" {
		sender, err := mail.NewSMTPSender(cfg.SMTP)
		if err != nil {
			return err
		}
		b.WithMailer(sender)
	} else {
		logger.Warn("no smtp host configured; confirmation mails are logged")
		b.WithMailer(mail.LogSender{Logger: logger})
	}

	// -------- AUDIT --------
	if len(cfg.Kafka.Brokers) > 0 {
		sink, err := opentoken.DialKafkaSink(cfg.Kafka, logger)
		if err != nil {
			return err
		}
		defer sink.Close()
		b.WithAuditSink(sink)
	} else {
		b.WithAuditSink(opentoken.NewJSONWriterSink(os.Stdout))
	}

	// -------- LOGIN THROTTLE --------
	if len(cfg.LimiterRedis) > 0 {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: cfg.LimiterRedis})
		defer client.Close()
		b.WithRedisLimiter(client)
	}

	engine, err := b.Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		promexport.NewPrometheusExporter(engine),
	)

	mux := http.NewServeMux()
	(&server{engine: engine, logger: logger}).routes(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "ok\n")
	})

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Listen, "store", cfg.Store.Engine)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
