// Command masdeepflow runs the host-resident eBPF observability agent:
// it attaches the kernel probe set, correlates the events they emit into
// TCP and HTTP/MySQL activity, and logs what it sees.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/masdeepflow/agent/internal/config"
	"github.com/masdeepflow/agent/internal/correlator"
	"github.com/masdeepflow/agent/internal/dispatcher"
	"github.com/masdeepflow/agent/internal/emitter"
	"github.com/masdeepflow/agent/internal/kernel"
	"github.com/masdeepflow/agent/internal/metrics"
	"github.com/masdeepflow/agent/internal/podresolver"
	"github.com/masdeepflow/agent/internal/transport"
)

// ringDropPollInterval is how often PollRingDrops re-reads the kernel's
// ring-overrun counters.
const ringDropPollInterval = 5 * time.Second

func main() {
	log := logrus.New()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	log.SetLevel(cfg.LogLevel)

	if err := run(log, cfg); err != nil {
		log.Fatal(err)
	}
}

func run(log logrus.FieldLogger, cfg config.Config) error {
	features, err := kernel.DetectFeatures()
	if err != nil {
		return err
	}
	if err := features.RequireRingBuf(); err != nil {
		return err
	}
	enableSplice := cfg.EnableSplice && features.HaveSockMap
	if cfg.EnableSplice && !features.HaveSockMap {
		log.Warn("kernel too old for sockhash-based splice, continuing without it")
	}

	probes, err := kernel.Load(log)
	if err != nil {
		return err
	}
	defer probes.Close()

	// Register the agent's own pid in FILTER_PID before any probe is
	// attached, so the second self-exclusion guard is live for the
	// agent's very first socket I/O (SPEC_FULL.md, Supplemented
	// Features #3).
	if err := probes.RegisterSelfPID(uint32(os.Getpid())); err != nil {
		return err
	}

	if err := probes.Attach(cfg.CgroupPath, enableSplice); err != nil {
		return err
	}

	metricsCollector := metrics.New()
	prometheus.MustRegister(metricsCollector)
	emit := emitter.New(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	corr := correlator.New(log, podresolver.Stub{}, func(a correlator.TCPActivity) {
		emit.TCP(a.Direction.String(), a.Pod, a.SAddr, a.DAddr, a.DPort, a.L7Info, a.Latency, a.HasLatency, a.DiagID)
	})

	pool := dispatcher.New(log, corr, metricsCollector)
	go pool.Run(ctx)

	processReader, err := transport.NewReader(log, "process", probes.ProcessEventsMap())
	if err != nil {
		return err
	}
	tcpReader, err := transport.NewReader(log, "tcp", probes.TcpEventsMap())
	if err != nil {
		return err
	}

	go probes.PollRingDrops(ctx, log, ringDropPollInterval, metricsCollector)

	go func() {
		if err := processReader.Run(ctx, func(rec transport.Record) {
			pool.SubmitProcess(ctx, rec)
		}); err != nil {
			log.WithError(err).Error("process ring buffer reader exited")
		}
	}()
	go func() {
		if err := tcpReader.Run(ctx, func(rec transport.Record) {
			pool.SubmitTCP(ctx, rec)
		}); err != nil {
			log.WithError(err).Error("tcp ring buffer reader exited")
		}
	}()

	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.Handler()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("metrics server exited")
		}
	}()

	log.Info("probes attached, monitoring")
	<-ctx.Done()
	log.Info("shutting down, press Ctrl-C again to force exit")

	forceCtx, forceStop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer forceStop()

	done := make(chan struct{})
	go func() {
		_ = metricsSrv.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-forceCtx.Done():
		log.Warn("forced exit")
		os.Exit(1)
	}

	return nil
}
