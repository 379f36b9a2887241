package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/teranos/pulseq/errors"
	"github.com/teranos/pulseq/logger"
	"github.com/teranos/pulseq/pulse/async"
	"github.com/teranos/pulseq/pulse/events"
	"github.com/teranos/pulseq/sym"
)

// WorkerCmd runs a single worker in the foreground
var WorkerCmd = &cobra.Command{
	Use:   "worker",
	Short: sym.Pulse + " Process jobs from a queue",
	Long: sym.Pulse + ` Run a worker in the foreground.

The worker claims one job at a time from its queue, runs the registered
handler and records the outcome. When the queue is empty it sleeps before
polling again. Ctrl+C (or SIGTERM) lets the current job finish and then
stops the worker.

Run several workers (one process each) to process a queue concurrently.

Examples:
  pulseq worker                              # default queue, 3s idle sleep
  pulseq worker --queue email --sleep 1      # email queue
  pulseq worker --metrics-addr :9090         # also serve /metrics

Set events.amqp_url (or RABBITMQ_URL) to publish every job state change
to an AMQP topic exchange, routed as "<queue>.<status>".`,
	RunE: runWorker,
}

func init() {
	WorkerCmd.Flags().String("queue", "", "Queue to process (default: queue.name from config)")
	WorkerCmd.Flags().Int("sleep", 0, "Seconds to sleep after an empty poll (default: queue.sleep_seconds)")
	WorkerCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address (default: metrics.addr)")
	WorkerCmd.Flags().Int("max-jobs-per-minute", 0, "Throttle polling (default: queue.max_jobs_per_minute, 0 = unlimited)")
}

func runWorker(cmd *cobra.Command, args []string) error {
	if !config.Queue.Enabled {
		return errors.Wrap(errors.ErrDisabled, "queue module")
	}

	queue, _ := cmd.Flags().GetString("queue")
	if queue == "" {
		queue = config.GetQueueName()
	}
	sleep := config.GetSleep()
	if secs, _ := cmd.Flags().GetInt("sleep"); secs > 0 {
		sleep = time.Duration(secs) * time.Second
	}
	perMinute := config.Queue.MaxJobsPerMinute
	if n, _ := cmd.Flags().GetInt("max-jobs-per-minute"); n > 0 {
		perMinute = n
	}
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	if metricsAddr == "" {
		metricsAddr = config.Metrics.Addr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, config)
	if err != nil {
		return err
	}
	defer closeStore()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		async.NewSystemCollector(store, logger.Logger),
	)
	svc := newService(store, config, async.WithMetrics(async.NewMetrics(reg)))
	worker := async.NewWorker(svc, logger.Logger, async.WorkerConfig{
		Queue:            queue,
		Sleep:            sleep,
		MaxJobsPerMinute: perMinute,
	})

	var pub *events.AMQPPublisher
	if config.Events.AMQPURL != "" {
		pub, err = events.DialAMQP(config.Events.AMQPURL, config.Events.Exchange)
		if err != nil {
			return err
		}
		defer pub.Close()
	}

	fmt.Printf("%s Starting worker on queue '%s' (sleep: %ds)...\n", sym.Pulse, queue, int(sleep.Seconds()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.Run(gctx)
	})
	if metricsAddr != "" {
		serveMetrics(gctx, g, metricsAddr, reg)
		fmt.Printf("  Metrics: http://%s/metrics\n", metricsAddr)
	}
	if pub != nil {
		g.Go(func() error {
			return events.Relay(gctx, svc, pub, logger.Logger)
		})
		fmt.Printf("  Events: exchange '%s'\n", config.Events.Exchange)
	}

	err = g.Wait()
	fmt.Printf("%s Worker stopped (%d job(s) processed)\n", sym.PulseClose, worker.Processed())
	return err
}

// serveMetrics runs a /metrics server in g until ctx is done.
func serveMetrics(ctx context.Context, g *errgroup.Group, addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrapf(err, "metrics server on %s", addr)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
