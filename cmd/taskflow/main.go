// Command taskflow runs the workflow orchestration core as either a combined
// server (HTTP API + embedded worker), an API-only server, or a worker-only
// process.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mel-run/taskflow/internal/api"
	"github.com/mel-run/taskflow/internal/config"
	"github.com/mel-run/taskflow/internal/db"
	"github.com/mel-run/taskflow/internal/executionsvc"
	"github.com/mel-run/taskflow/internal/handler"
	"github.com/mel-run/taskflow/internal/handler/builtin"
	"github.com/mel-run/taskflow/internal/orchestrator"
	"github.com/mel-run/taskflow/internal/queue"
	"github.com/mel-run/taskflow/internal/store"
	"github.com/mel-run/taskflow/internal/worker"
	"github.com/mel-run/taskflow/internal/workflowsvc"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "taskflow",
	Short: "Durable workflow orchestration core",
	Long: `taskflow drives workflow definitions through a durable task queue
with at-least-once delivery, per-step exponential-backoff retries and
crash-resumption.`,
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the HTTP API with an embedded worker",
	Run: func(cmd *cobra.Command, args []string) {
		viper.BindPFlag("http_port", cmd.Flags().Lookup("http-port"))
		cfg := config.Load(viper.GetViper())
		runServer(cfg, true)
	},
}

var apiServerCmd = &cobra.Command{
	Use:   "api-server",
	Short: "Run the HTTP API only, no embedded worker",
	Run: func(cmd *cobra.Command, args []string) {
		viper.BindPFlag("http_port", cmd.Flags().Lookup("http-port"))
		cfg := config.Load(viper.GetViper())
		runServer(cfg, false)
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a standalone worker process",
	Run: func(cmd *cobra.Command, args []string) {
		viper.BindPFlag("id", cmd.Flags().Lookup("id"))
		cfg := config.Load(viper.GetViper())
		runWorkerOnly(cfg)
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(apiServerCmd)
	rootCmd.AddCommand(workerCmd)

	for _, c := range []*cobra.Command{serverCmd, apiServerCmd} {
		c.Flags().String("http-port", "8080", "HTTP listen port")
		viper.BindPFlag("http_port", c.Flags().Lookup("http-port"))
	}
	workerCmd.Flags().String("id", "", "worker id (auto-generated if empty)")
}

// buildDeps wires the store, queue, services, handler registry and
// orchestrator every run mode shares: connect DB, register handlers, build
// the orchestrator, then hand off to the worker and/or router.
type deps struct {
	store   store.Store
	queue   *queue.Queue
	wfSvc   *workflowsvc.Service
	execSvc *executionsvc.Service
	orch    *orchestrator.Orchestrator
}

func buildDeps(cfg config.Config) *deps {
	conn, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	st := store.NewPostgresStore(conn)

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	q := queue.New(rdb, cfg.QueueName, cfg.QueueProcessingTimeout)

	reg := handler.NewRegistry()
	reg.Register(builtin.LogHandler{})
	reg.Register(builtin.TransformHandler{})
	reg.Register(builtin.ConditionalHandler{})
	reg.Register(builtin.DelayHandler{})
	reg.Register(builtin.HTTPCallHandler{Client: &http.Client{}})

	wfSvc := workflowsvc.New(st)
	execSvc := executionsvc.New(st)
	policy := orchestrator.RetryPolicy{BaseDelay: cfg.RetryBaseDelay, MaxDelay: cfg.RetryMaxDelay}
	orch := orchestrator.New(st, execSvc, reg, policy)

	return &deps{store: st, queue: q, wfSvc: wfSvc, execSvc: execSvc, orch: orch}
}

func runServer(cfg config.Config, withWorker bool) {
	d := buildDeps(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if withWorker {
		w := worker.New("embedded-worker", d.queue, d.orch, worker.Config{
			DequeueTimeout:   5 * time.Second,
			RecoveryInterval: cfg.RecoveryInterval,
			MaxRetries:       cfg.MaxRetries,
		})
		go w.Run(ctx)
	}

	srv := api.NewServer(d.wfSvc, d.execSvc, d.queue, d.store)
	httpServer := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      srv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("taskflow listening on :%s (embedded_worker=%t)", cfg.HTTPPort, withWorker)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("http server forced shutdown: %v", err)
	}
}

func runWorkerOnly(cfg config.Config) {
	d := buildDeps(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id := viper.GetString("id")
	if id == "" {
		id = "worker-" + time.Now().UTC().Format("150405")
	}

	w := worker.New(id, d.queue, d.orch, worker.Config{
		DequeueTimeout:   5 * time.Second,
		RecoveryInterval: cfg.RecoveryInterval,
		MaxRetries:       cfg.MaxRetries,
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Println("shutting down worker")
		cancel()
	}()

	w.Run(ctx)
}
