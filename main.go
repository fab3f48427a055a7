package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/relaymeter/relaymeter/config"
	"github.com/relaymeter/relaymeter/database"
	"github.com/relaymeter/relaymeter/event"
	"github.com/relaymeter/relaymeter/job"
	"github.com/relaymeter/relaymeter/logger"
	"github.com/relaymeter/relaymeter/metrics"
	"github.com/relaymeter/relaymeter/queue"
	"github.com/relaymeter/relaymeter/service"

	"github.com/joho/godotenv"
	"github.com/op/go-logging"
	"github.com/spf13/cobra"
)

func initLogging() {
	switch config.GetLogLevel() {
	case config.Debug:
		logger.InitLogger(logging.DEBUG)
	case config.Info:
		logger.InitLogger(logging.INFO)
	case config.Notice:
		logger.InitLogger(logging.NOTICE)
	case config.Warn:
		logger.InitLogger(logging.WARNING)
	case config.Error:
		logger.InitLogger(logging.ERROR)
	default:
		log.Fatal("unknown log level:", config.GetLogLevel())
	}
}

func newEngine() (*job.Engine, *queue.RedisQueue) {
	commandQueue := queue.NewRedisQueue(config.GetRedisAddr(), config.GetRedisPassword(), config.GetRedisDB())
	notifier := event.LogNotifier{}
	m := metrics.New()

	usageService := service.NewUsageService(m)
	lifecycleService := service.NewLifecycleService(notifier)
	resetService := service.NewResetService(notifier)
	fleetService := service.NewFleetService(
		commandQueue, notifier, m,
		config.GetHealthProbeTimeout(), config.GetHealthFailThreshold(),
	)

	return job.NewEngine(usageService, lifecycleService, resetService, fleetService, m), commandQueue
}

func runEngine() {
	log.Printf("%v %v", config.GetName(), config.GetVersion())
	initLogging()

	err := database.InitDB(config.GetDBPath())
	if err != nil {
		log.Fatal(err)
	}

	engine, commandQueue := newEngine()
	if err := commandQueue.Ping(engine.GetCtx()); err != nil {
		logger.Warning("command queue unreachable at startup:", err)
	}

	if err := engine.Start(); err != nil {
		log.Println(err)
		return
	}

	sigCh := make(chan os.Signal, 1)
	// Trap shutdown signals
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGTERM)
	for {
		sig := <-sigCh

		switch sig {
		case syscall.SIGHUP:
			if err := engine.Stop(); err != nil {
				logger.Warning("stop engine err:", err)
			}
			engine, commandQueue = newEngine()
			if err := commandQueue.Ping(engine.GetCtx()); err != nil {
				logger.Warning("command queue unreachable after restart:", err)
			}
			if err := engine.Start(); err != nil {
				log.Println(err)
				return
			}
		default:
			_ = engine.Stop()
			_ = commandQueue.Close()
			_ = database.CloseDB()
			logger.CloseLogger()
			return
		}
	}
}

func migrateDb() {
	err := database.InitDB(config.GetDBPath())
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("Start migrating database...")
	fmt.Println("Migration done!")
}

func main() {
	_ = godotenv.Load()

	var rootCmd = &cobra.Command{
		Use: "relaymeter",
	}

	var runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the metering engine",
		Run: func(cmd *cobra.Command, args []string) {
			runEngine()
		},
	}

	var migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		Run: func(cmd *cobra.Command, args []string) {
			migrateDb()
		},
	}

	var versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s %s\n", config.GetName(), config.GetVersion())
		},
	}

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
