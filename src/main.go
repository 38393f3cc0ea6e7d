package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"tourcraft/src/server"
	"tourcraft/src/settings"
)

const version = "0.3.1"

func main() {
	args := settings.GetSettings()

	flag.StringVar(&args.ConfigFile, "config", "", "Path to a YAML config file")
	flag.StringVar(&args.EnvFile, "env", "", "Path to a .env file with TOURCRAFT_* overrides")
	flag.StringVar(&args.Storage, "storage", "mongo", "Document store backend (mongo or memory)")
	flag.StringVar(&args.MongoURI, "mongouri", "mongodb://localhost:27017", "Connection URI for the mongo store")
	flag.StringVar(&args.MongoDatabase, "mongodb", "tourcraft", "Mongo database name")
	flag.StringVar(&args.Host, "host", "localhost", "Host name or IP address to listen on")
	flag.IntVar(&args.Port, "port", 1776, "Port number to listen on")
	flag.StringVar(&args.LogDir, "logdir", "", "Directory for the log file (empty disables file logging)")
	flag.BoolVar(&args.PrintToScreen, "print", true, "Also print log output to the screen")
	flag.BoolVar(&args.Verbose, "verbose", false, "Per-connection request logging")
	flag.BoolVar(&args.Debug, "debug", false, "Debug level logging")
	flag.DurationVar(&args.CacheTTL, "cachettl", 0, "Document cache TTL (0 disables the cache)")
	flag.BoolVar(&args.RepairOnLoad, "repaironload", true, "Run a relation sync whenever a detail session loads")
	showVersion := flag.Bool("version", false, "Print the version and exit")

	flag.Parse()
	args.Version = version

	if *showVersion {
		fmt.Printf("tourcraftd %s\n", version)
		return
	}

	if err := validateArguments(args); err != nil {
		log.Fatalf("Invalid arguments: %v", err)
	}

	if err := args.ApplyEnvOverrides(); err != nil {
		log.Fatalf("Error applying environment overrides: %v", err)
	}

	closeLog, err := setupLogFile(args)
	if err != nil {
		log.Fatalf("Error setting up log file: %v", err)
	}
	defer closeLog()

	srv, err := server.InitServer(args)
	if err != nil {
		log.Fatalf("Error initializing server: %v", err)
	}

	if err := srv.Start(); err != nil {
		log.Fatalf("Error starting server: %v", err)
	}

	// Wait for an interrupt signal, then shut down cleanly
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	log.Printf("Received signal %v, shutting down...", sig)
	if err := srv.Stop(); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}
}

func validateArguments(args *settings.Arguments) error {
	if args.Port < 1 || args.Port > 65535 {
		return fmt.Errorf("port %d is out of range", args.Port)
	}
	if args.Storage != "mongo" && args.Storage != "memory" {
		return fmt.Errorf("unknown storage backend '%s'", args.Storage)
	}
	if args.Storage == "mongo" && args.MongoURI == "" {
		return fmt.Errorf("mongo storage requires a connection URI")
	}
	if args.CacheTTL < 0 {
		return fmt.Errorf("cache TTL cannot be negative")
	}
	return nil
}

// setupLogFile points the standard logger at a dated log file under
// LogDir, optionally mirrored to stdout. The returned function closes
// the file.
func setupLogFile(args *settings.Arguments) (func(), error) {
	if args.LogDir == "" {
		return func() {}, nil
	}

	if err := os.MkdirAll(args.LogDir, 0o755); err != nil {
		return nil, fmt.Errorf("could not create log directory %s: %w", args.LogDir, err)
	}

	name := fmt.Sprintf("tourcraft_%s.log", time.Now().Format("2006-01-02"))
	logFile, err := os.OpenFile(filepath.Join(args.LogDir, name),
		os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("could not open log file: %w", err)
	}

	if args.PrintToScreen {
		log.SetOutput(io.MultiWriter(os.Stdout, logFile))
	} else {
		log.SetOutput(logFile)
	}

	return func() { logFile.Close() }, nil
}
