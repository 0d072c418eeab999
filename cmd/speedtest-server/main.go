package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"
	"github.com/robertodauria/speedtest/internal/congestion"
	"github.com/robertodauria/speedtest/internal/handler"
	"github.com/robertodauria/speedtest/internal/netx"
	"github.com/robertodauria/speedtest/pkg/speedtest/payload"
	"github.com/robertodauria/speedtest/pkg/speedtest/spec"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	flagEndpoint     = flag.String("listen", ":8080", "Listen address/port for speedtest connections")
	flagPrefix       = flag.String("path-prefix", spec.DefaultPrefix, "Path prefix of every endpoint")
	flagChunkSize    = flag.Int("chunk-size", spec.DefaultChunkSize, "Size in bytes of each payload chunk")
	flagPayload      = flag.String("payload", string(payload.PolicyZero), "Payload content: zero, random or stream")
	flagDefaultSize  = flag.Int64("default-size", spec.DefaultSize, "Download size (MiB) used when the client asks for none")
	flagMaxSize      = flag.Int64("max-size", spec.MaxSize, "Largest download size (MiB)")
	flagCC           = flag.String("congestion-control", "", "TCP congestion control algorithm (e.g. bbr); empty keeps the system default")
	flagLogLevel     = zap.LevelFlag("log-level", zapcore.InfoLevel, "Log level")
	flagDevelopment  = flag.Bool("log-development", false, "Use human-friendly log output")
	flagCredentials  = flag.Bool("allow-credentials", true, "Allow credentialed cross-origin requests")
	flagShutdownWait = flag.Duration("shutdown-timeout", 30*time.Second, "How long to wait for in-flight tests on shutdown")

	flagSizes          = flagx.StringArray{}
	flagAllowedOrigins = flagx.StringArray{}

	// Context for the whole program. Tests cancel it to stop the server.
	ctx, cancel = context.WithCancel(context.Background())
)

func init() {
	flag.Var(&flagSizes, "sizes", "Supported download sizes in MiB (comma separated, may be repeated)")
	flag.Var(&flagAllowedOrigins, "allowed-origins", "Origins allowed to call the API (comma separated, may be repeated); * allows all")
}

func newLogger() *zap.Logger {
	cfg := zap.NewProductionConfig()
	if *flagDevelopment {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(*flagLogLevel)
	logger, err := cfg.Build()
	rtx.Must(err, "Could not create logger")
	return logger
}

func main() {
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "Could not parse env args")

	logger := newLogger()
	defer logger.Sync()
	undo := zap.ReplaceGlobals(logger)
	defer undo()

	sizes, err := payload.ParseSizes(flagSizes)
	rtx.Must(err, "Invalid -sizes")
	if len(sizes) == 0 {
		sizes = spec.DefaultSupportedSizes
	}
	catalog, err := payload.NewCatalog(sizes, *flagDefaultSize, *flagMaxSize)
	rtx.Must(err, "Invalid download sizes")
	policy, err := payload.ParsePolicy(*flagPayload)
	rtx.Must(err, "Invalid -payload")
	generator, err := payload.NewGenerator(policy, *flagChunkSize)
	rtx.Must(err, "Could not create the payload generator")

	promServer := prometheusx.MustServeMetrics()
	defer promServer.Close()

	cors := handler.NewCORS(flagAllowedOrigins, *flagCredentials)
	h := handler.New(generator, catalog, handler.OriginChecker(cors))
	mux := http.NewServeMux()
	h.Register(mux, *flagPrefix)

	lc := net.ListenConfig{Control: congestion.ListenControl(*flagCC)}
	ln, err := lc.Listen(ctx, "tcp", *flagEndpoint)
	rtx.Must(err, "Could not listen on %s", *flagEndpoint)

	server := &http.Server{
		Handler:           cors.Handler(mux),
		ConnContext:       netx.ConnContext,
		ReadHeaderTimeout: 10 * time.Second,
	}
	zap.L().Sugar().Infow("About to listen for speedtest tests",
		"addr", ln.Addr().String(),
		"prefix", *flagPrefix,
		"sizes", catalog.Supported(),
		"default_size", catalog.Default(),
		"chunk_size", generator.ChunkSize(),
		"payload", generator.Policy(),
		"origins", []string(flagAllowedOrigins),
		"congestion_control", *flagCC,
	)
	go func() {
		err := server.Serve(ln)
		if err != http.ErrServerClosed {
			rtx.Must(err, "Could not start speedtest server")
		}
	}()

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	zap.L().Sugar().Info("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), *flagShutdownWait)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zap.L().Sugar().Warnw("Shutdown did not complete", "error", err)
	}
}
