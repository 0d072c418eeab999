package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/rtx"
	"github.com/robertodauria/speedtest/client"
	"github.com/robertodauria/speedtest/client/config"
	"go.uber.org/zap"
)

var (
	flagServer         = flag.String("server", "http://localhost:8080/api", "Base URL of the speedtest API")
	flagSize           = flag.Int("size", config.DefaultDownloadSize, "Download size in MiB")
	flagUploadDuration = flag.Duration("upload-duration", config.DefaultUploadDuration, "How long to keep uploading")
	flagTimeout        = flag.Duration("timeout", config.DefaultTimeout, "Timeout of each latency probe")
	flagPings          = flag.Int("pings", config.DefaultPings, "Number of latency probes")
	flagDuration       = flag.Duration("duration", 2*time.Minute, "Maximum duration of the whole run")
)

func main() {
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "Could not parse env args")

	logger, err := zap.NewDevelopment()
	rtx.Must(err, "Could not create logger")
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	cfg := config.New(*flagTimeout, *flagSize, *flagUploadDuration)
	cfg.Pings = *flagPings
	c := client.NewWithConfig(*flagServer, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *flagDuration)
	defer cancel()

	summary, err := c.Run(ctx)
	rtx.Must(err, "Speedtest failed")
	zap.L().Sugar().Infow("Speedtest completed",
		"ping_ms", summary.Ping,
		"jitter_ms", summary.Jitter,
		"download_mbps", summary.Download,
		"upload_mbps", summary.Upload,
	)
}
