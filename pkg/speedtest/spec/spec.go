// Package spec contains constants for the speedtest protocol.
package spec

import "time"

const (
	// MiB is the unit of the size query parameter.
	MiB = 1 << 20

	// DefaultChunkSize is the size of a single payload chunk. Downloads are
	// written, and uploads are read, one chunk at a time.
	DefaultChunkSize = 1 * MiB

	// DefaultSize is the download size (in MiB) used when the client does
	// not ask for a valid one.
	DefaultSize = 50

	// MaxSize is the largest download size (in MiB) ever served.
	MaxSize = 100

	// MinMeasureInterval is the minimum interval between subsequent measurements.
	MinMeasureInterval = 100 * time.Millisecond

	// AvgMeasureInterval is the average interval between subsequent measurements.
	AvgMeasureInterval = 250 * time.Millisecond

	// MaxMeasureInterval is the maximum interval between subsequent measurements.
	MaxMeasureInterval = 400 * time.Millisecond

	// DefaultPrefix is the path prefix of every endpoint.
	DefaultPrefix = "/api"

	RootPath        = "/"
	PingPath        = "/ping"
	DownloadPath    = "/download"
	UploadPath      = "/upload"
	WSDownloadPath  = "/ws/download"
	WSUploadPath    = "/ws/upload"
	SizeParameter   = "size"
	RootMessage     = "SpeedTest API"
	ContentTypeData = "application/octet-stream"

	// SecWebSocketProtocol is the value of the Sec-WebSocket-Protocol header.
	SecWebSocketProtocol = "net.speedtest.v1"

	// MaxMessageSize is the largest WebSocket message accepted during an
	// upload subtest.
	MaxMessageSize = 1 << 24

	// MaxRuntime is the maximum runtime of a WebSocket subtest.
	MaxRuntime = 60 * time.Second
)

// DefaultSupportedSizes are the download sizes (in MiB) a client may request.
var DefaultSupportedSizes = []int64{1, 5, 10, 25, 50, 100}

// SubtestKind indicates the subtest kind
type SubtestKind string

const (
	// SubtestDownload is a download subtest
	SubtestDownload = SubtestKind("download")

	// SubtestUpload is a upload subtest
	SubtestUpload = SubtestKind("upload")

	// SubtestPing is a latency probe
	SubtestPing = SubtestKind("ping")

	// SubtestJitter is the variation between consecutive latency probes
	SubtestJitter = SubtestKind("jitter")
)
