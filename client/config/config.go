package config

import "time"

const (
	DefaultTimeout         = 10 * time.Second
	DefaultPings           = 5
	DefaultPingInterval    = 100 * time.Millisecond
	DefaultDownloadSize    = 100
	DefaultUploadChunkSize = 2 << 20
	DefaultUploadDuration  = 5 * time.Second
	DefaultSampleInterval  = 200 * time.Millisecond
)

type ClientConfig struct {
	// The Timeout of a single latency probe.
	Timeout time.Duration

	// The number of latency probes and the delay between them.
	Pings        int
	PingInterval time.Duration

	// The size of the download, in MiB.
	DownloadSize int

	// The body size of each upload request and how long to keep uploading.
	UploadChunkSize int
	UploadDuration  time.Duration

	// How often progress is reported while transferring.
	SampleInterval time.Duration
}

func New(timeout time.Duration, downloadSize int, uploadDuration time.Duration) *ClientConfig {
	return &ClientConfig{
		Timeout:         timeout,
		Pings:           DefaultPings,
		PingInterval:    DefaultPingInterval,
		DownloadSize:    downloadSize,
		UploadChunkSize: DefaultUploadChunkSize,
		UploadDuration:  uploadDuration,
		SampleInterval:  DefaultSampleInterval,
	}
}

func NewDefault() *ClientConfig {
	return New(DefaultTimeout, DefaultDownloadSize, DefaultUploadDuration)
}
