// Package client runs speedtest measurements against a speedtest server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/m-lab/go/warnonerror"
	"github.com/robertodauria/speedtest/client/config"
	"github.com/robertodauria/speedtest/client/emitter"
	"github.com/robertodauria/speedtest/pkg/speedtest/results"
	"github.com/robertodauria/speedtest/pkg/speedtest/spec"
)

var errUnexpectedStatus = errors.New("unexpected HTTP status")

// Summary holds the results of a full run.
type Summary struct {
	// Ping and Jitter are in milliseconds.
	Ping   float64
	Jitter float64
	// Download and Upload are in Mb/s.
	Download float64
	Upload   float64
}

type Client struct {
	httpClient *http.Client
	endpoint   string
	config     *config.ClientConfig
	emitter    emitter.Emitter
}

// New returns a Client for the server at endpoint, e.g.
// "http://localhost:8080/api".
func New(endpoint string) *Client {
	return NewWithConfig(endpoint, config.NewDefault())
}

func NewWithConfig(endpoint string, config *config.ClientConfig) *Client {
	return &Client{
		httpClient: &http.Client{
			// Compression would change the number of bytes on the wire.
			Transport: &http.Transport{DisableCompression: true},
		},
		endpoint: strings.TrimSuffix(endpoint, "/"),
		config:   config,
		emitter:  &emitter.LogEmitter{},
	}
}

// WithEmitter replaces the emitter receiving progress notifications.
func (c *Client) WithEmitter(e emitter.Emitter) *Client {
	c.emitter = e
	return c
}

// Run measures latency, jitter, download and upload in this order.
func (c *Client) Run(ctx context.Context) (*Summary, error) {
	s := &Summary{}
	var err error
	if s.Ping, s.Jitter, err = c.Latency(ctx); err != nil {
		return s, err
	}
	if s.Download, err = c.Download(ctx); err != nil {
		return s, err
	}
	if s.Upload, err = c.Upload(ctx); err != nil {
		return s, err
	}
	return s, nil
}

// url returns the URL of path with a cache-busting query parameter.
func (c *Client) url(path string, query string) string {
	u := c.endpoint + path + "?_=" + strconv.FormatInt(time.Now().UnixNano(), 10)
	if query != "" {
		u += "&" + query
	}
	return u
}

// Ping sends a single latency probe and returns the round-trip time.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(spec.PingPath, ""), nil)
	if err != nil {
		return 0, err
	}
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer warnonerror.Close(resp.Body, "ping: ignoring resp.Body.Close error")
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: %s", errUnexpectedStatus, resp.Status)
	}
	var pr results.PingResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// Latency sends config.Pings probes and returns the ping, as the mean RTT
// without the fastest and slowest probes, and the jitter, as the mean
// difference between consecutive RTTs. Both are in milliseconds.
func (c *Client) Latency(ctx context.Context) (float64, float64, error) {
	c.emitter.OnStart(spec.SubtestPing)
	var rtts []float64
	for i := 0; i < c.config.Pings; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				c.emitter.OnError(spec.SubtestPing, ctx.Err())
				return 0, 0, ctx.Err()
			case <-time.After(c.config.PingInterval):
			}
		}
		rtt, err := c.Ping(ctx)
		if err != nil {
			c.emitter.OnError(spec.SubtestPing, err)
			return 0, 0, err
		}
		rtts = append(rtts, float64(rtt.Microseconds())/1000)
	}
	ping, jitter := Ping(rtts), Jitter(rtts)
	c.emitter.OnResult(spec.SubtestPing, ping)
	c.emitter.OnResult(spec.SubtestJitter, jitter)
	c.emitter.OnComplete(spec.SubtestPing)
	return ping, jitter, nil
}

// Ping returns the mean of rtts, leaving out the smallest and the largest
// value when there are more than two.
func Ping(rtts []float64) float64 {
	if len(rtts) == 0 {
		return 0
	}
	sorted := append([]float64(nil), rtts...)
	sort.Float64s(sorted)
	if len(sorted) > 2 {
		sorted = sorted[1 : len(sorted)-1]
	}
	var sum float64
	for _, v := range sorted {
		sum += v
	}
	return sum / float64(len(sorted))
}

// Jitter returns the mean absolute difference between consecutive rtts.
func Jitter(rtts []float64) float64 {
	if len(rtts) < 2 {
		return 0
	}
	var sum float64
	for i := 1; i < len(rtts); i++ {
		d := rtts[i] - rtts[i-1]
		if d < 0 {
			d = -d
		}
		sum += d
	}
	return sum / float64(len(rtts)-1)
}

// Mbps converts numBytes transferred in elapsed to megabits per second.
func Mbps(numBytes int64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(numBytes) * 8 / elapsed.Seconds() / 1e6
}

// Download downloads config.DownloadSize MiB and returns the throughput in
// Mb/s. Progress is reported every config.SampleInterval.
func (c *Client) Download(ctx context.Context) (float64, error) {
	c.emitter.OnStart(spec.SubtestDownload)
	numBytes, elapsed, err := c.download(ctx)
	if err != nil {
		c.emitter.OnError(spec.SubtestDownload, err)
		return 0, err
	}
	rate := Mbps(numBytes, elapsed)
	c.emitter.OnResult(spec.SubtestDownload, rate)
	c.emitter.OnComplete(spec.SubtestDownload)
	return rate, nil
}

func (c *Client) download(ctx context.Context) (int64, time.Duration, error) {
	query := spec.SizeParameter + "=" + strconv.Itoa(c.config.DownloadSize)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(spec.DownloadPath, query), nil)
	if err != nil {
		return 0, 0, err
	}
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer warnonerror.Close(resp.Body, "download: ignoring resp.Body.Close error")
	if resp.StatusCode != http.StatusOK {
		return 0, 0, fmt.Errorf("%w: %s", errUnexpectedStatus, resp.Status)
	}

	var numBytes int64
	progress := c.newSampler(spec.SubtestDownload, "receiver", start)
	buf := make([]byte, 64<<10)
	for {
		n, err := resp.Body.Read(buf)
		numBytes += int64(n)
		progress.observe(numBytes, time.Now())
		if err == io.EOF {
			break
		}
		if err != nil {
			return numBytes, time.Since(start), err
		}
	}
	elapsed := time.Since(start)
	if resp.ContentLength >= 0 && numBytes != resp.ContentLength {
		return numBytes, elapsed, fmt.Errorf("short download: %d of %d bytes",
			numBytes, resp.ContentLength)
	}
	return numBytes, elapsed, nil
}

// Upload posts bodies of config.UploadChunkSize bytes for
// config.UploadDuration and returns the throughput in Mb/s, computed from
// the byte counts reported by the server.
func (c *Client) Upload(ctx context.Context) (float64, error) {
	c.emitter.OnStart(spec.SubtestUpload)
	numBytes, elapsed, err := c.upload(ctx)
	if err != nil {
		c.emitter.OnError(spec.SubtestUpload, err)
		return 0, err
	}
	rate := Mbps(numBytes, elapsed)
	c.emitter.OnResult(spec.SubtestUpload, rate)
	c.emitter.OnComplete(spec.SubtestUpload)
	return rate, nil
}

func (c *Client) upload(ctx context.Context) (int64, time.Duration, error) {
	chunk := make([]byte, c.config.UploadChunkSize)
	start := time.Now()
	progress := c.newSampler(spec.SubtestUpload, "sender", start)
	var numBytes int64
	for time.Since(start) < c.config.UploadDuration {
		n, err := c.post(ctx, chunk)
		if err != nil {
			return numBytes, time.Since(start), err
		}
		numBytes += n
		progress.observe(numBytes, time.Now())
	}
	return numBytes, time.Since(start), nil
}

// post uploads body and returns the number of bytes the server received.
func (c *Client) post(ctx context.Context, body []byte) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(spec.UploadPath, ""),
		bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", spec.ContentTypeData)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer warnonerror.Close(resp.Body, "upload: ignoring resp.Body.Close error")
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: %s", errUnexpectedStatus, resp.Status)
	}
	var ur results.UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&ur); err != nil {
		return 0, err
	}
	return ur.Bytes, nil
}

func measurement(numBytes int64, elapsed time.Duration, origin string) results.Measurement {
	return results.Measurement{
		AppInfo: &results.AppInfo{
			NumBytes:    numBytes,
			ElapsedTime: elapsed.Microseconds(),
		},
		Origin: origin,
	}
}

// sampler reports the progress of a transfer at most once per interval.
// The speed it reports covers the last interval only.
type sampler struct {
	kind      spec.SubtestKind
	origin    string
	interval  time.Duration
	emitter   emitter.Emitter
	start     time.Time
	last      time.Time
	lastBytes int64
}

func (c *Client) newSampler(kind spec.SubtestKind, origin string, start time.Time) *sampler {
	return &sampler{
		kind:     kind,
		origin:   origin,
		interval: c.config.SampleInterval,
		emitter:  c.emitter,
		start:    start,
		last:     start,
	}
}

func (s *sampler) observe(numBytes int64, now time.Time) {
	if now.Sub(s.last) < s.interval {
		return
	}
	s.emitter.OnMeasurement(s.kind, measurement(numBytes, now.Sub(s.start), s.origin))
	s.emitter.OnSpeed(s.kind, Mbps(numBytes-s.lastBytes, now.Sub(s.last)))
	s.last, s.lastBytes = now, numBytes
}
