package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/m-lab/go/warnonerror"
	"github.com/robertodauria/speedtest/internal/metrics"
	"github.com/robertodauria/speedtest/internal/netx"
	"github.com/robertodauria/speedtest/pkg/speedtest"
	"github.com/robertodauria/speedtest/pkg/speedtest/payload"
	"github.com/robertodauria/speedtest/pkg/speedtest/results"
	"github.com/robertodauria/speedtest/pkg/speedtest/spec"
	"go.uber.org/zap"
)

// Handler handles the speedtest subtests. It holds no per-request state.
type Handler struct {
	generator   *payload.Generator
	catalog     *payload.Catalog
	checkOrigin func(*http.Request) bool
	newSource   func(size int64) payload.Source
}

// New creates a new Handler. checkOrigin decides which origins may open
// WebSocket subtests; nil allows every origin.
func New(generator *payload.Generator, catalog *payload.Catalog,
	checkOrigin func(*http.Request) bool) *Handler {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Handler{
		generator:   generator,
		catalog:     catalog,
		checkOrigin: checkOrigin,
		newSource:   generator.New,
	}
}

// cleanPrefix returns prefix with exactly one leading slash and no
// trailing one. The root prefix is the empty string.
func cleanPrefix(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return ""
	}
	return "/" + prefix
}

// Register adds the speedtest endpoints to mux under prefix.
func (h *Handler) Register(mux *http.ServeMux, prefix string) {
	prefix = cleanPrefix(prefix)
	if prefix != "" {
		mux.HandleFunc("GET "+prefix, h.Root)
	}
	mux.HandleFunc("GET "+prefix+"/{$}", h.Root)
	mux.HandleFunc("GET "+prefix+spec.PingPath, h.Ping)
	mux.HandleFunc("GET "+prefix+spec.DownloadPath, h.Download)
	mux.HandleFunc("POST "+prefix+spec.UploadPath, h.Upload)
	mux.HandleFunc("GET "+prefix+spec.WSDownloadPath, h.DownloadWS)
	mux.HandleFunc("GET "+prefix+spec.WSUploadPath, h.UploadWS)
}

// setNoCache forbids caching and transformation of the response.
func setNoCache(hdr http.Header) {
	hdr.Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	hdr.Set("Pragma", "no-cache")
	hdr.Set("X-Content-Type-Options", "nosniff")
}

// writeJSON sends v as the JSON body of a 200 response.
func writeJSON(rw http.ResponseWriter, v interface{}) error {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(http.StatusOK)
	return json.NewEncoder(rw).Encode(v)
}

// Root identifies the service.
func (h *Handler) Root(rw http.ResponseWriter, req *http.Request) {
	writeJSON(rw, results.RootResponse{Message: spec.RootMessage})
}

// Ping handles the latency probe: it replies with the current server time
// and does nothing else.
func (h *Handler) Ping(rw http.ResponseWriter, req *http.Request) {
	rw.Header().Set("Cache-Control", "no-store")
	writeJSON(rw, results.PingResponse{T: results.NowMillis()})
	metrics.RequestsTotal.WithLabelValues(string(spec.SubtestPing), metrics.StatusOK).Inc()
}

// Download handles the download subtest.
func (h *Handler) Download(rw http.ResponseWriter, req *http.Request) {
	size := h.catalog.Resolve(req.URL.Query().Get(spec.SizeParameter))
	logger := requestLogger(req, spec.SubtestDownload)

	hdr := rw.Header()
	setNoCache(hdr)
	hdr.Set("Content-Type", spec.ContentTypeData)
	hdr.Set("Content-Length", strconv.FormatInt(size, 10))
	rw.WriteHeader(http.StatusOK)
	if req.Method == http.MethodHead {
		return
	}

	logger.Debugw("Starting download", "size", size, "policy", h.generator.Policy())
	done := track(spec.SubtestDownload)
	result, err := speedtest.Send(req.Context(), rw, h.newSource(size),
		netx.FromContext(req.Context()), measurementChannel(logger))
	done(result, err)

	switch {
	case err == nil:
		logger.Debugw("Download completed", "bytes", result.Bytes,
			"elapsed_ms", result.ElapsedMillis)
	case errors.Is(err, speedtest.ErrPayload):
		logger.Errorw("Download aborted", "bytes", result.Bytes, "error", err)
		// Tear down the connection so that the client observes a short body.
		panic(http.ErrAbortHandler)
	case speedtest.IsDisconnect(err):
		logger.Infow("Client disconnected during download", "bytes", result.Bytes,
			"size", size, "error", err)
	default:
		logger.Warnw("Download failed", "bytes", result.Bytes, "error", err)
	}
}

// Upload handles the upload subtest.
func (h *Handler) Upload(rw http.ResponseWriter, req *http.Request) {
	logger := requestLogger(req, spec.SubtestUpload)
	logger.Debugw("Starting upload", "content_length", req.ContentLength)

	done := track(spec.SubtestUpload)
	result, err := speedtest.Receive(req.Context(), req.Body, h.generator.ChunkSize(),
		netx.FromContext(req.Context()), measurementChannel(logger))
	done(result, err)

	switch {
	case err == nil:
		logger.Debugw("Upload completed", "bytes", result.Bytes,
			"elapsed_ms", result.ElapsedMillis)
	case speedtest.IsDisconnect(err):
		logger.Infow("Client disconnected during upload", "bytes", result.Bytes, "error", err)
	default:
		logger.Warnw("Upload failed", "bytes", result.Bytes, "error", err)
	}

	// The response is sent even for a truncated body, in case the client
	// is still there to read it.
	setNoCache(rw.Header())
	if err := writeJSON(rw, results.NewUploadResponse(result)); err != nil {
		logger.Debugw("Cannot send upload response", "error", err)
	}
}

// DownloadWS handles the download subtest over WebSocket.
func (h *Handler) DownloadWS(rw http.ResponseWriter, req *http.Request) {
	size := h.catalog.Resolve(req.URL.Query().Get(spec.SizeParameter))
	h.runWebSocket(spec.SubtestDownload, rw, req,
		func(ctx context.Context, conn *websocket.Conn, m chan<- results.Measurement) (results.TransferResult, error) {
			return speedtest.SendWS(ctx, conn, h.newSource(size), m)
		})
}

// UploadWS handles the upload subtest over WebSocket.
func (h *Handler) UploadWS(rw http.ResponseWriter, req *http.Request) {
	h.runWebSocket(spec.SubtestUpload, rw, req, speedtest.ReceiveWS)
}

type wsSubtest func(context.Context, *websocket.Conn, chan<- results.Measurement) (results.TransferResult, error)

func (h *Handler) runWebSocket(kind spec.SubtestKind, rw http.ResponseWriter,
	req *http.Request, run wsSubtest) {
	logger := requestLogger(req, kind)

	// Upgrade connection to websocket.
	logger.Debugw("Upgrading connection to websocket", "headers", req.Header)
	conn, err := speedtest.Upgrade(rw, req, h.checkOrigin)
	if err != nil {
		logger.Infow("Websocket upgrade failed", "error", err)
		metrics.RequestsTotal.WithLabelValues(string(kind), metrics.StatusError).Inc()
		return
	}

	// Make sure the connection is closed after (at most) MaxRuntime, or as
	// soon as the subtest returns.
	ctx, cancel := context.WithTimeout(req.Context(), spec.MaxRuntime)
	defer cancel()
	go func() {
		<-ctx.Done()
		warnonerror.Close(conn, string(kind)+": ignoring conn.Close error")
	}()

	done := track(kind)
	result, err := run(ctx, conn, measurementChannel(logger))
	done(result, err)
	switch {
	case err == nil:
		logger.Debugw("Websocket subtest completed", "bytes", result.Bytes,
			"elapsed_ms", result.ElapsedMillis)
	case speedtest.IsDisconnect(err):
		logger.Infow("Client disconnected during websocket subtest", "bytes", result.Bytes,
			"error", err)
	default:
		logger.Warnw("Websocket subtest failed", "bytes", result.Bytes, "error", err)
	}
}

// requestLogger returns a logger tagging every line with the ID of the
// TCP flow carrying req.
func requestLogger(req *http.Request, kind spec.SubtestKind) *zap.SugaredLogger {
	return zap.L().Sugar().With(
		"uuid", netx.FlowID(netx.FromContext(req.Context())),
		"subtest", kind,
		"client", req.RemoteAddr,
	)
}

// measurementChannel returns a channel draining measurements into debug
// logs, or nil when debug logging is disabled so that no sampling happens.
func measurementChannel(logger *zap.SugaredLogger) chan<- results.Measurement {
	if !logger.Desugar().Core().Enabled(zap.DebugLevel) {
		return nil
	}
	// The sender will not block on this channel.
	measurements := make(chan results.Measurement, 64)
	go func() {
		for m := range measurements {
			logger.Debugw("Measurement", "origin", m.Origin,
				"bytes", m.AppInfo.NumBytes, "elapsed_us", m.AppInfo.ElapsedTime,
				"tcpinfo", m.TCPInfo)
		}
	}()
	return measurements
}

// track accounts for a transfer in the metrics. The returned function must
// be called when the transfer ends.
func track(kind spec.SubtestKind) func(results.TransferResult, error) {
	label := string(kind)
	metrics.ActiveTransfers.WithLabelValues(label).Inc()
	return func(result results.TransferResult, err error) {
		metrics.ActiveTransfers.WithLabelValues(label).Dec()
		status := metrics.StatusOK
		switch {
		case err == nil:
		case speedtest.IsDisconnect(err):
			status = metrics.StatusDisconnect
		default:
			status = metrics.StatusError
		}
		metrics.RequestsTotal.WithLabelValues(label, status).Inc()
		metrics.BytesTotal.WithLabelValues(label).Add(float64(result.Bytes))
		metrics.TransferDuration.WithLabelValues(label).Observe(result.ElapsedMillis / 1000)
	}
}
