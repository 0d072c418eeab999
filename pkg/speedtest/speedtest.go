// Package speedtest implements the data plane of the speedtest protocol:
// streaming a payload to a client and accounting for the bytes a client
// uploads.
package speedtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/m-lab/go/memoryless"
	"github.com/robertodauria/speedtest/internal/tcpinfox"
	"github.com/robertodauria/speedtest/pkg/speedtest/payload"
	"github.com/robertodauria/speedtest/pkg/speedtest/results"
	"github.com/robertodauria/speedtest/pkg/speedtest/spec"
)

// ErrPayload wraps failures of the payload generator. They abort the
// transfer they happen in and nothing else.
var ErrPayload = errors.New("payload generation failed")

// IsDisconnect reports whether err means the peer went away, as opposed to
// a failure on our side.
func IsDisconnect(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, http.ErrAbortHandler) ||
		errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	var ce *websocket.CloseError
	return errors.As(err, &ce)
}

// newTicker returns the channel measurements are collected on, or nil when
// nobody is listening for them.
func newTicker(ctx context.Context, mchannel chan<- results.Measurement) (<-chan time.Time, func(), error) {
	if mchannel == nil {
		return nil, func() {}, nil
	}
	ticker, err := memoryless.NewTicker(ctx, memoryless.Config{
		Min:      spec.MinMeasureInterval,
		Expected: spec.AvgMeasureInterval,
		Max:      spec.MaxMeasureInterval,
	})
	if err != nil {
		return nil, nil, err
	}
	// The ticker only delivers to a receiver that is already waiting, while
	// Send and Receive poll between I/O calls. Keep the latest tick around
	// until they look for it. The goroutine exits once Stop closes ticker.C.
	tick := make(chan time.Time, 1)
	go func() {
		for t := range ticker.C {
			select {
			case tick <- t:
			default:
			}
		}
	}()
	return tick, ticker.Stop, nil
}

// measure builds a Measurement and sends it over mchannel if possible. It
// never blocks.
func measure(conn net.Conn, mchannel chan<- results.Measurement, origin string,
	numBytes int64, start time.Time) {
	elapsed := time.Since(start).Microseconds()
	m := results.Measurement{
		AppInfo: &results.AppInfo{
			NumBytes:    numBytes,
			ElapsedTime: elapsed,
		},
		Origin: origin,
	}
	if conn != nil {
		// TCP_INFO is best effort: not every transport exposes a socket.
		if info, err := tcpinfox.GetTCPInfo(conn); err == nil {
			info.ElapsedTime = elapsed
			m.TCPInfo = info
		}
	}
	select {
	case mchannel <- m:
	default:
		// discard message
	}
}

// Send writes every chunk of src to w, in order, and returns the number of
// bytes written together with the time it took.
//
// Each write blocks until the transport accepts the chunk, so production
// never runs ahead of the receiver. The context is checked before every
// chunk: once it is canceled (e.g., the client disconnected) no further
// chunk is generated.
//
// If mchannel is not nil, progress measurements are sent over it at
// random intervals without blocking, and it is closed when Send returns.
// conn, if not nil, is the connection carrying w and is used to attach
// TCP_INFO samples to measurements.
func Send(ctx context.Context, w io.Writer, src payload.Source, conn net.Conn,
	mchannel chan<- results.Measurement) (results.TransferResult, error) {
	if mchannel != nil {
		defer close(mchannel)
	}
	start := time.Now()
	var numBytes int64
	tick, stop, err := newTicker(ctx, mchannel)
	if err != nil {
		return results.NewTransferResult(0, 0), err
	}
	defer stop()

	for {
		if err := ctx.Err(); err != nil {
			return results.NewTransferResult(numBytes, time.Since(start)), err
		}
		chunk, err := src.Next()
		if err == io.EOF {
			return results.NewTransferResult(numBytes, time.Since(start)), nil
		}
		if err != nil {
			return results.NewTransferResult(numBytes, time.Since(start)),
				fmt.Errorf("%w: %w", ErrPayload, err)
		}
		n, err := w.Write(chunk)
		numBytes += int64(n)
		if err != nil {
			return results.NewTransferResult(numBytes, time.Since(start)), err
		}

		select {
		case <-tick:
			measure(conn, mchannel, "sender", numBytes, start)
		default:
			// NOTHING
		}
	}
}

// Receive reads r until end-of-stream, keeping only a running count of the
// bytes read. A single buffer of bufSize bytes is reused for every read,
// so memory use does not depend on the size of the body.
//
// Timing starts when Receive is called and stops at end-of-stream. If the
// stream is truncated, the partial count is returned along with the
// transport's error.
//
// mchannel and conn have the same meaning as in Send.
func Receive(ctx context.Context, r io.Reader, bufSize int, conn net.Conn,
	mchannel chan<- results.Measurement) (results.TransferResult, error) {
	if mchannel != nil {
		defer close(mchannel)
	}
	if bufSize <= 0 {
		bufSize = spec.DefaultChunkSize
	}
	start := time.Now()
	var numBytes int64
	tick, stop, err := newTicker(ctx, mchannel)
	if err != nil {
		return results.NewTransferResult(0, 0), err
	}
	defer stop()

	buf := make([]byte, bufSize)
	for {
		if err := ctx.Err(); err != nil {
			return results.NewTransferResult(numBytes, time.Since(start)), err
		}
		n, err := r.Read(buf)
		numBytes += int64(n)
		if err == io.EOF {
			return results.NewTransferResult(numBytes, time.Since(start)), nil
		}
		if err != nil {
			return results.NewTransferResult(numBytes, time.Since(start)), err
		}

		select {
		case <-tick:
			measure(conn, mchannel, "receiver", numBytes, start)
		default:
			// NOTHING
		}
	}
}
