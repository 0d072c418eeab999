// Package results contains the data types produced by speedtest transfers.
package results

import "time"

// TransferResult is the outcome of a single download or upload. It is
// computed when the transfer ends and is not retained afterwards.
type TransferResult struct {
	// Bytes is the number of payload bytes transferred.
	Bytes int64
	// ElapsedMillis is the time spent transferring, in milliseconds.
	ElapsedMillis float64
	// TimestampMillis is the capture time, in milliseconds since the epoch.
	TimestampMillis float64
}

// NewTransferResult returns a TransferResult for numBytes transferred in
// elapsed, captured now.
func NewTransferResult(numBytes int64, elapsed time.Duration) TransferResult {
	return TransferResult{
		Bytes:           numBytes,
		ElapsedMillis:   float64(elapsed.Microseconds()) / 1000,
		TimestampMillis: NowMillis(),
	}
}

// NowMillis returns the current time in milliseconds since the epoch, with
// sub-millisecond precision.
func NowMillis() float64 {
	return float64(time.Now().UnixMicro()) / 1000
}

// AppInfo contains an application level measurement.
type AppInfo struct {
	NumBytes int64
	// ElapsedTime is in microseconds.
	ElapsedTime int64
}

// TCPInfo contains the subset of the kernel's TCP_INFO that is useful to
// interpret a throughput sample. Times are in microseconds.
type TCPInfo struct {
	RTT          uint32
	RTTVar       uint32
	SndCwnd      uint32
	TotalRetrans uint32
	BytesAcked   uint64
	ElapsedTime  int64
}

// Measurement is a progress sample taken while a transfer is running.
type Measurement struct {
	AppInfo *AppInfo `json:",omitempty"`
	TCPInfo *TCPInfo `json:",omitempty"`
	// Origin is either "sender" or "receiver".
	Origin string `json:",omitempty"`
}

// PingResponse is the body of a latency probe response.
type PingResponse struct {
	T float64 `json:"t"`
}

// UploadResponse is the body of an upload response.
type UploadResponse struct {
	Bytes   int64   `json:"bytes"`
	T       float64 `json:"t"`
	Elapsed float64 `json:"elapsed"`
}

// RootResponse is the body of the root endpoint response.
type RootResponse struct {
	Message string `json:"message"`
}

// NewUploadResponse converts a TransferResult to its wire representation.
func NewUploadResponse(r TransferResult) UploadResponse {
	return UploadResponse{
		Bytes:   r.Bytes,
		T:       r.TimestampMillis,
		Elapsed: r.ElapsedMillis,
	}
}
