package speedtest

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/robertodauria/speedtest/pkg/speedtest/payload"
	"github.com/robertodauria/speedtest/pkg/speedtest/results"
	"github.com/robertodauria/speedtest/pkg/speedtest/spec"
)

// ErrMissingProtocol is returned by Upgrade when the client did not ask
// for the speedtest subprotocol.
var ErrMissingProtocol = errors.New("missing Sec-WebSocket-Protocol header")

const closeTimeout = time.Second

// Upgrade upgrades the HTTP connection to WebSockets.
// Returns the upgraded websocket.Conn.
func Upgrade(w http.ResponseWriter, r *http.Request, checkOrigin func(*http.Request) bool) (*websocket.Conn, error) {
	if r.Header.Get("Sec-WebSocket-Protocol") != spec.SecWebSocketProtocol {
		w.WriteHeader(http.StatusBadRequest)
		return nil, ErrMissingProtocol
	}
	h := http.Header{}
	h.Add("Sec-WebSocket-Protocol", spec.SecWebSocketProtocol)
	u := websocket.Upgrader{
		CheckOrigin:     checkOrigin,
		ReadBufferSize:  spec.DefaultChunkSize,
		WriteBufferSize: spec.DefaultChunkSize,
	}
	return u.Upgrade(w, r, h)
}

// sharedChunker is implemented by Sources whose chunks are all slices of
// one immutable buffer.
type sharedChunker interface {
	SharedChunk() []byte
}

// messageWriter writes every Write as one binary message. Writes of the
// source's shared chunk reuse a message framed once.
type messageWriter struct {
	conn     *websocket.Conn
	shared   []byte
	prepared *websocket.PreparedMessage
}

func newMessageWriter(conn *websocket.Conn, src payload.Source) (*messageWriter, error) {
	mw := &messageWriter{conn: conn}
	sc, ok := src.(sharedChunker)
	if !ok {
		return mw, nil
	}
	chunk := sc.SharedChunk()
	if len(chunk) == 0 || src.Size() < int64(len(chunk)) {
		return mw, nil
	}
	pm, err := websocket.NewPreparedMessage(websocket.BinaryMessage, chunk)
	if err != nil {
		return nil, err
	}
	mw.shared, mw.prepared = chunk, pm
	return mw, nil
}

func (mw *messageWriter) isShared(p []byte) bool {
	return mw.prepared != nil && len(p) == len(mw.shared) && &p[0] == &mw.shared[0]
}

func (mw *messageWriter) Write(p []byte) (int, error) {
	var err error
	if mw.isShared(p) {
		err = mw.conn.WritePreparedMessage(mw.prepared)
	} else {
		err = mw.conn.WriteMessage(websocket.BinaryMessage, p)
	}
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

// messageReader concatenates the binary messages read from conn. A text
// message or a normal closure marks the end of the stream.
type messageReader struct {
	conn *websocket.Conn
	cur  io.Reader
}

func (mr *messageReader) Read(p []byte) (int, error) {
	for {
		if mr.cur == nil {
			kind, reader, err := mr.conn.NextReader()
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return 0, io.EOF
			}
			if err != nil {
				return 0, err
			}
			if kind == websocket.TextMessage {
				return 0, io.EOF
			}
			mr.cur = reader
		}
		n, err := mr.cur.Read(p)
		if err == io.EOF {
			mr.cur = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

// closeNormally sends a normal closure frame to the peer.
func closeNormally(conn *websocket.Conn) error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	return conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeTimeout))
}

// SendWS streams src over conn, one binary message per chunk. When the
// whole payload has been sent, the TransferResult is written as a JSON text
// message and the connection is closed normally.
//
// The caller owns conn and must close it. mchannel has the same meaning as
// in Send.
func SendWS(ctx context.Context, conn *websocket.Conn, src payload.Source,
	mchannel chan<- results.Measurement) (results.TransferResult, error) {
	mw, err := newMessageWriter(conn, src)
	if err != nil {
		if mchannel != nil {
			close(mchannel)
		}
		return results.TransferResult{}, err
	}
	result, err := Send(ctx, mw, src, conn.UnderlyingConn(), mchannel)
	if err != nil {
		return result, err
	}
	if err := conn.WriteJSON(result); err != nil {
		return result, err
	}
	return result, closeNormally(conn)
}

// ReceiveWS counts the bytes of the binary messages read from conn until
// the client sends a text message (or closes the connection normally).
// The upload response is then written as a JSON text message and the
// connection is closed normally.
//
// The caller owns conn and must close it. mchannel has the same meaning as
// in Receive.
func ReceiveWS(ctx context.Context, conn *websocket.Conn,
	mchannel chan<- results.Measurement) (results.TransferResult, error) {
	conn.SetReadLimit(spec.MaxMessageSize)
	result, err := Receive(ctx, &messageReader{conn: conn}, spec.DefaultChunkSize,
		conn.UnderlyingConn(), mchannel)
	if err != nil {
		return result, err
	}
	if err := conn.WriteJSON(results.NewUploadResponse(result)); err != nil {
		return result, err
	}
	return result, closeNormally(conn)
}
