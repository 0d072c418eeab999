package results

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/m-lab/go/testingx"
)

func TestNewTransferResult(t *testing.T) {
	before := NowMillis()
	r := NewTransferResult(5242880, 1500*time.Microsecond)
	if r.Bytes != 5242880 {
		t.Errorf("Bytes = %d, want 5242880", r.Bytes)
	}
	if r.ElapsedMillis != 1.5 {
		t.Errorf("ElapsedMillis = %f, want 1.5", r.ElapsedMillis)
	}
	if r.TimestampMillis < before {
		t.Errorf("TimestampMillis = %f is before %f", r.TimestampMillis, before)
	}
}

func TestUploadResponse_Wire(t *testing.T) {
	r := TransferResult{Bytes: 5242880, ElapsedMillis: 12.5, TimestampMillis: 1700000000000.25}
	b, err := json.Marshal(NewUploadResponse(r))
	testingx.Must(t, err, "cannot marshal")
	want := `{"bytes":5242880,"t":1700000000000.25,"elapsed":12.5}`
	if string(b) != want {
		t.Errorf("upload response = %s, want %s", b, want)
	}

	b, err = json.Marshal(PingResponse{T: 42.5})
	testingx.Must(t, err, "cannot marshal")
	if string(b) != `{"t":42.5}` {
		t.Errorf("ping response = %s", b)
	}
}
