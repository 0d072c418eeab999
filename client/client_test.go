package client

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/m-lab/go/testingx"
	"github.com/robertodauria/speedtest/client/config"
	"github.com/robertodauria/speedtest/internal/handler"
	"github.com/robertodauria/speedtest/pkg/speedtest/payload"
	"github.com/robertodauria/speedtest/pkg/speedtest/results"
	"github.com/robertodauria/speedtest/pkg/speedtest/spec"
)

// recorder is an emitter.Emitter keeping every notification.
type recorder struct {
	mu           sync.Mutex
	started      []spec.SubtestKind
	completed    []spec.SubtestKind
	results      map[spec.SubtestKind]float64
	measurements int
	speeds       []float64
	errors       []error
}

func (r *recorder) OnStart(kind spec.SubtestKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, kind)
}

func (r *recorder) OnMeasurement(spec.SubtestKind, results.Measurement) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.measurements++
}

func (r *recorder) OnSpeed(_ spec.SubtestKind, mbps float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.speeds = append(r.speeds, mbps)
}

func (r *recorder) OnResult(kind spec.SubtestKind, v float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.results == nil {
		r.results = map[spec.SubtestKind]float64{}
	}
	r.results[kind] = v
}

func (r *recorder) OnError(kind spec.SubtestKind, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, err)
}

func (r *recorder) OnComplete(kind spec.SubtestKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, kind)
}

func newServer(t *testing.T) *httptest.Server {
	g, err := payload.NewGenerator(payload.PolicyStream, spec.DefaultChunkSize)
	testingx.Must(t, err, "cannot create generator")
	c, err := payload.NewCatalog(spec.DefaultSupportedSizes, spec.DefaultSize, spec.MaxSize)
	testingx.Must(t, err, "cannot create catalog")
	mux := http.NewServeMux()
	handler.New(g, c, nil).Register(mux, spec.DefaultPrefix)
	return httptest.NewServer(mux)
}

func testConfig() *config.ClientConfig {
	cfg := config.New(5*time.Second, 5, 300*time.Millisecond)
	cfg.PingInterval = time.Millisecond
	cfg.SampleInterval = time.Millisecond
	cfg.UploadChunkSize = 256 << 10
	return cfg
}

func TestClient_Run(t *testing.T) {
	srv := newServer(t)
	defer srv.Close()
	rec := &recorder{}
	c := NewWithConfig(srv.URL+spec.DefaultPrefix+"/", testConfig()).WithEmitter(rec)

	s, err := c.Run(context.Background())
	testingx.Must(t, err, "Run failed")
	if s.Ping <= 0 || s.Jitter < 0 || s.Download <= 0 || s.Upload <= 0 {
		t.Errorf("invalid summary: %+v", s)
	}
	want := []spec.SubtestKind{spec.SubtestPing, spec.SubtestDownload, spec.SubtestUpload}
	if len(rec.started) != 3 || len(rec.completed) != 3 {
		t.Fatalf("started %v, completed %v, want %v", rec.started, rec.completed, want)
	}
	for i, k := range want {
		if rec.started[i] != k || rec.completed[i] != k {
			t.Errorf("subtest #%d = %s/%s, want %s", i, rec.started[i], rec.completed[i], k)
		}
	}
	if rec.results[spec.SubtestJitter] != s.Jitter {
		t.Errorf("jitter result = %f, want %f", rec.results[spec.SubtestJitter], s.Jitter)
	}
	if rec.measurements == 0 {
		t.Error("expected progress measurements")
	}
	if len(rec.errors) != 0 {
		t.Errorf("unexpected errors: %v", rec.errors)
	}
}

func TestClient_UnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	rec := &recorder{}
	c := NewWithConfig(srv.URL, testConfig()).WithEmitter(rec)
	if _, err := c.Download(context.Background()); !errors.Is(err, errUnexpectedStatus) {
		t.Errorf("Download() error = %v, want errUnexpectedStatus", err)
	}
	if _, err := c.Upload(context.Background()); !errors.Is(err, errUnexpectedStatus) {
		t.Errorf("Upload() error = %v, want errUnexpectedStatus", err)
	}
	if len(rec.errors) != 2 {
		t.Errorf("expected 2 errors to be emitted, got %d", len(rec.errors))
	}
}

func TestClient_LatencyCanceled(t *testing.T) {
	srv := newServer(t)
	defer srv.Close()
	cfg := testConfig()
	cfg.PingInterval = time.Hour
	c := NewWithConfig(srv.URL+spec.DefaultPrefix, cfg).WithEmitter(&recorder{})
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if _, _, err := c.Latency(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Latency() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestPingAndJitter(t *testing.T) {
	tests := []struct {
		rtts   []float64
		ping   float64
		jitter float64
	}{
		{rtts: nil, ping: 0, jitter: 0},
		{rtts: []float64{10}, ping: 10, jitter: 0},
		{rtts: []float64{10, 20}, ping: 15, jitter: 10},
		{rtts: []float64{30, 10, 20, 100, 20}, ping: 70.0 / 3, jitter: (20 + 10 + 80 + 80) / 4.0},
	}
	for _, tt := range tests {
		if got := Ping(tt.rtts); math.Abs(got-tt.ping) > 1e-9 {
			t.Errorf("Ping(%v) = %f, want %f", tt.rtts, got, tt.ping)
		}
		if got := Jitter(tt.rtts); math.Abs(got-tt.jitter) > 1e-9 {
			t.Errorf("Jitter(%v) = %f, want %f", tt.rtts, got, tt.jitter)
		}
	}
}

func TestMbps(t *testing.T) {
	if got := Mbps(1250000, time.Second); got != 10 {
		t.Errorf("Mbps() = %f, want 10", got)
	}
	if got := Mbps(100, 0); got != 0 {
		t.Errorf("Mbps() with no elapsed time = %f, want 0", got)
	}
}

func TestSampler(t *testing.T) {
	rec := &recorder{}
	cfg := config.NewDefault()
	c := NewWithConfig("http://localhost", cfg).WithEmitter(rec)
	start := time.Now()
	s := c.newSampler(spec.SubtestDownload, "receiver", start)

	s.observe(1_000_000, start.Add(100*time.Millisecond))
	s.observe(5_000_000, start.Add(200*time.Millisecond))
	s.observe(6_000_000, start.Add(400*time.Millisecond))

	if rec.measurements != 2 {
		t.Fatalf("got %d measurements, want 2", rec.measurements)
	}
	// 5 MB in the first 200ms, then 1 MB in the next 200ms. A running
	// average would report 120 Mb/s the second time.
	want := []float64{200, 40}
	if len(rec.speeds) != len(want) {
		t.Fatalf("got speeds %v, want %v", rec.speeds, want)
	}
	for i := range want {
		if math.Abs(rec.speeds[i]-want[i]) > 1e-6 {
			t.Errorf("speed[%d] = %f, want %f", i, rec.speeds[i], want[i])
		}
	}
}

func TestClient_PingUnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not json", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	c := NewWithConfig(srv.URL, testConfig()).WithEmitter(&recorder{})
	if _, err := c.Ping(context.Background()); !errors.Is(err, errUnexpectedStatus) {
		t.Errorf("Ping() error = %v, want errUnexpectedStatus", err)
	}
}
