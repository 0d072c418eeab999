package emitter

import (
	"github.com/robertodauria/speedtest/pkg/speedtest/results"
	"github.com/robertodauria/speedtest/pkg/speedtest/spec"
	"go.uber.org/zap"
)

type Emitter interface {
	OnStart(spec.SubtestKind)
	OnMeasurement(spec.SubtestKind, results.Measurement)
	// OnSpeed receives the throughput in Mb/s over the last sample
	// interval.
	OnSpeed(spec.SubtestKind, float64)
	// OnResult receives the final value of a subtest: milliseconds for ping
	// and jitter, Mb/s for download and upload.
	OnResult(spec.SubtestKind, float64)
	OnError(spec.SubtestKind, error)
	OnComplete(spec.SubtestKind)
}

type LogEmitter struct{}

func (e *LogEmitter) OnStart(kind spec.SubtestKind) {
	zap.L().Sugar().Infof("%s: starting", kind)
}

func (e *LogEmitter) OnMeasurement(kind spec.SubtestKind, m results.Measurement) {
	if m.AppInfo == nil || m.AppInfo.ElapsedTime == 0 {
		return
	}
	zap.L().Sugar().Debugf("%s: %d bytes in %d us", kind, m.AppInfo.NumBytes, m.AppInfo.ElapsedTime)
}

func (e *LogEmitter) OnSpeed(kind spec.SubtestKind, mbps float64) {
	zap.L().Sugar().Infof("%s: current speed: %.2f Mb/s", kind, mbps)
}

func (e *LogEmitter) OnResult(kind spec.SubtestKind, value float64) {
	switch kind {
	case spec.SubtestPing, spec.SubtestJitter:
		zap.L().Sugar().Infof("%s: %.1f ms", kind, value)
	default:
		zap.L().Sugar().Infof("%s: %.2f Mb/s", kind, value)
	}
}

func (e *LogEmitter) OnError(kind spec.SubtestKind, err error) {
	zap.L().Sugar().Errorf("%s: error (%v)", kind, err)
}

func (e *LogEmitter) OnComplete(kind spec.SubtestKind) {
	zap.L().Sugar().Infof("%s: completed", kind)
}
