package tcpinfox

import (
	"syscall"

	"github.com/robertodauria/speedtest/pkg/speedtest/results"
	"golang.org/x/sys/unix"
)

func getTCPInfo(rc syscall.RawConn) (*results.TCPInfo, error) {
	var info *unix.TCPInfo
	var serr error
	err := rc.Control(func(fd uintptr) {
		info, serr = unix.GetsockoptTCPInfo(int(fd), unix.IPPROTO_TCP, unix.TCP_INFO)
	})
	if err != nil {
		return nil, err
	}
	if serr != nil {
		return nil, serr
	}
	return &results.TCPInfo{
		RTT:          info.Rtt,
		RTTVar:       info.Rttvar,
		SndCwnd:      info.Snd_cwnd,
		TotalRetrans: info.Total_retrans,
		BytesAcked:   info.Bytes_acked,
	}, nil
}
