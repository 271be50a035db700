package telemetry

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"time"

	"github.com/google/gopacket"
	"github.com/google/uuid"
	"github.com/libp2p/go-reuseport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"example.com/vernier-time/base/metrics"
	"example.com/vernier-time/net/ntp"
	"example.com/vernier-time/net/udp"
)

const maxPacketLen = 1500

var errUnexpectedConn = errors.New("unexpected connection type")

type Report struct {
	Pkt    Packet
	Source netip.AddrPort
	RxTime time.Time
	// Delay is the receive time minus the sender's transmit time, only
	// meaningful if both hosts' clocks are synchronized.
	Delay time.Duration
}

type listenerMetrics struct {
	pktsReceived prometheus.Counter
}

func newListenerMetrics(reg prometheus.Registerer) *listenerMetrics {
	return &listenerMetrics{
		pktsReceived: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: metrics.TelemetryPktsReceivedN,
			Help: metrics.TelemetryPktsReceivedH,
		}),
	}
}

// Listener receives status packets. Several listeners, possibly in separate
// processes, may share a port.
type Listener struct {
	log   *zap.Logger
	mtrcs *listenerMetrics
	conn  *net.UDPConn
}

func Listen(log *zap.Logger, addr string, reg prometheus.Registerer) (*Listener, error) {
	conn, err := reuseport.ListenPacket("udp", addr)
	if err != nil {
		return nil, err
	}
	udpConn, ok := conn.(*net.UDPConn)
	if !ok {
		_ = conn.Close()
		return nil, errUnexpectedConn
	}
	err = udp.EnableRxTimestamps(udpConn)
	if err != nil {
		log.Info("failed to enable timestamping", zap.Error(err))
	}
	return &Listener{
		log:   log,
		mtrcs: newListenerMetrics(reg),
		conn:  udpConn,
	}, nil
}

func (l *Listener) LocalAddr() net.Addr {
	return l.conn.LocalAddr()
}

// stale reports whether pkt was sent before the latest packet seen from the
// same instance, and records its transmit time otherwise. Equal transmit
// times pass since a coarse sender clock may stamp consecutive packets alike.
func stale(latest map[uuid.UUID]ntp.Time64, pkt *Packet) bool {
	prev, ok := latest[pkt.Instance]
	if ok && pkt.TransmitTime.Before(prev) {
		return true
	}
	if !ok || pkt.TransmitTime.After(prev) {
		latest[pkt.Instance] = pkt.TransmitTime
	}
	return false
}

// Run passes every valid status packet to handle until ctx is done. Packets
// overtaken by a later one from the same instance are dropped.
func (l *Listener) Run(ctx context.Context, handle func(r Report)) error {
	go func() {
		<-ctx.Done()
		_ = l.conn.Close()
	}()

	var pkt Packet
	parser := gopacket.NewDecodingLayerParser(LayerTypeServoStatus, &pkt)
	decoded := make([]gopacket.LayerType, 0, 1)
	latest := make(map[uuid.UUID]ntp.Time64)
	buf := make([]byte, maxPacketLen)
	oob := make([]byte, udp.TimestampLen())
	for {
		buf = buf[:cap(buf)]
		oob = oob[:cap(oob)]
		n, oobn, flags, src, err := l.conn.ReadMsgUDPAddrPort(buf, oob)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			l.log.Error("failed to read packet", zap.Error(err))
			return err
		}
		if flags != 0 {
			l.log.Error("failed to read packet", zap.Int("flags", flags))
			continue
		}
		oob = oob[:oobn]
		rxt, err := udp.TimestampFromOOBData(oob)
		if err != nil {
			rxt = time.Now()
			l.log.Debug("failed to read packet rx timestamp", zap.Error(err))
		}
		buf = buf[:n]

		err = parser.DecodeLayers(buf, &decoded)
		if err != nil || len(decoded) != 1 {
			l.log.Info("failed to decode packet", zap.Stringer("source", src), zap.Error(err))
			continue
		}
		l.mtrcs.pktsReceived.Inc()
		if stale(latest, &pkt) {
			l.log.Debug("dropped reordered packet", zap.Stringer("source", src),
				zap.Stringer("instance", pkt.Instance), zap.Uint32("seq", pkt.Seq))
			continue
		}

		r := Report{
			Pkt:    pkt,
			Source: src,
			RxTime: rxt,
		}
		r.Pkt.BaseLayer = BaseLayer{}
		r.Delay = rxt.Sub(ntp.TimeFromTime64(pkt.TransmitTime, rxt))
		handle(r)
	}
}
