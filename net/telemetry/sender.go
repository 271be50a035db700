package telemetry

import (
	"errors"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"example.com/vernier-time/base/metrics"
	"example.com/vernier-time/core/sync"
	"example.com/vernier-time/net/ntp"
	"example.com/vernier-time/net/udp"
)

var errWrite = errors.New("failed to write packet")

type senderMetrics struct {
	pktsSent prometheus.Counter
}

func newSenderMetrics(reg prometheus.Registerer) *senderMetrics {
	return &senderMetrics{
		pktsSent: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: metrics.TelemetryPktsSentN,
			Help: metrics.TelemetryPktsSentH,
		}),
	}
}

// Sender reports servo status to a single monitor. It is not safe for
// concurrent use.
type Sender struct {
	log      *zap.Logger
	mtrcs    *senderMetrics
	conn     *net.UDPConn
	instance uuid.UUID
	seq      uint32
	buffer   gopacket.SerializeBuffer
}

var _ sync.Publisher = (*Sender)(nil)

func NewSender(log *zap.Logger, remoteAddr string, dscp uint8, reg prometheus.Registerer) (*Sender, error) {
	raddr, err := net.ResolveUDPAddr("udp", remoteAddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, err
	}
	err = udp.SetDSCP(conn, dscp)
	if err != nil {
		log.Info("failed to set DSCP", zap.Error(err))
	}
	s := &Sender{
		log:      log,
		mtrcs:    newSenderMetrics(reg),
		conn:     conn,
		instance: uuid.New(),
		buffer:   gopacket.NewSerializeBuffer(),
	}
	log.Info("telemetry sender started",
		zap.Stringer("remote", raddr),
		zap.Stringer("instance", s.instance),
	)
	return s, nil
}

func (s *Sender) Instance() uuid.UUID { return s.instance }

func (s *Sender) Publish(st sync.Status) error {
	s.seq++
	pkt := Packet{
		Version:      Version,
		Stage:        uint8(st.Stage()),
		Flags:        uint32(st.Flags),
		Seq:          s.seq,
		LockCount:    uint32(st.LockCount),
		Instance:     s.instance,
		Counter:      st.Counter,
		Total:        st.Total,
		PeriodPPM:    ScaledPPM(st.PeriodPPM),
		RatePPM:      ScaledPPM(st.RatePPM),
		TransmitTime: ntp.Time64FromTime(time.Now()),
	}
	err := s.buffer.Clear()
	if err != nil {
		return err
	}
	err = pkt.SerializeTo(s.buffer, gopacket.SerializeOptions{})
	if err != nil {
		return err
	}
	b := s.buffer.Bytes()
	n, err := s.conn.Write(b)
	if err != nil {
		return err
	}
	if n != len(b) {
		return errWrite
	}
	s.mtrcs.pktsSent.Inc()
	s.log.Debug("sent status", zap.Object("pkt", PacketMarshaler{Pkt: &pkt}))
	return nil
}

func (s *Sender) Close() error {
	return s.conn.Close()
}
