package telemetry

import (
	"go.uber.org/zap/zapcore"

	"example.com/vernier-time/net/ntp"
)

type PacketMarshaler struct {
	Pkt *Packet
}

func (m PacketMarshaler) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddUint8("Version", m.Pkt.Version)
	enc.AddUint8("Stage", m.Pkt.Stage)
	enc.AddUint32("Flags", m.Pkt.Flags)
	enc.AddUint32("Seq", m.Pkt.Seq)
	enc.AddUint32("LockCount", m.Pkt.LockCount)
	enc.AddString("Instance", m.Pkt.Instance.String())
	enc.AddUint64("Counter", m.Pkt.Counter)
	enc.AddUint64("Total", m.Pkt.Total)
	enc.AddFloat64("PeriodPPM", PPMFromScaled(m.Pkt.PeriodPPM))
	enc.AddFloat64("RatePPM", PPMFromScaled(m.Pkt.RatePPM))
	return enc.AddObject("TransmitTime", ntp.Time64Marshaler{T: m.Pkt.TransmitTime})
}
