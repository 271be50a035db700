// Package telemetry implements the servo status packet exchanged between a
// running synchronizer and monitors.
package telemetry

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/google/gopacket"
	"github.com/google/uuid"

	"example.com/vernier-time/net/ntp"
)

const (
	DefaultPort = 10124

	PacketLen = transmitTimeOffset + ntp.Time64Len
	Magic     = 0x5653
	Version   = 1

	transmitTimeOffset = 64

	// Frequency values are carried in ppm with a 16-bit fractional part.
	ppmFracBits = 16
)

var LayerTypeServoStatus = gopacket.RegisterLayerType(
	1214,
	gopacket.LayerTypeMetadata{
		Name:    "ServoStatus",
		Decoder: gopacket.DecodeFunc(decodeServoStatus),
	},
)

// BaseLayer is a convenience struct which implements the LayerData and
// LayerPayload functions of the Layer interface.
// Copy-pasted from gopacket/layers (we avoid importing this due its massive size)
type BaseLayer struct {
	// Contents is the set of bytes that make up this layer.
	Contents []byte
	// Payload is the set of bytes contained by (but not part of) this
	// Layer.
	Payload []byte
}

func (b *BaseLayer) LayerContents() []byte { return b.Contents }

func (b *BaseLayer) LayerPayload() []byte { return b.Payload }

type Packet struct {
	BaseLayer
	Version      uint8
	Stage        uint8
	Flags        uint32
	Seq          uint32
	LockCount    uint32
	Instance     uuid.UUID
	Counter      uint64
	Total        uint64
	PeriodPPM    int64
	RatePPM      int64
	TransmitTime ntp.Time64
}

var (
	errUnexpectedPacketSize = errors.New("unexpected packet size")
	errUnexpectedMagic      = errors.New("unexpected packet magic")
	errUnsupportedVersion   = errors.New("unsupported packet version")
)

func ScaledPPM(ppm float64) int64 {
	return int64(math.Round(ppm * (1 << ppmFracBits)))
}

func PPMFromScaled(scaled int64) float64 {
	return float64(scaled) / (1 << ppmFracBits)
}

func (p *Packet) LayerType() gopacket.LayerType {
	return LayerTypeServoStatus
}

func decodeServoStatus(data []byte, p gopacket.PacketBuilder) error {
	d := &Packet{}
	err := d.DecodeFromBytes(data, p)
	if err != nil {
		return err
	}

	p.AddLayer(d)
	p.SetApplicationLayer(d)

	return nil
}

func (p *Packet) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	data, err := b.PrependBytes(PacketLen)
	if err != nil {
		return err
	}

	version := p.Version
	if version == 0 {
		version = Version
	}
	binary.BigEndian.PutUint16(data[0:], Magic)
	data[2] = version
	data[3] = p.Stage
	binary.BigEndian.PutUint32(data[4:], p.Flags)
	binary.BigEndian.PutUint32(data[8:], p.Seq)
	binary.BigEndian.PutUint32(data[12:], p.LockCount)
	copy(data[16:32], p.Instance[:])
	binary.BigEndian.PutUint64(data[32:], p.Counter)
	binary.BigEndian.PutUint64(data[40:], p.Total)
	binary.BigEndian.PutUint64(data[48:], uint64(p.PeriodPPM))
	binary.BigEndian.PutUint64(data[56:], uint64(p.RatePPM))
	binary.BigEndian.PutUint64(data[transmitTimeOffset:], p.TransmitTime.Uint64())

	return nil
}

func (p *Packet) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < PacketLen {
		df.SetTruncated()
		return errUnexpectedPacketSize
	}
	if binary.BigEndian.Uint16(data[0:]) != Magic {
		return errUnexpectedMagic
	}
	if data[2] != Version {
		return errUnsupportedVersion
	}

	p.BaseLayer = BaseLayer{Contents: data[:PacketLen], Payload: data[PacketLen:]}

	p.Version = data[2]
	p.Stage = data[3]
	p.Flags = binary.BigEndian.Uint32(data[4:])
	p.Seq = binary.BigEndian.Uint32(data[8:])
	p.LockCount = binary.BigEndian.Uint32(data[12:])
	copy(p.Instance[:], data[16:32])
	p.Counter = binary.BigEndian.Uint64(data[32:])
	p.Total = binary.BigEndian.Uint64(data[40:])
	p.PeriodPPM = int64(binary.BigEndian.Uint64(data[48:]))
	p.RatePPM = int64(binary.BigEndian.Uint64(data[56:]))
	p.TransmitTime = ntp.Time64FromUint64(binary.BigEndian.Uint64(data[transmitTimeOffset:]))

	return nil
}

func (p *Packet) CanDecode() gopacket.LayerClass {
	return LayerTypeServoStatus
}

func (p *Packet) NextLayerType() gopacket.LayerType {
	return gopacket.LayerTypeZero
}

func (p *Packet) Payload() []byte {
	return nil
}
