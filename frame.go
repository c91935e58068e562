package wheelspeed

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// FrameSize is the length of an ANT+ broadcast data page.
const FrameSize = 8

// ErrShortFrame is returned for payloads that cannot hold a speed page.
var ErrShortFrame = errors.New("short speed frame")

// DeviceDescriptor is what the sensor link needs to open a radio channel.
type DeviceDescriptor struct {
	Name       string
	DeviceType uint8
	Period     uint16 // channel message period, 1/32768 s units
	ChannelID  uint16
}

// SpeedSensor describes an ANT+ bike speed sensor channel.
var SpeedSensor = DeviceDescriptor{
	Name:       "C:SPD",
	DeviceType: 0x7B,
	Period:     8118,
	ChannelID:  0,
}

// DecodeFrame extracts the event time (bytes 4-5) and cumulative revolution count
// (bytes 6-7) from a speed data page. ANT+ sends both low byte first.
func DecodeFrame(payload []byte) (RotationSample, error) {
	if len(payload) < FrameSize {
		return RotationSample{}, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(payload))
	}
	return RotationSample{
		Time:  binary.LittleEndian.Uint16(payload[4:6]),
		Count: binary.LittleEndian.Uint16(payload[6:8]),
	}, nil
}

// EncodeFrame builds a data page carrying s. Bytes 0-3 are left zero.
func EncodeFrame(s RotationSample) []byte {
	payload := make([]byte, FrameSize)
	binary.LittleEndian.PutUint16(payload[4:6], s.Time)
	binary.LittleEndian.PutUint16(payload[6:8], s.Count)
	return payload
}
