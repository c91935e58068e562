// Package antlink talks to an ANT USB stick over its serial interface: it frames
// and checksums messages, opens a receive channel for a sensor and hands
// broadcast data pages to the caller.
package antlink

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

// Sync starts every serial message.
const Sync byte = 0xA4

// maxData bounds the payload of the messages handled here; longer frames are
// treated as line noise.
const maxData = 32

// Message ids.
const (
	MsgChannelEvent  byte = 0x40
	MsgAssignChannel byte = 0x42
	MsgChannelPeriod byte = 0x43
	MsgRFFrequency   byte = 0x45
	MsgNetworkKey    byte = 0x46
	MsgResetSystem   byte = 0x4A
	MsgOpenChannel   byte = 0x4B
	MsgBroadcastData byte = 0x4E
	MsgChannelID     byte = 0x51
)

// Channel event codes of interest.
const (
	EventRxSearchTimeout  byte = 0x01
	EventRxFail           byte = 0x02
	EventChannelClosed    byte = 0x07
	EventRxFailGoToSearch byte = 0x08
)

// ErrMessageSize is returned when a message does not fit a frame.
var ErrMessageSize = errors.New("ant message too long")

// Message is one ANT serial message without framing.
type Message struct {
	ID   byte
	Data []byte
}

// MarshalBinary frames m as sync, length, id, data and XOR checksum.
func (m Message) MarshalBinary() ([]byte, error) {
	if len(m.Data) > maxData {
		return nil, fmt.Errorf("%w: %d bytes", ErrMessageSize, len(m.Data))
	}
	out := make([]byte, 0, len(m.Data)+4)
	out = append(out, Sync, byte(len(m.Data)), m.ID)
	out = append(out, m.Data...)
	return append(out, checksum(out)), nil
}

func checksum(b []byte) byte {
	var c byte
	for _, x := range b {
		c ^= x
	}
	return c
}

// Decoder reads framed messages, skipping bytes until the next sync byte when a
// frame is malformed.
type Decoder struct {
	r       *bufio.Reader
	dropped int
}

// NewDecoder returns a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Dropped counts frames discarded for a bad length or checksum.
func (d *Decoder) Dropped() int { return d.dropped }

// Next returns the next well-formed message. Errors from the reader are
// returned as is. A malformed frame costs only its sync byte, so a real frame
// hiding behind a stray sync is still found.
func (d *Decoder) Next() (Message, error) {
	for {
		b, err := d.r.ReadByte()
		if err != nil {
			return Message{}, err
		}
		if b != Sync {
			continue
		}

		head, err := d.r.Peek(1)
		if err != nil {
			return Message{}, err
		}
		size := int(head[0])
		if size > maxData {
			d.dropped++
			continue
		}

		// length, id, data, checksum
		frame, err := d.r.Peek(size + 3)
		if err != nil {
			if errors.Is(err, io.EOF) {
				// Truncated tail; whatever follows the sync byte is scanned again.
				d.dropped++
				continue
			}
			return Message{}, err
		}
		if Sync^checksum(frame[:size+2]) != frame[size+2] {
			d.dropped++
			continue
		}
		msg := Message{ID: frame[1], Data: append([]byte(nil), frame[2:size+2]...)}
		if _, err := d.r.Discard(size + 3); err != nil {
			return Message{}, err
		}
		return msg, nil
	}
}
