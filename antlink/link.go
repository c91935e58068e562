package antlink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/lucasjlepore/wheelspeed"
)

// The stick ignores commands for a while after a reset.
const defaultResetDelay = 500 * time.Millisecond

// channelTypeSlave opens a bidirectional receive channel.
const channelTypeSlave byte = 0x00

// ChannelConfig describes the receive channel to open.
type ChannelConfig struct {
	Channel          uint8
	Network          uint8
	NetworkKey       []byte // nil keeps the public network
	Device           wheelspeed.DeviceDescriptor
	DeviceNumber     uint16 // 0 pairs with any device
	TransmissionType uint8  // 0 pairs with any
	RFFrequency      uint8
}

// Link is an ANT session over a serial port.
type Link struct {
	port   Port
	dec    *Decoder
	logger *slog.Logger

	writeMu    sync.Mutex
	channel    uint8
	resetDelay time.Duration
}

// NewLink wraps an open port.
func NewLink(port Port, logger *slog.Logger) *Link {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Link{
		port:       port,
		dec:        NewDecoder(port),
		logger:     logger,
		resetDelay: defaultResetDelay,
	}
}

// Send writes one framed message.
func (l *Link) Send(m Message) error {
	frame, err := m.MarshalBinary()
	if err != nil {
		return err
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if _, err := l.port.Write(frame); err != nil {
		return fmt.Errorf("write ant message 0x%02X: %w", m.ID, err)
	}
	return nil
}

// Configure resets the stick and opens a receive channel for cfg.Device.
func (l *Link) Configure(cfg ChannelConfig) error {
	if cfg.NetworkKey != nil && len(cfg.NetworkKey) != 8 {
		return fmt.Errorf("network key must be 8 bytes, got %d", len(cfg.NetworkKey))
	}
	if err := l.Send(Message{ID: MsgResetSystem, Data: []byte{0x00}}); err != nil {
		return err
	}
	if l.resetDelay > 0 {
		time.Sleep(l.resetDelay)
	}

	msgs := make([]Message, 0, 6)
	if cfg.NetworkKey != nil {
		msgs = append(msgs, Message{ID: MsgNetworkKey, Data: append([]byte{cfg.Network}, cfg.NetworkKey...)})
	}
	msgs = append(msgs,
		Message{ID: MsgAssignChannel, Data: []byte{cfg.Channel, channelTypeSlave, cfg.Network}},
		Message{ID: MsgChannelID, Data: []byte{
			cfg.Channel,
			byte(cfg.DeviceNumber), byte(cfg.DeviceNumber >> 8),
			cfg.Device.DeviceType,
			cfg.TransmissionType,
		}},
		Message{ID: MsgChannelPeriod, Data: []byte{cfg.Channel, byte(cfg.Device.Period), byte(cfg.Device.Period >> 8)}},
		Message{ID: MsgRFFrequency, Data: []byte{cfg.Channel, cfg.RFFrequency}},
		Message{ID: MsgOpenChannel, Data: []byte{cfg.Channel}},
	)
	for _, m := range msgs {
		if err := l.Send(m); err != nil {
			return err
		}
	}
	l.channel = cfg.Channel
	l.logger.Info("ant channel opened",
		"device", cfg.Device.Name,
		"channel", cfg.Channel,
		"device_number", cfg.DeviceNumber,
		"period", cfg.Device.Period,
	)
	return nil
}

// Run reads messages until ctx is done or the port is exhausted, calling handle
// with each 8-byte broadcast page on the configured channel. Cancelling ctx
// closes the port.
func (l *Link) Run(ctx context.Context, handle func(payload []byte)) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = l.port.Close()
		case <-done:
		}
	}()

	for {
		msg, err := l.dec.Next()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read ant message: %w", err)
		}

		switch msg.ID {
		case MsgBroadcastData:
			if len(msg.Data) < 1+wheelspeed.FrameSize || msg.Data[0] != l.channel {
				continue
			}
			handle(msg.Data[1 : 1+wheelspeed.FrameSize])
		case MsgChannelEvent:
			l.channelEvent(msg.Data)
		}
	}
}

func (l *Link) channelEvent(data []byte) {
	if len(data) < 3 {
		return
	}
	// Responses to commands carry the command id; events carry 0x01.
	if data[1] != 0x01 {
		if data[2] != 0x00 {
			l.logger.Warn("ant command failed", "message_id", data[1], "code", data[2])
		}
		return
	}
	switch data[2] {
	case EventRxFail:
		l.logger.Debug("ant rx fail", "channel", data[0])
	case EventRxSearchTimeout, EventRxFailGoToSearch:
		l.logger.Info("ant sensor lost, searching", "channel", data[0])
	case EventChannelClosed:
		l.logger.Warn("ant channel closed", "channel", data[0])
	default:
		l.logger.Debug("ant channel event", "channel", data[0], "code", data[2])
	}
}

// Close closes the port.
func (l *Link) Close() error {
	return l.port.Close()
}
