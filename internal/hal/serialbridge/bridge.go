// Package serialbridge reaches the agent's hardware through a
// microcontroller co-processor on a serial line. The MCU owns the
// time-critical parts (edge capture with its own microsecond timer); the
// host only sets pins and consumes timestamped edges.
//
// Line protocol, one command per line:
//
//	host -> MCU   W <pin> <0|1>      set an output pin
//	MCU -> host   E <0|1> <micros>   echo edge, 1 rising, MCU timestamp
//	MCU -> host   # <text>           diagnostic comment, logged at debug
//
// Malformed lines are logged and skipped.
package serialbridge

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"

	apperrors "github.com/Iron-Ham/swarmbot/internal/errors"
	"github.com/Iron-Ham/swarmbot/internal/hal"
	"github.com/Iron-Ham/swarmbot/internal/logging"
)

// PinNames are the MCU's pin identifiers.
type PinNames struct {
	MotorAIn1 string
	MotorAIn2 string
	MotorBIn1 string
	MotorBIn2 string
	Trigger   string
	Echo      string
}

// PortConfig describes the serial device.
type PortConfig struct {
	Port        string
	Baud        int
	ReadTimeout time.Duration
}

// Open opens the serial device and builds a Board over it.
func Open(cfg PortConfig, pins PinNames, alarmBits int, logger *logging.Logger) (*hal.Board, error) {
	port, err := serial.Open(cfg.Port, &serial.Mode{BaudRate: cfg.Baud})
	if err != nil {
		return nil, apperrors.NewHardwareError("serialbridge", "open "+cfg.Port, err)
	}
	if cfg.ReadTimeout > 0 {
		if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
			_ = port.Close()
			return nil, apperrors.NewHardwareError("serialbridge", "set read timeout", err)
		}
	}
	board, _, err := NewBoard(port, pins, hal.NewMonotonicCounter(), hal.NewTimerAlarm(alarmBits), logger)
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	return board, nil
}

// Bridge is the host end of the line protocol.
type Bridge struct {
	rw   io.ReadWriteCloser
	log  *logging.Logger
	echo string

	wmu       sync.Mutex
	fn        atomic.Pointer[func(hal.Edge)]
	closed    atomic.Bool
	done      chan struct{}
	edges     atomic.Uint64
	malformed atomic.Uint64
}

// NewBoard starts the reader, drives every output low and returns the board
// together with its bridge. Closing the board closes rw.
func NewBoard(rw io.ReadWriteCloser, pins PinNames, clock hal.Counter, alarm hal.Alarm, logger *logging.Logger) (*hal.Board, *Bridge, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	b := &Bridge{
		rw:   rw,
		log:  logger.WithComponent("hal.serialbridge"),
		echo: pins.Echo,
		done: make(chan struct{}),
	}
	go b.readLoop()

	out := func(name string) hal.OutputPin { return &remotePin{bridge: b, name: name} }
	board := &hal.Board{
		MotorA:  hal.MotorChannel{In1: out(pins.MotorAIn1), In2: out(pins.MotorAIn2)},
		MotorB:  hal.MotorChannel{In1: out(pins.MotorBIn1), In2: out(pins.MotorBIn2)},
		Trigger: out(pins.Trigger),
		Echo:    &remoteEcho{bridge: b},
		Clock:   clock,
		Alarm:   alarm,
	}
	board.OnClose(b)

	for _, p := range []hal.OutputPin{board.MotorA.In1, board.MotorA.In2, board.MotorB.In1, board.MotorB.In2, board.Trigger} {
		if err := p.Set(hal.Low); err != nil {
			_ = b.Close()
			return nil, nil, err
		}
	}
	return board, b, nil
}

// Edges returns the number of echo edges received.
func (b *Bridge) Edges() uint64 { return b.edges.Load() }

// Malformed returns the number of lines that could not be parsed.
func (b *Bridge) Malformed() uint64 { return b.malformed.Load() }

// Close stops the reader and closes the port.
func (b *Bridge) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	err := b.rw.Close()
	<-b.done
	return err
}

func (b *Bridge) write(line string) error {
	b.wmu.Lock()
	defer b.wmu.Unlock()
	if b.closed.Load() {
		return apperrors.ErrClosed
	}
	if _, err := io.WriteString(b.rw, line); err != nil {
		return err
	}
	return nil
}

func (b *Bridge) readLoop() {
	defer close(b.done)
	buf := make([]byte, 256)
	var pending []byte
	for {
		n, err := b.rw.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			for {
				i := bytes.IndexByte(pending, '\n')
				if i < 0 {
					break
				}
				b.handleLine(strings.TrimRight(string(pending[:i]), "\r"))
				pending = pending[i+1:]
			}
			if len(pending) > 1024 {
				b.malformed.Add(1)
				b.log.Warn("discarding oversized serial line", "bytes", len(pending))
				pending = pending[:0]
			}
		}
		if err != nil {
			if !b.closed.Load() && !errors.Is(err, io.EOF) {
				b.log.Error("serial read failed", "error", err.Error())
			}
			return
		}
	}
}

func (b *Bridge) handleLine(line string) {
	if line == "" {
		return
	}
	if strings.HasPrefix(line, "#") {
		b.log.Debug("mcu", "text", strings.TrimSpace(line[1:]))
		return
	}
	edge, err := parseEdge(line)
	if err != nil {
		b.malformed.Add(1)
		b.log.Warn("malformed serial line", "line", line, "error", err.Error())
		return
	}
	b.edges.Add(1)
	if fn := b.fn.Load(); fn != nil {
		(*fn)(edge)
	}
}

func parseEdge(line string) (hal.Edge, error) {
	fields := strings.Fields(line)
	if len(fields) != 3 || fields[0] != "E" {
		return hal.Edge{}, fmt.Errorf("want \"E <0|1> <micros>\": %w", apperrors.ErrMalformedPayload)
	}
	var rising bool
	switch fields[1] {
	case "1":
		rising = true
	case "0":
	default:
		return hal.Edge{}, fmt.Errorf("edge level %q: %w", fields[1], apperrors.ErrMalformedPayload)
	}
	at, err := strconv.ParseUint(fields[2], 10, 64)
	if err != nil {
		return hal.Edge{}, fmt.Errorf("timestamp %q: %w", fields[2], apperrors.ErrMalformedPayload)
	}
	return hal.Edge{Rising: rising, At: at}, nil
}

type remotePin struct {
	bridge *Bridge
	name   string
}

func (p *remotePin) Set(l hal.Level) error {
	if err := p.bridge.write(fmt.Sprintf("W %s %s\n", p.name, l)); err != nil {
		return apperrors.NewHardwareError("serialbridge", "set level", err).WithPin(p.name)
	}
	return nil
}

func (p *remotePin) Name() string { return p.name }

type remoteEcho struct {
	bridge *Bridge
}

func (e *remoteEcho) Watch(fn func(hal.Edge)) error {
	e.bridge.fn.Store(&fn)
	return nil
}

// Close detaches the callback; the bridge itself is closed with the board.
func (e *remoteEcho) Close() error {
	e.bridge.fn.Store(nil)
	return nil
}

func (e *remoteEcho) Name() string { return e.bridge.echo }
