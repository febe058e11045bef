package robot

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"
)

// SerialProximity reads a distance sensor that prints one reading per line
// on a serial port. Lines may carry a label ("dist: 412"); the last field is
// taken as the value. Until the first reading arrives the sensor reports
// +Inf so nothing is mistaken for an object.
type SerialProximity struct {
	port   io.ReadCloser
	latest atomic.Uint64

	mu   sync.Mutex
	err  error
	done chan struct{}
}

// OpenSerialProximity opens the sensor's serial port and starts reading.
func OpenSerialProximity(cfg ProximityConfig) (*SerialProximity, error) {
	baud := cfg.BaudRate
	if baud == 0 {
		baud = DefaultProximityBaud
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("open proximity port %s: %w", cfg.Port, err)
	}
	return NewSerialProximity(port), nil
}

// NewSerialProximity starts reading lines from r.
func NewSerialProximity(r io.ReadCloser) *SerialProximity {
	p := &SerialProximity{
		port: r,
		done: make(chan struct{}),
	}
	p.latest.Store(math.Float64bits(math.Inf(1)))
	go p.monitor()
	return p
}

func (p *SerialProximity) monitor() {
	defer close(p.done)
	scan := bufio.NewScanner(p.port)
	for scan.Scan() {
		v, ok := parseReading(scan.Text())
		if !ok {
			continue
		}
		p.latest.Store(math.Float64bits(v))
	}
	p.mu.Lock()
	if err := scan.Err(); err != nil {
		p.err = fmt.Errorf("proximity read: %w", err)
	} else {
		p.err = io.ErrUnexpectedEOF
	}
	p.mu.Unlock()
}

func parseReading(line string) (float64, bool) {
	fields := strings.FieldsFunc(line, func(r rune) bool {
		return r == ' ' || r == '\t' || r == ':' || r == '=' || r == ','
	})
	if len(fields) == 0 {
		return 0, false
	}
	v, err := strconv.ParseFloat(fields[len(fields)-1], 64)
	if err != nil || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// Enable checks the sampling period. The device streams at its own rate.
func (p *SerialProximity) Enable(period time.Duration) error {
	if period <= 0 {
		return fmt.Errorf("invalid sampling period %s", period)
	}
	return nil
}

// Distance returns the latest reading.
func (p *SerialProximity) Distance() float64 {
	return math.Float64frombits(p.latest.Load())
}

// Err returns the error that stopped the reader, if any.
func (p *SerialProximity) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Close closes the port and waits for the reader to exit.
func (p *SerialProximity) Close() error {
	err := p.port.Close()
	<-p.done
	return err
}
