// Package link owns the serial channel to the scale: it applies the port
// configuration and provides byte-level blocking reads, writes and buffer
// discard.
//
// Opening and closing a Link must not race with an in-flight read; callers
// serialize these operations.
package link

import (
	"bufio"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/atomic"
)

// DefaultReadTimeout bounds a single blocking read if the configuration does
// not specify one.
const DefaultReadTimeout = 50 * time.Millisecond

const readBufferSize = 256

var (
	// ErrPortUnavailable is returned by Open if the device cannot be claimed.
	ErrPortUnavailable = errors.New("port unavailable")

	// ErrPortClosed is returned for I/O on a link that is not open.
	ErrPortClosed = errors.New("port closed")

	// ErrTimeout is returned by reads that found no data within the read timeout.
	ErrTimeout = errors.New("read timeout")

	// ErrInvalidConfig is returned for unsupported port configurations.
	ErrInvalidConfig = errors.New("invalid port configuration")
)

// Port is the part of serial.Port used by the link.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	ResetInputBuffer() error
	ResetOutputBuffer() error
	SetReadTimeout(t time.Duration) error
	Close() error
}

// Opener opens a port by name.
type Opener func(name string, mode *serial.Mode) (Port, error)

// SerialOpener opens a real serial device.
func SerialOpener(name string, mode *serial.Mode) (Port, error) {
	return serial.Open(name, mode)
}

// Link is a serial channel to the scale.
type Link struct {
	opener Opener

	mu     sync.RWMutex
	cfg    Config
	conn   Port
	reader *bufio.Reader
	isOpen atomic.Bool
}

// Option configures a Link.
type Option func(*Link)

// WithOpener replaces the function used to open ports.
func WithOpener(opener Opener) Option {
	return func(l *Link) {
		l.opener = opener
	}
}

// New creates a closed link.
func New(options ...Option) *Link {
	l := &Link{
		opener: SerialOpener,
	}

	for _, option := range options {
		option(l)
	}

	return l
}

// Open applies cfg and claims the port. An open link is closed first. If the
// device cannot be claimed the returned error wraps ErrPortUnavailable and the
// link stays closed.
func (l *Link) Open(cfg Config) error {
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn != nil {
		l.closeLocked()
	}

	conn, err := l.opener(cfg.Port, cfg.mode())
	if err != nil {
		return fmt.Errorf("%w: failed to open serial port %s: %w", ErrPortUnavailable, cfg.Port, err)
	}

	if err := conn.SetReadTimeout(cfg.ReadTimeout); err != nil {
		conn.Close()
		return fmt.Errorf("%w: failed to set read timeout on %s: %w", ErrPortUnavailable, cfg.Port, err)
	}

	l.cfg = cfg
	l.conn = conn
	l.reader = bufio.NewReaderSize(portReader{conn}, readBufferSize)
	l.isOpen.Store(true)

	return nil
}

// Close releases the port. It is safe to call on a closed link and after a
// failed Open.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.closeLocked()
}

func (l *Link) closeLocked() error {
	l.isOpen.Store(false)
	if l.conn == nil {
		return nil
	}

	err := l.conn.Close()
	l.conn = nil
	l.reader = nil

	if err != nil {
		return fmt.Errorf("failed to close serial port %s: %w", l.cfg.Port, err)
	}
	return nil
}

// IsOpen reports whether the port is open.
func (l *Link) IsOpen() bool {
	return l.isOpen.Load()
}

// Config returns the configuration applied by the last successful Open.
func (l *Link) Config() Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// DiscardBuffers drops pending input and output.
func (l *Link) DiscardBuffers() error {
	if err := l.DiscardInput(); err != nil {
		return err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.conn == nil {
		return ErrPortClosed
	}
	return l.conn.ResetOutputBuffer()
}

// DiscardInput drops pending input, including bytes already buffered by the
// link.
func (l *Link) DiscardInput() error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.conn == nil {
		return ErrPortClosed
	}
	l.reader.Reset(portReader{l.conn})
	return l.conn.ResetInputBuffer()
}

// ReadByte reads a single byte, waiting at most the read timeout.
func (l *Link) ReadByte() (byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.conn == nil {
		return 0, ErrPortClosed
	}
	return l.reader.ReadByte()
}

// Read reads up to len(p) bytes, waiting at most the read timeout for the
// first one.
func (l *Link) Read(p []byte) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.conn == nil {
		return 0, ErrPortClosed
	}
	return l.reader.Read(p)
}

// Write writes p to the port.
func (l *Link) Write(p []byte) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.conn == nil {
		return 0, ErrPortClosed
	}

	n, err := l.conn.Write(p)
	if err != nil {
		return n, fmt.Errorf("failed to write to serial port %s: %w", l.cfg.Port, err)
	}
	return n, nil
}

// WriteString writes s to the port.
func (l *Link) WriteString(s string) (int, error) {
	return l.Write([]byte(s))
}

// IsPortUnavailable reports whether err is a port error caused by a missing,
// busy or inaccessible device.
func IsPortUnavailable(err error) bool {
	if errors.Is(err, ErrPortUnavailable) {
		return true
	}

	code, ok := portErrorCode(err)
	if !ok {
		return false
	}
	switch code {
	case serial.PortNotFound, serial.PortBusy, serial.PermissionDenied, serial.InvalidSerialPort:
		return true
	}
	return false
}

// IsPortClosed reports whether err means the port is no longer usable.
func IsPortClosed(err error) bool {
	if errors.Is(err, ErrPortClosed) {
		return true
	}

	code, ok := portErrorCode(err)
	return ok && code == serial.PortClosed
}

func portErrorCode(err error) (serial.PortErrorCode, bool) {
	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		return portErr.Code(), true
	}

	var portErrValue serial.PortError
	if errors.As(err, &portErrValue) {
		return portErrValue.Code(), true
	}

	return 0, false
}

// portReader turns the (0, nil) result of a timed out serial read into
// ErrTimeout.
type portReader struct {
	port Port
}

func (r portReader) Read(p []byte) (int, error) {
	n, err := r.port.Read(p)
	if n == 0 && err == nil {
		return 0, ErrTimeout
	}
	return n, err
}
