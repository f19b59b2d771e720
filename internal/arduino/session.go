package arduino

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"go.bug.st/serial"

	"github.com/thatsimonsguy/greenhouse-controller/internal/metrics"
	"github.com/thatsimonsguy/greenhouse-controller/internal/protocol"
)

var (
	ErrNotConnected     = errors.New("arduino not connected")
	ErrAlreadyConnected = errors.New("arduino connection already active")
	ErrClosed           = errors.New("arduino session closed")
	ErrNoPort           = errors.New("no serial port available")

	errLineTooLong = errors.New("line exceeds buffer")
)

// maxLineLength bounds one serial line; longer runs are line noise.
const maxLineLength = 4096

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Timer is the handle returned by afterFunc.
type Timer interface {
	Stop() bool
}

// swappable for tests
var (
	openPort = func(path string, baud int) (io.ReadWriteCloser, error) {
		return serial.Open(path, &serial.Mode{BaudRate: baud})
	}
	afterFunc = func(d time.Duration, f func()) Timer {
		return time.AfterFunc(d, f)
	}
	now = time.Now
)

type Config struct {
	// Path is the device to open. When empty, Resolve is asked on every attempt.
	Path           string
	Resolve        func() (string, error)
	BaudRate       int
	ReconnectDelay time.Duration
}

// Session owns the single serial connection to the controller.
type Session struct {
	cfg     Config
	backoff backoff.BackOff

	mu         sync.Mutex
	state      State
	port       io.ReadWriteCloser
	path       string
	gen        uint64
	reconnect  Timer
	stopped    bool
	lastUpdate time.Time

	onData   func(r *protocol.Reading, raw string)
	onStatus func(connected bool)
}

func NewSession(cfg Config) *Session {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 9600
	}
	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	return &Session{
		cfg:     cfg,
		backoff: backoff.NewConstantBackOff(cfg.ReconnectDelay),
	}
}

// OnData registers the callback for every successfully decoded line.
// Callbacks run on the listener goroutine in receipt order.
func (s *Session) OnData(fn func(r *protocol.Reading, raw string)) {
	s.mu.Lock()
	s.onData = fn
	s.mu.Unlock()
}

// OnStatusChange registers the callback fired on connectivity transitions.
func (s *Session) OnStatusChange(fn func(connected bool)) {
	s.mu.Lock()
	s.onStatus = fn
	s.mu.Unlock()
}

// Connect opens the port and starts listening. On failure a reconnect is
// scheduled and the error is returned.
func (s *Session) Connect() error {
	return s.connect(false)
}

// connect is shared by Connect and the reconnect timer. A timer-driven attempt
// never revives a session that Disconnect has stopped.
func (s *Session) connect(retry bool) error {
	s.mu.Lock()
	if retry {
		s.reconnect = nil
		if s.stopped {
			s.mu.Unlock()
			return ErrClosed
		}
	}
	if s.state != Disconnected {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.state = Connecting
	s.stopped = false
	s.stopReconnectLocked()
	s.mu.Unlock()

	path, port, err := s.open()

	s.mu.Lock()
	if s.stopped {
		s.state = Disconnected
		s.mu.Unlock()
		if port != nil {
			port.Close()
		}
		return ErrClosed
	}
	if err != nil {
		s.state = Disconnected
		s.scheduleReconnectLocked()
		s.mu.Unlock()
		log.Error().Err(err).Str("port", path).Msg("Failed to open serial port")
		return err
	}

	s.gen++
	gen := s.gen
	s.port = port
	s.path = path
	s.state = Connected
	onStatus := s.onStatus
	s.mu.Unlock()

	log.Info().Str("port", path).Int("baud", s.cfg.BaudRate).Msg("Connected to Arduino")
	if onStatus != nil {
		onStatus(true)
	}
	go s.listen(port, gen)
	return nil
}

func (s *Session) open() (string, io.ReadWriteCloser, error) {
	path := s.cfg.Path
	if path == "" {
		if s.cfg.Resolve == nil {
			return "", nil, ErrNoPort
		}
		resolved, err := s.cfg.Resolve()
		if err != nil {
			return "", nil, fmt.Errorf("resolve serial port: %w", err)
		}
		path = resolved
	}

	port, err := openPort(path, s.cfg.BaudRate)
	if err != nil {
		return path, nil, fmt.Errorf("open %s: %w", path, err)
	}
	return path, port, nil
}

func (s *Session) listen(port io.Reader, gen uint64) {
	reader := bufio.NewReaderSize(port, maxLineLength)
	for {
		line, err := readLine(reader)
		if errors.Is(err, errLineTooLong) {
			metrics.DecodeFailures.Inc()
			log.Warn().Int("max", maxLineLength).Msg("Dropping oversized serial line")
			continue
		}
		if err != nil {
			s.handleFailure(gen, err)
			return
		}

		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return
		}
		s.lastUpdate = now()
		onData := s.onData
		s.mu.Unlock()

		reading, err := protocol.Decode(line)
		if err != nil {
			if !errors.Is(err, protocol.ErrEmptyLine) {
				metrics.DecodeFailures.Inc()
				log.Warn().Err(err).Str("line", line).Msg("Dropping undecodable line")
			}
			continue
		}
		if onData != nil {
			onData(reading, line)
		}
	}
}

// readLine returns the next line without its terminator. A line that does not
// fit the reader's buffer is consumed through its newline and reported as
// errLineTooLong.
func readLine(r *bufio.Reader) (string, error) {
	b, err := r.ReadSlice('\n')
	if err == nil {
		return strings.TrimRight(string(b), "\r\n"), nil
	}
	if !errors.Is(err, bufio.ErrBufferFull) {
		return "", err
	}
	for {
		if _, err := r.ReadSlice('\n'); !errors.Is(err, bufio.ErrBufferFull) {
			if err != nil {
				return "", err
			}
			return "", errLineTooLong
		}
	}
}

// handleFailure tears down the connection identified by gen and schedules a
// reconnect. Failures from superseded connections are ignored.
func (s *Session) handleFailure(gen uint64, cause error) {
	s.mu.Lock()
	if gen != s.gen || s.state != Connected {
		s.mu.Unlock()
		return
	}
	s.gen++
	port, path := s.port, s.path
	s.port = nil
	s.state = Disconnected
	if !s.stopped {
		s.scheduleReconnectLocked()
	}
	onStatus := s.onStatus
	s.mu.Unlock()

	if port != nil {
		port.Close()
	}
	log.Error().Err(cause).Str("port", path).Msg("Serial connection lost")
	if onStatus != nil {
		onStatus(false)
	}
}

func (s *Session) scheduleReconnectLocked() {
	s.stopReconnectLocked()
	delay := s.backoff.NextBackOff()
	log.Info().Dur("delay", delay).Msg("Scheduling Arduino reconnect")
	s.reconnect = afterFunc(delay, s.attemptReconnect)
}

func (s *Session) stopReconnectLocked() {
	if s.reconnect != nil {
		s.reconnect.Stop()
		s.reconnect = nil
	}
}

func (s *Session) attemptReconnect() {
	if err := s.connect(true); err != nil {
		log.Debug().Err(err).Msg("Reconnect attempt failed")
	}
}

// Disconnect cancels any pending reconnect and closes the port. Safe to call
// repeatedly.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.stopped = true
	s.stopReconnectLocked()
	s.gen++
	port, path := s.port, s.path
	s.port = nil
	wasConnected := s.state == Connected
	if s.state == Connected {
		s.state = Disconnected
	}
	onStatus := s.onStatus
	s.mu.Unlock()

	if port != nil {
		if err := port.Close(); err != nil {
			log.Warn().Err(err).Msg("Error closing serial port")
		}
	}
	if wasConnected {
		log.Info().Str("port", path).Msg("Disconnected from Arduino")
		if onStatus != nil {
			onStatus(false)
		}
	}
}

// SendCommand writes cmd to the controller. Write failures are returned but do
// not by themselves trigger a reconnect.
func (s *Session) SendCommand(cmd protocol.Command) error {
	payload, err := protocol.Encode(cmd)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Connected || s.port == nil {
		return ErrNotConnected
	}
	if _, err := s.port.Write([]byte(payload)); err != nil {
		return fmt.Errorf("write %s: %w", cmd, err)
	}
	log.Debug().Str("command", string(cmd)).Msg("Sent command to Arduino")
	return nil
}

func (s *Session) ControlPump(on bool) error {
	return s.SendCommand(protocol.PumpCommand(on))
}

func (s *Session) EmergencyStop() error {
	return s.SendCommand(protocol.EmergencyStop)
}

func (s *Session) ClearEmergency() error {
	return s.SendCommand(protocol.ClearEmergency)
}

func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == Connected
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastUpdate is the time the last line arrived, or now if none has.
func (s *Session) LastUpdate() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastUpdate.IsZero() {
		return now()
	}
	return s.lastUpdate
}

func (s *Session) Port() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// ReconnectPending reports whether a reconnect timer is armed.
func (s *Session) ReconnectPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnect != nil
}
