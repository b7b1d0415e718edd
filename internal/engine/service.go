package engine

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/seantiz/keyturner/internal/device"
	"github.com/seantiz/keyturner/internal/dispatch"
	"github.com/seantiz/keyturner/internal/store"
)

// Default service options.
const (
	DefaultScanTimeout      = 5 * time.Second
	DefaultFindAttempts     = 3
	DefaultRetryInterval    = time.Second
	DefaultOperationTimeout = 30 * time.Second
)

var (
	// ErrInvalidAddress is returned when no MAC address was supplied.
	ErrInvalidAddress = errors.New("MAC address is missing")
	// ErrNotPaired is returned for addresses the bridge holds no credentials for.
	ErrNotPaired = errors.New("device has not been paired yet")
	// ErrUnreachable is returned when a device did not advertise in time.
	ErrUnreachable = errors.New("device is not reachable")
	// ErrUnknownAction is returned for actions outside model.DeviceActions.
	ErrUnknownAction = errors.New("unknown action")
)

// pairingHint replaces the message of protocol errors raised while pairing.
const pairingHint = "Error while pairing with Nuki device. Make sure the device is in pairing mode " +
	"(press the button for 6 seconds) and that the address is correct."

// PairError is returned when the lock rejected the key exchange.
type PairError struct {
	Address string
	Err     error
}

func (e *PairError) Error() string { return pairingHint }

func (e *PairError) Unwrap() error { return e.Err }

// Options tunes radio timing.
type Options struct {
	// ScanTimeout bounds each discovery or find.
	ScanTimeout time.Duration
	// FindAttempts is how many times a device is searched for before it is
	// reported unreachable.
	FindAttempts int
	// RetryInterval is the pause between find attempts.
	RetryInterval time.Duration
	// OperationTimeout bounds one connect, command and disconnect sequence.
	OperationTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.ScanTimeout <= 0 {
		o.ScanTimeout = DefaultScanTimeout
	}
	if o.FindAttempts <= 0 {
		o.FindAttempts = DefaultFindAttempts
	}
	if o.RetryInterval < 0 {
		o.RetryInterval = 0
	} else if o.RetryInterval == 0 {
		o.RetryInterval = DefaultRetryInterval
	}
	if o.OperationTimeout <= 0 {
		o.OperationTimeout = DefaultOperationTimeout
	}
	return o
}

// Service carries out lock operations through the dispatcher.
type Service struct {
	store      store.Store
	radio      device.Radio
	dispatcher *dispatch.Dispatcher
	identity   device.Identity
	opts       Options
	logger     *slog.Logger
	broker     *EventBroker
	wg         sync.WaitGroup
}

// NewService creates a lock service. The dispatcher must be started by the caller.
func NewService(s store.Store, radio device.Radio, d *dispatch.Dispatcher, id device.Identity, opts Options, logger *slog.Logger) *Service {
	return &Service{
		store:      s,
		radio:      radio,
		dispatcher: d,
		identity:   id,
		opts:       opts.withDefaults(),
		logger:     logger.With("component", "engine"),
		broker:     NewEventBroker(),
	}
}

// Broker returns the service's event broker for SSE subscription.
func (s *Service) Broker() *EventBroker {
	return s.broker
}

// Wait blocks until all in-flight operations complete.
func (s *Service) Wait() {
	s.wg.Wait()
}

// DispatcherStatus describes the dispatcher for the stats endpoint.
type DispatcherStatus struct {
	State   string `json:"state"`
	Pending int    `json:"pending"`
	Error   string `json:"error,omitempty"`
}

// DispatcherStatus reports the dispatcher state and queue length.
func (s *Service) DispatcherStatus() DispatcherStatus {
	st := DispatcherStatus{
		State:   s.dispatcher.State().String(),
		Pending: s.dispatcher.Pending(),
	}
	if err := s.dispatcher.Err(); err != nil {
		st.Error = err.Error()
	}
	return st
}

// Unavailable reports whether err means the dispatcher could not run the
// request at all: it was not running, or it failed.
func Unavailable(err error) bool {
	var se *dispatch.SubmissionError
	return errors.As(err, &se) || errors.Is(err, dispatch.ErrDispatcherFailed)
}

// ErrorMessage renders err for clients, without the dispatcher job framing.
func ErrorMessage(err error) string {
	var pe *PairError
	if errors.As(err, &pe) {
		return pe.Error()
	}
	var je *dispatch.JobError
	if errors.As(err, &je) && je.Err != nil {
		return je.Err.Error()
	}
	return err.Error()
}
