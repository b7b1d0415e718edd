package device

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnsupported is returned by drivers that do not implement a command.
	ErrUnsupported = errors.New("operation not supported by radio driver")
	// ErrProtocol is returned when a lock rejects a command.
	ErrProtocol = errors.New("lock rejected command")
	// ErrNotConnected is returned when a session command is issued without a link.
	ErrNotConnected = errors.New("session not connected")
)

// Radio discovers locks and opens sessions to them. Discover and Find block
// for up to the given timeout; callers run them on the dispatcher so that only
// one radio operation is in flight at a time.
type Radio interface {
	// Discover scans for advertising devices for the given duration.
	Discover(timeout time.Duration) ([]Advertisement, error)

	// Find scans until the device with the given address advertises or the
	// timeout expires. It returns nil and no error when the device was not seen.
	Find(address string, timeout time.Duration) (*Advertisement, error)

	// Open prepares a session to an advertised device. No radio traffic happens
	// until Session.Connect.
	Open(adv Advertisement, creds Credentials) (Session, error)

	// Capabilities reports what the driver supports.
	Capabilities() Capabilities
}

// Session is a link to a single lock.
type Session interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error

	// Pair runs the key exchange with a lock in pairing mode.
	Pair(ctx context.Context) (Pairing, error)

	// UpdateState reads the current configuration and keyturner state.
	UpdateState(ctx context.Context) (State, error)

	Lock(ctx context.Context) error
	Unlock(ctx context.Context) error
	Unlatch(ctx context.Context) error
}

// Advertisement is a device seen during discovery.
type Advertisement struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	RSSI    int    `json:"rssi"`
}

// Identity is the bridge's own identity presented to locks.
type Identity struct {
	AppID      uint32
	AppName    string
	PublicKey  []byte
	PrivateKey []byte
}

// Credentials are what a session needs to talk to a lock. AuthID and
// DevicePublicKey are empty before pairing.
type Credentials struct {
	Identity
	AuthID          []byte
	DevicePublicKey []byte
}

// Paired reports whether the credentials carry a pairing result.
func (c Credentials) Paired() bool {
	return len(c.AuthID) > 0 && len(c.DevicePublicKey) > 0
}

// Pairing is the result of a successful key exchange.
type Pairing struct {
	AuthID          []byte
	DevicePublicKey []byte
}

// Capabilities describes a radio driver.
type Capabilities struct {
	Name     string   `json:"name"`
	Commands []string `json:"commands"`
	// Simulated is true for drivers that never touch real hardware.
	Simulated bool `json:"simulated"`
}
