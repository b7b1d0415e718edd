package sim

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/seantiz/keyturner/internal/device"
	"github.com/seantiz/keyturner/internal/model"
)

// Lock is a simulated keyturner.
type Lock struct {
	Address string

	mu          sync.Mutex
	state       device.State
	reachable   bool
	pairingMode bool
	authID      []byte
	publicKey   []byte
	failNext    error
}

// NewLock creates a reachable, calibrated lock in door mode.
func NewLock(address, name string) *Lock {
	address = model.NormalizeAddress(address)
	return &Lock{
		Address:   address,
		reachable: true,
		state: device.State{
			Name:              name,
			NukiID:            nukiID(address),
			FirmwareVersion:   [3]uint8{3, 8, 2},
			HardwareRevision:  [2]uint8{4, 1},
			LockState:         device.LockStateLocked,
			BatteryPercentage: 90,
			DeviceType:        device.DeviceTypeSmartlock3,
			DoorSensorState:   device.DoorSensorClosed,
			NukiState:         device.NukiStateDoorMode,
		},
	}
}

// SetReachable moves the lock in or out of radio range.
func (l *Lock) SetReachable(v bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reachable = v
}

// Reachable reports whether the lock is in range.
func (l *Lock) Reachable() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reachable
}

// SetPairingMode enables or disables pairing, as holding the lock button does.
func (l *Lock) SetPairingMode(v bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pairingMode = v
	l.state.PairingEnabled = v
	if v {
		l.state.NukiState = device.NukiStatePairingMode
	} else {
		l.state.NukiState = device.NukiStateDoorMode
	}
}

// FailNext makes the next session command fail with err.
func (l *Lock) FailNext(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failNext = err
}

// State returns a snapshot of the lock state.
func (l *Lock) State() device.State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Lock) advertisement() device.Advertisement {
	l.mu.Lock()
	defer l.mu.Unlock()
	return device.Advertisement{Address: l.Address, Name: "Nuki_" + l.state.NukiID, RSSI: -60}
}

// takeFailure returns and clears the injected failure.
func (l *Lock) takeFailure() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	err := l.failNext
	l.failNext = nil
	return err
}

func (l *Lock) pair() (device.Pairing, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.pairingMode {
		return device.Pairing{}, fmt.Errorf("%w: lock is not in pairing mode", device.ErrProtocol)
	}
	l.authID = randomBytes(4)
	l.publicKey = randomBytes(32)
	l.pairingMode = false
	l.state.PairingEnabled = false
	l.state.NukiState = device.NukiStateDoorMode
	return device.Pairing{
		AuthID:          bytes.Clone(l.authID),
		DevicePublicKey: bytes.Clone(l.publicKey),
	}, nil
}

func (l *Lock) authorized(creds device.Credentials) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.authID == nil || !bytes.Equal(l.authID, creds.AuthID) || !bytes.Equal(l.publicKey, creds.DevicePublicKey) {
		return fmt.Errorf("%w: unknown authorization", device.ErrProtocol)
	}
	return nil
}

func (l *Lock) apply(action device.LockAction) {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch action {
	case device.LockActionLock:
		l.state.LockState = device.LockStateLocked
	case device.LockActionUnlock:
		l.state.LockState = device.LockStateUnlocked
	case device.LockActionUnlatch:
		l.state.LockState = device.LockStateUnlatched
	}
	l.state.LastAction = action
	if l.state.BatteryPercentage > 0 {
		l.state.BatteryPercentage--
	}
}

// Authorize installs credentials as if the lock had already been paired.
func (l *Lock) Authorize(authID, publicKey []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.authID = bytes.Clone(authID)
	l.publicKey = bytes.Clone(publicKey)
}

// nukiID derives a stable device id from the last four address octets.
func nukiID(address string) string {
	hex := strings.ReplaceAll(address, ":", "")
	if len(hex) > 8 {
		hex = hex[len(hex)-8:]
	}
	return hex
}
