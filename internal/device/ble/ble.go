// Package ble drives locks over Bluetooth Low Energy with tinygo.org/x/bluetooth.
// It implements discovery and the GATT link; the encrypted keyturner command
// set is not implemented and reports device.ErrUnsupported.
package ble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/seantiz/keyturner/internal/device"
	"github.com/seantiz/keyturner/internal/model"
)

// Keyturner GATT services.
const (
	pairingServiceUUID   = "a92ee100-5501-11e4-916c-0800200c9a66"
	keyturnerServiceUUID = "a92ee200-5501-11e4-916c-0800200c9a66"
)

// Compile-time interface satisfaction check.
var _ device.Radio = (*Radio)(nil)

// Radio is a device.Radio backed by the host Bluetooth adapter.
type Radio struct {
	adapter *bluetooth.Adapter

	enableOnce sync.Once
	enableErr  error

	mu   sync.Mutex
	seen map[string]bluetooth.Address
}

// NewRadio returns a radio using the default adapter. The adapter is enabled
// on first use.
func NewRadio() *Radio {
	return &Radio{
		adapter: bluetooth.DefaultAdapter,
		seen:    make(map[string]bluetooth.Address),
	}
}

func (r *Radio) enable() error {
	r.enableOnce.Do(func() {
		if err := r.adapter.Enable(); err != nil {
			r.enableErr = fmt.Errorf("enable bluetooth adapter: %w", err)
		}
	})
	return r.enableErr
}

// Discover scans for timeout and returns every device that advertised.
func (r *Radio) Discover(timeout time.Duration) ([]device.Advertisement, error) {
	byAddress := make(map[string]device.Advertisement)
	err := r.scan(timeout, func(adv device.Advertisement) bool {
		byAddress[adv.Address] = adv
		return false
	})
	if err != nil {
		return nil, err
	}

	ads := make([]device.Advertisement, 0, len(byAddress))
	for _, adv := range byAddress {
		ads = append(ads, adv)
	}
	return ads, nil
}

// Find scans until address advertises or timeout expires.
func (r *Radio) Find(address string, timeout time.Duration) (*device.Advertisement, error) {
	address = model.NormalizeAddress(address)
	var found *device.Advertisement
	err := r.scan(timeout, func(adv device.Advertisement) bool {
		if adv.Address != address {
			return false
		}
		found = &adv
		return true
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// scan runs the adapter scan until timeout or until fn returns true.
func (r *Radio) scan(timeout time.Duration, fn func(device.Advertisement) bool) error {
	if err := r.enable(); err != nil {
		return err
	}

	timer := time.AfterFunc(timeout, func() { r.adapter.StopScan() })
	defer timer.Stop()

	err := r.adapter.Scan(func(a *bluetooth.Adapter, res bluetooth.ScanResult) {
		adv := device.Advertisement{
			Address: model.NormalizeAddress(res.Address.String()),
			Name:    res.LocalName(),
			RSSI:    int(res.RSSI),
		}
		r.mu.Lock()
		r.seen[adv.Address] = res.Address
		r.mu.Unlock()

		if fn(adv) {
			a.StopScan()
		}
	})
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	return nil
}

// Open returns a session to a device seen during a previous scan.
func (r *Radio) Open(adv device.Advertisement, creds device.Credentials) (device.Session, error) {
	r.mu.Lock()
	addr, ok := r.seen[model.NormalizeAddress(adv.Address)]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("open %s: device has not been discovered", adv.Address)
	}
	return &session{radio: r, address: addr, creds: creds}, nil
}

// Capabilities reports the commands this driver implements.
func (r *Radio) Capabilities() device.Capabilities {
	return device.Capabilities{
		Name:     "ble",
		Commands: []string{"discover", "connect"},
	}
}

type session struct {
	radio   *Radio
	address bluetooth.Address
	creds   device.Credentials

	disconnect func() error
}

// Connect opens the GATT link and checks that the peer exposes the keyturner services.
func (s *session) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dev, err := s.radio.adapter.Connect(s.address, bluetooth.ConnectionParams{})
	if err != nil {
		return fmt.Errorf("connect %s: %w", s.address.String(), err)
	}
	s.disconnect = dev.Disconnect

	want := make([]bluetooth.UUID, 0, 2)
	for _, raw := range []string{pairingServiceUUID, keyturnerServiceUUID} {
		uuid, err := bluetooth.ParseUUID(raw)
		if err != nil {
			return fmt.Errorf("parse service uuid: %w", err)
		}
		want = append(want, uuid)
	}

	services, err := dev.DiscoverServices(want)
	if err != nil || len(services) == 0 {
		if err == nil {
			err = fmt.Errorf("keyturner services not found")
		}
		return s.abandon(ctx, fmt.Errorf("connect %s: %w", s.address.String(), err))
	}
	return nil
}

// abandon drops a half-open link after a failed connect. A disconnect failure
// is joined onto cause.
func (s *session) abandon(ctx context.Context, cause error) error {
	if err := s.Disconnect(ctx); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

func (s *session) Disconnect(context.Context) error {
	if s.disconnect == nil {
		return nil
	}
	err := s.disconnect()
	s.disconnect = nil
	if err != nil {
		return fmt.Errorf("disconnect %s: %w", s.address.String(), err)
	}
	return nil
}

func (s *session) Pair(context.Context) (device.Pairing, error) {
	return device.Pairing{}, s.unsupported("pair")
}

func (s *session) UpdateState(context.Context) (device.State, error) {
	return device.State{}, s.unsupported("state")
}

func (s *session) Lock(context.Context) error { return s.unsupported("lock") }

func (s *session) Unlock(context.Context) error { return s.unsupported("unlock") }

func (s *session) Unlatch(context.Context) error { return s.unsupported("unlatch") }

func (s *session) unsupported(cmd string) error {
	return fmt.Errorf("%s on %s: %w", cmd, s.address.String(), device.ErrUnsupported)
}
