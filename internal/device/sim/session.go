package sim

import (
	"context"
	"fmt"

	"github.com/seantiz/keyturner/internal/device"
)

type session struct {
	radio     *Radio
	lock      *Lock
	creds     device.Credentials
	connected bool
}

func (s *session) Connect(ctx context.Context) error {
	defer s.radio.enter()()
	if !s.lock.Reachable() {
		return fmt.Errorf("connect %s: device is not reachable", s.lock.Address)
	}
	if err := s.radio.sleep(ctx); err != nil {
		return fmt.Errorf("connect %s: %w", s.lock.Address, err)
	}
	s.connected = true
	return nil
}

func (s *session) Disconnect(context.Context) error {
	defer s.radio.enter()()
	s.connected = false
	return nil
}

func (s *session) Pair(ctx context.Context) (device.Pairing, error) {
	if err := s.command(ctx, false); err != nil {
		return device.Pairing{}, err
	}
	return s.lock.pair()
}

func (s *session) UpdateState(ctx context.Context) (device.State, error) {
	if err := s.command(ctx, true); err != nil {
		return device.State{}, err
	}
	return s.lock.State(), nil
}

func (s *session) Lock(ctx context.Context) error {
	return s.action(ctx, device.LockActionLock)
}

func (s *session) Unlock(ctx context.Context) error {
	return s.action(ctx, device.LockActionUnlock)
}

func (s *session) Unlatch(ctx context.Context) error {
	return s.action(ctx, device.LockActionUnlatch)
}

func (s *session) action(ctx context.Context, a device.LockAction) error {
	if err := s.command(ctx, true); err != nil {
		return err
	}
	s.lock.apply(a)
	return nil
}

// command performs the checks and latency shared by every lock command.
func (s *session) command(ctx context.Context, needAuth bool) error {
	defer s.radio.enter()()
	if !s.connected {
		return device.ErrNotConnected
	}
	if err := s.lock.takeFailure(); err != nil {
		return err
	}
	if needAuth {
		if err := s.lock.authorized(s.creds); err != nil {
			return err
		}
	}
	return s.radio.sleep(ctx)
}
