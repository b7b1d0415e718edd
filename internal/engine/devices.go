package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/seantiz/keyturner/internal/device"
	"github.com/seantiz/keyturner/internal/dispatch"
	"github.com/seantiz/keyturner/internal/model"
	"github.com/seantiz/keyturner/internal/store"
)

// Discovery filter for keyturner candidates.
const (
	candidateNamePrefix    = "Nuki"
	candidateAddressPrefix = "52:D2:72:"
)

// DeviceStatus is a paired device as reported by ListPaired.
type DeviceStatus struct {
	Address     string `json:"address"`
	IsReachable bool   `json:"isReachable"`
	Name        string `json:"name"`
	ID          string `json:"id"`
}

// ActionResult is the outcome of a lock command.
type ActionResult struct {
	Message string `json:"message"`
}

var actionMessages = map[string]string{
	model.ActionLock:    "Locked successfully",
	model.ActionUnlock:  "Unlocked successfully",
	model.ActionUnlatch: "Unlatched successfully",
}

// Scan discovers nearby devices that look like keyturners.
func (s *Service) Scan(ctx context.Context) ([]device.Advertisement, error) {
	return await(ctx, s, "", model.ActionScan, func(ctx context.Context, rec *recorder) ([]device.Advertisement, error) {
		ads, err := dispatch.Do(ctx, s.dispatcher, "discover", dispatch.Sync(func() ([]device.Advertisement, error) {
			return s.radio.Discover(s.opts.ScanTimeout)
		}))
		if err != nil {
			return nil, err
		}

		candidates := make([]device.Advertisement, 0, len(ads))
		for _, adv := range ads {
			if strings.HasPrefix(adv.Name, candidateNamePrefix) ||
				strings.HasPrefix(model.NormalizeAddress(adv.Address), candidateAddressPrefix) {
				s.logger.Info("found possible keyturner", "name", adv.Name, "address", adv.Address, "rssi", adv.RSSI)
				candidates = append(candidates, adv)
			}
		}
		rec.emit("found %d possible devices", len(candidates))
		return candidates, nil
	})
}

// Pair runs the key exchange with the device at address and stores the
// resulting credentials, replacing any earlier pairing of the same address.
func (s *Service) Pair(ctx context.Context, address string) (*model.PairedDevice, error) {
	address = model.NormalizeAddress(address)
	if address == "" {
		return nil, ErrInvalidAddress
	}

	return await(ctx, s, address, model.ActionPair, func(ctx context.Context, rec *recorder) (*model.PairedDevice, error) {
		adv, err := s.find(ctx, rec, address, s.opts.FindAttempts)
		if err != nil {
			return nil, err
		}

		creds := device.Credentials{Identity: s.identity}
		pairing, err := inSession(ctx, s, rec, "pair "+address, *adv, creds,
			func(ctx context.Context, sess device.Session) (device.Pairing, error) {
				rec.emit("exchanging keys")
				return sess.Pair(ctx)
			})
		if err != nil {
			if errors.Is(err, device.ErrProtocol) {
				return nil, &PairError{Address: address, Err: err}
			}
			return nil, err
		}

		pd := &model.PairedDevice{
			Address:         address,
			AuthID:          pairing.AuthID,
			DevicePublicKey: pairing.DevicePublicKey,
			Name:            adv.Name,
		}
		if err := s.store.UpsertPairedDevice(context.Background(), pd); err != nil {
			return nil, fmt.Errorf("save pairing: %w", err)
		}
		rec.emit("device registered")
		return pd, nil
	})
}

// Unpair forgets the credentials of a device. The device itself is not contacted.
func (s *Service) Unpair(ctx context.Context, address string) error {
	address = model.NormalizeAddress(address)
	if address == "" {
		return ErrInvalidAddress
	}
	err := s.store.DeletePairedDevice(ctx, address)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotPaired, address)
	}
	if err != nil {
		return err
	}
	s.logger.Info("device unpaired", "address", address)
	return nil
}

// ListPaired reports every paired device and whether it is in range. Devices
// in range are contacted so their stored name and id stay current.
func (s *Service) ListPaired(ctx context.Context) ([]DeviceStatus, error) {
	return await(ctx, s, "", model.ActionRefresh, func(ctx context.Context, rec *recorder) ([]DeviceStatus, error) {
		paired, err := s.store.ListPairedDevices(ctx)
		if err != nil {
			return nil, err
		}

		statuses := make([]DeviceStatus, 0, len(paired))
		for _, pd := range paired {
			status := DeviceStatus{Address: pd.Address, Name: pd.Name, ID: pd.NukiID}

			adv, err := s.find(ctx, rec, pd.Address, 1)
			switch {
			case Unavailable(err):
				return nil, err
			case err != nil:
				rec.emit("%s is not reachable", pd.Address)
			default:
				status.IsReachable = true
				rec.emit("updating info of %s", pd.Address)
				st, err := inSession(ctx, s, rec, "refresh "+pd.Address, *adv, s.credentials(pd),
					func(ctx context.Context, sess device.Session) (device.State, error) {
						return sess.UpdateState(ctx)
					})
				if Unavailable(err) {
					return nil, err
				}
				if err != nil {
					s.logger.Warn("failed to refresh device info", "address", pd.Address, "error", err)
					rec.emit("could not refresh %s: %s", pd.Address, ErrorMessage(err))
					break
				}
				if err := s.store.UpdateDeviceInfo(context.Background(), pd.Address, st.Name, st.NukiID); err != nil {
					s.logger.Error("failed to save device info", "address", pd.Address, "error", err)
				}
				status.Name, status.ID = st.Name, st.NukiID
			}
			statuses = append(statuses, status)
		}
		return statuses, nil
	})
}

// Lock locks the device at address.
func (s *Service) Lock(ctx context.Context, address string) (ActionResult, error) {
	return s.command(ctx, address, model.ActionLock)
}

// Unlock unlocks the device at address.
func (s *Service) Unlock(ctx context.Context, address string) (ActionResult, error) {
	return s.command(ctx, address, model.ActionUnlock)
}

// Unlatch unlocks the device at address and pulls the latch.
func (s *Service) Unlatch(ctx context.Context, address string) (ActionResult, error) {
	return s.command(ctx, address, model.ActionUnlatch)
}

// State reads the current state of the device at address and stores its
// reported name and id.
func (s *Service) State(ctx context.Context, address string) (device.StateView, error) {
	pd, err := s.paired(ctx, address)
	if err != nil {
		return device.StateView{}, err
	}
	return await(ctx, s, pd.Address, model.ActionState, s.readState(pd))
}

// SubmitAction records an operation for a device action and runs it in the
// background. The returned operation is pending; its progress is available
// through the store and the broker.
func (s *Service) SubmitAction(ctx context.Context, address, action string) (*model.Operation, error) {
	if !model.IsDeviceAction(action) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	pd, err := s.paired(ctx, address)
	if err != nil {
		return nil, err
	}

	var fn opFunc[any]
	if action == model.ActionState {
		read := s.readState(pd)
		fn = func(ctx context.Context, rec *recorder) (any, error) { return read(ctx, rec) }
	} else {
		act := s.act(pd, action)
		fn = func(ctx context.Context, rec *recorder) (any, error) { return act(ctx, rec) }
	}

	op, _, err := start(ctx, s, pd.Address, action, fn)
	if err != nil {
		return nil, err
	}
	return op, nil
}

func (s *Service) command(ctx context.Context, address, action string) (ActionResult, error) {
	pd, err := s.paired(ctx, address)
	if err != nil {
		return ActionResult{}, err
	}
	return await(ctx, s, pd.Address, action, s.act(pd, action))
}

// act returns the body of a lock command against a paired device.
func (s *Service) act(pd *model.PairedDevice, action string) opFunc[ActionResult] {
	return func(ctx context.Context, rec *recorder) (ActionResult, error) {
		adv, err := s.find(ctx, rec, pd.Address, s.opts.FindAttempts)
		if err != nil {
			return ActionResult{}, err
		}
		_, err = inSession(ctx, s, rec, action+" "+pd.Address, *adv, s.credentials(pd),
			func(ctx context.Context, sess device.Session) (struct{}, error) {
				st, err := sess.UpdateState(ctx)
				if err != nil {
					return struct{}{}, fmt.Errorf("update state: %w", err)
				}
				rec.emit("lock state is %s", st.LockState)

				switch action {
				case model.ActionLock:
					err = sess.Lock(ctx)
				case model.ActionUnlock:
					err = sess.Unlock(ctx)
				case model.ActionUnlatch:
					err = sess.Unlatch(ctx)
				default:
					err = fmt.Errorf("%w: %q", ErrUnknownAction, action)
				}
				if err != nil {
					return struct{}{}, fmt.Errorf("%s: %w", action, err)
				}
				return struct{}{}, nil
			})
		if err != nil {
			return ActionResult{}, err
		}
		return ActionResult{Message: actionMessages[action]}, nil
	}
}

// readState returns the body of a state query against a paired device.
func (s *Service) readState(pd *model.PairedDevice) opFunc[device.StateView] {
	return func(ctx context.Context, rec *recorder) (device.StateView, error) {
		adv, err := s.find(ctx, rec, pd.Address, s.opts.FindAttempts)
		if err != nil {
			return device.StateView{}, err
		}
		st, err := inSession(ctx, s, rec, "state "+pd.Address, *adv, s.credentials(pd),
			func(ctx context.Context, sess device.Session) (device.State, error) {
				return sess.UpdateState(ctx)
			})
		if err != nil {
			return device.StateView{}, err
		}
		if err := s.store.UpdateDeviceInfo(context.Background(), pd.Address, st.Name, st.NukiID); err != nil {
			s.logger.Error("failed to save device info", "address", pd.Address, "error", err)
		}
		rec.emit("lock state is %s", st.LockState)
		return st.View(), nil
	}
}

// paired loads the stored pairing for address.
func (s *Service) paired(ctx context.Context, address string) (*model.PairedDevice, error) {
	address = model.NormalizeAddress(address)
	if address == "" {
		return nil, ErrInvalidAddress
	}
	pd, err := s.store.GetPairedDevice(ctx, address)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotPaired, address)
	}
	if err != nil {
		return nil, fmt.Errorf("load pairing: %w", err)
	}
	return pd, nil
}

func (s *Service) credentials(pd *model.PairedDevice) device.Credentials {
	return device.Credentials{
		Identity:        s.identity,
		AuthID:          pd.AuthID,
		DevicePublicKey: pd.DevicePublicKey,
	}
}

// find searches for address, one dispatcher job per attempt. Dispatcher
// failures end the search immediately.
func (s *Service) find(ctx context.Context, rec *recorder, address string, attempts int) (*device.Advertisement, error) {
	var found *device.Advertisement
	search := func() error {
		adv, err := dispatch.Do(ctx, s.dispatcher, "find "+address, dispatch.Sync(func() (*device.Advertisement, error) {
			return s.radio.Find(address, s.opts.ScanTimeout)
		}))
		if err != nil {
			if Unavailable(err) || ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		if adv == nil {
			return fmt.Errorf("%w: %s", ErrUnreachable, address)
		}
		found = adv
		return nil
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.opts.RetryInterval), uint64(max(attempts-1, 0))),
		ctx,
	)
	notify := func(err error, wait time.Duration) {
		rec.emit("%s; retrying in %s", ErrorMessage(err), wait)
	}
	if err := backoff.RetryNotify(search, b, notify); err != nil {
		return nil, err
	}
	rec.emit("found %s", address)
	return found, nil
}

// inSession runs fn as a single dispatcher job: open, connect, fn, disconnect.
// The job is bounded by the operation timeout.
func inSession[T any](ctx context.Context, s *Service, rec *recorder, name string, adv device.Advertisement, creds device.Credentials, fn func(context.Context, device.Session) (T, error)) (T, error) {
	timeout := s.opts.OperationTimeout
	return dispatch.Do(ctx, s.dispatcher, name, dispatch.Async(func(jobCtx context.Context) (v T, err error) {
		jobCtx, cancel := context.WithTimeout(jobCtx, timeout)
		defer cancel()

		sess, err := s.radio.Open(adv, creds)
		if err != nil {
			return v, err
		}
		if err := sess.Connect(jobCtx); err != nil {
			return v, fmt.Errorf("connect: %w", err)
		}
		rec.emit("connected to %s", adv.Address)
		defer func() {
			if dErr := sess.Disconnect(context.WithoutCancel(jobCtx)); dErr != nil {
				s.logger.Warn("disconnect failed", "address", adv.Address, "error", dErr)
			}
			rec.emit("disconnected from %s", adv.Address)
		}()

		v, err = fn(jobCtx, sess)
		if err != nil && errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("operation timed out after %s: %w", timeout, err)
		}
		return v, err
	}))
}
