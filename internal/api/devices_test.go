package api

import (
	"net/http"
	"strings"
	"testing"

	"github.com/seantiz/keyturner/internal/device"
	"github.com/seantiz/keyturner/internal/device/sim"
	"github.com/seantiz/keyturner/internal/engine"
)

func TestPairDevice(t *testing.T) {
	l := sim.NewLock(frontDoor, "Front Door")
	env := newTestEnv(t, withLocks(l))
	l.SetPairingMode(true)

	resp := env.do(t, http.MethodPost, "/v1/devices", map[string]string{"address": strings.ToLower(frontDoor)})
	expectStatus(t, resp, http.StatusCreated)

	body := decode[messageResponse](t, resp)
	if body.Message != "Device registered successfully" {
		t.Errorf("message = %q", body.Message)
	}
	data, ok := body.Data.(map[string]any)
	if !ok {
		t.Fatalf("data = %T, want object", body.Data)
	}
	if data["address"] != frontDoor {
		t.Errorf("address = %v, want %s", data["address"], frontDoor)
	}
	if _, leaked := data["AuthID"]; leaked {
		t.Error("credentials exposed in response")
	}
}

func TestPairDeviceValidation(t *testing.T) {
	env := newTestEnv(t, sim.NewRadio())

	tests := []struct {
		name string
		body any
		want string
	}{
		{"missing address", map[string]string{}, engine.ErrInvalidAddress.Error()},
		{"malformed address", map[string]string{"address": "front-door"}, errMalformedAddress.Error()},
		{"invalid json", "{", "invalid JSON body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodPost, "/v1/devices", tt.body)
			expectStatus(t, resp, http.StatusBadRequest)
			if got := decode[errorResponse](t, resp).Error; got != tt.want {
				t.Errorf("error = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPairDeviceNotInPairingMode(t *testing.T) {
	env := newTestEnv(t, withLocks(sim.NewLock(frontDoor, "Front Door")))

	resp := env.do(t, http.MethodPost, "/v1/devices", map[string]string{"address": frontDoor})
	expectStatus(t, resp, http.StatusInternalServerError)

	got := decode[errorResponse](t, resp).Error
	if !strings.Contains(got, "pairing mode") {
		t.Errorf("error = %q, want pairing hint", got)
	}
}

func TestListDevices(t *testing.T) {
	front := sim.NewLock(frontDoor, "Front Door")
	back := sim.NewLock(backDoor, "Back Door")
	env := newTestEnv(t, withLocks(front, back))
	env.pairLock(t, front)
	env.pairLock(t, back)
	back.SetReachable(false)

	resp := env.do(t, http.MethodGet, "/v1/devices", nil)
	expectStatus(t, resp, http.StatusOK)

	body := decode[devicesResponse](t, resp)
	if body.Message != "Found 2 registered devices" {
		t.Errorf("message = %q", body.Message)
	}
	reachable := map[string]bool{}
	for _, d := range body.Devices {
		reachable[d.Address] = d.IsReachable
	}
	if !reachable[frontDoor] || reachable[backDoor] {
		t.Errorf("reachability = %v, want front only", reachable)
	}
}

func TestDeviceCommands(t *testing.T) {
	l := sim.NewLock(frontDoor, "Front Door")
	env := newTestEnv(t, withLocks(l))
	env.pairLock(t, l)

	tests := []struct {
		action  string
		message string
		state   device.LockState
	}{
		{"unlock", "Unlocked successfully", device.LockStateUnlocked},
		{"lock", "Locked successfully", device.LockStateLocked},
		{"unlatch", "Unlatched successfully", device.LockStateUnlatched},
	}

	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			resp := env.do(t, http.MethodPost, "/v1/devices/"+frontDoor+"/"+tt.action, nil)
			expectStatus(t, resp, http.StatusOK)
			if got := decode[engine.ActionResult](t, resp).Message; got != tt.message {
				t.Errorf("message = %q, want %q", got, tt.message)
			}
			if got := l.State().LockState; got != tt.state {
				t.Errorf("lock state = %v, want %v", got, tt.state)
			}
		})
	}
}

func TestDeviceCommandEscapedAddress(t *testing.T) {
	l := sim.NewLock(frontDoor, "Front Door")
	env := newTestEnv(t, withLocks(l))
	env.pairLock(t, l)

	escaped := strings.ReplaceAll(frontDoor, ":", "%3A")
	resp := env.do(t, http.MethodPost, "/v1/devices/"+escaped+"/unlock", nil)
	expectStatus(t, resp, http.StatusOK)

	if got := l.State().LockState; got != device.LockStateUnlocked {
		t.Errorf("lock state = %v, want unlocked", got)
	}
}

func TestDeviceCommandErrors(t *testing.T) {
	l := sim.NewLock(frontDoor, "Front Door")
	env := newTestEnv(t, withLocks(l))
	env.pairLock(t, l)

	tests := []struct {
		name string
		path string
		want int
	}{
		{"not paired", "/v1/devices/" + backDoor + "/lock", http.StatusNotFound},
		{"unknown action", "/v1/devices/" + frontDoor + "/open", http.StatusBadRequest},
		{"malformed address", "/v1/devices/front-door/lock", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodPost, tt.path, nil)
			expectStatus(t, resp, tt.want)
		})
	}
}

func TestDeviceCommandUnreachable(t *testing.T) {
	l := sim.NewLock(frontDoor, "Front Door")
	env := newTestEnv(t, withLocks(l))
	env.pairLock(t, l)
	l.SetReachable(false)

	resp := env.do(t, http.MethodPost, "/v1/devices/"+frontDoor+"/lock", nil)
	expectStatus(t, resp, http.StatusInternalServerError)

	if got := decode[errorResponse](t, resp).Error; !strings.Contains(got, "not reachable") {
		t.Errorf("error = %q, want unreachable message", got)
	}
}

func TestDeviceState(t *testing.T) {
	l := sim.NewLock(frontDoor, "Front Door")
	env := newTestEnv(t, withLocks(l))
	env.pairLock(t, l)

	resp := env.do(t, http.MethodGet, "/v1/devices/"+frontDoor+"/state", nil)
	expectStatus(t, resp, http.StatusOK)

	view := decode[device.StateView](t, resp)
	if view.Name != "Front Door" {
		t.Errorf("name = %q, want %q", view.Name, "Front Door")
	}
	if view.LockState != "locked" {
		t.Errorf("lockState = %q, want locked", view.LockState)
	}
	if !strings.Contains(view.Help.LockStateValues, "unlatched") {
		t.Errorf("help.lockStateValues = %q", view.Help.LockStateValues)
	}
}

func TestUnpairDevice(t *testing.T) {
	l := sim.NewLock(frontDoor, "Front Door")
	env := newTestEnv(t, withLocks(l))
	env.pairLock(t, l)

	resp := env.do(t, http.MethodDelete, "/v1/devices/"+frontDoor, nil)
	expectStatus(t, resp, http.StatusOK)

	resp = env.do(t, http.MethodDelete, "/v1/devices/"+frontDoor, nil)
	expectStatus(t, resp, http.StatusNotFound)
}

func TestScan(t *testing.T) {
	env := newTestEnv(t, withLocks(
		sim.NewLock(frontDoor, "Front Door"),
		sim.NewLock(backDoor, "Back Door"),
	))

	resp := env.do(t, http.MethodGet, "/v1/scan", nil)
	expectStatus(t, resp, http.StatusOK)

	body := decode[scanResponse](t, resp)
	if body.Message != "Found 2 possible Nuki devices" {
		t.Errorf("message = %q", body.Message)
	}
}

func TestDeviceRoutesUnavailableWhenStopped(t *testing.T) {
	l := sim.NewLock(frontDoor, "Front Door")
	env := newTestEnv(t, withLocks(l))
	env.pairLock(t, l)
	env.dispatcher.Stop()

	resp := env.do(t, http.MethodPost, "/v1/devices/"+frontDoor+"/lock", nil)
	expectStatus(t, resp, http.StatusServiceUnavailable)

	if got := decode[errorResponse](t, resp).Code; got != "dispatcher_unavailable" {
		t.Errorf("code = %q, want dispatcher_unavailable", got)
	}
}
