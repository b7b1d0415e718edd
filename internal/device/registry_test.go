package device_test

import (
	"testing"
	"time"

	"github.com/seantiz/keyturner/internal/device"
)

// stubRadio is a minimal Radio for registry tests.
type stubRadio struct {
	name string
}

func (s *stubRadio) Discover(time.Duration) ([]device.Advertisement, error) { return nil, nil }

func (s *stubRadio) Find(string, time.Duration) (*device.Advertisement, error) { return nil, nil }

func (s *stubRadio) Open(device.Advertisement, device.Credentials) (device.Session, error) {
	return nil, device.ErrUnsupported
}

func (s *stubRadio) Capabilities() device.Capabilities {
	return device.Capabilities{Name: s.name}
}

var _ device.Radio = (*stubRadio)(nil)

func TestRegistryRegisterAndList(t *testing.T) {
	reg := device.NewRegistry()
	reg.Register("sim", &stubRadio{name: "sim"})
	reg.Register("ble", &stubRadio{name: "ble"})

	list := reg.List()
	if len(list) != 2 {
		t.Fatalf("List() returned %d radios, want 2", len(list))
	}
	if list[0].Name != "ble" || list[1].Name != "sim" {
		t.Errorf("List() order = [%s %s], want [ble sim]", list[0].Name, list[1].Name)
	}
	if list[1].Capabilities.Name != "sim" {
		t.Errorf("capabilities name = %q, want sim", list[1].Capabilities.Name)
	}
}

func TestRegistryResolve(t *testing.T) {
	reg := device.NewRegistry()
	reg.Register("sim", &stubRadio{name: "sim"})

	r, err := reg.Resolve("sim")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if r.Capabilities().Name != "sim" {
		t.Errorf("resolved radio name = %q, want sim", r.Capabilities().Name)
	}
}

func TestRegistryResolveNotRegistered(t *testing.T) {
	reg := device.NewRegistry()

	if _, err := reg.Resolve("ble"); err == nil {
		t.Error("expected error for unregistered radio, got nil")
	}
}

func TestCredentialsPaired(t *testing.T) {
	var creds device.Credentials
	if creds.Paired() {
		t.Error("zero credentials reported as paired")
	}
	creds.AuthID = []byte{1, 2, 3, 4}
	if creds.Paired() {
		t.Error("credentials without device key reported as paired")
	}
	creds.DevicePublicKey = make([]byte, 32)
	if !creds.Paired() {
		t.Error("complete credentials reported as unpaired")
	}
}
