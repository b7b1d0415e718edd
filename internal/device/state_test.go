package device

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestEnumStrings(t *testing.T) {
	tests := []struct {
		got  string
		want string
	}{
		{LockStateLocked.String(), "locked"},
		{LockStateMotorBlocked.String(), "motor_blocked"},
		{LockState(0x42).String(), "unknown(0x42)"},
		{LockActionUnlatch.String(), "unlatch"},
		{LockActionFobAction2.String(), "fob_action_2"},
		{DoorSensorClosed.String(), "door_closed"},
		{DeviceTypeOpener.String(), "opener"},
		{NukiStateDoorMode.String(), "door_mode"},
	}
	for _, tc := range tests {
		if tc.got != tc.want {
			t.Errorf("String() = %q, want %q", tc.got, tc.want)
		}
	}
}

func TestHelpListsEveryValue(t *testing.T) {
	help := Help()

	if n := len(strings.Split(help.LockStateValues, ", ")); n != len(lockStateNames) {
		t.Errorf("lock state values = %d, want %d", n, len(lockStateNames))
	}
	if !strings.HasPrefix(help.LockStateValues, "uncalibrated, locked") {
		t.Errorf("LockStateValues = %q", help.LockStateValues)
	}
	if !strings.Contains(help.DeviceStateValues, "maintenance_mode") {
		t.Errorf("DeviceStateValues = %q", help.DeviceStateValues)
	}
}

func TestStateView(t *testing.T) {
	s := State{
		Name:              "Front Door",
		NukiID:            "2A3B4C5D",
		FirmwareVersion:   [3]uint8{2, 12, 4},
		HardwareRevision:  [2]uint8{5, 1},
		LockState:         LockStateUnlocked,
		BatteryPercentage: 80,
		DeviceType:        DeviceTypeSmartlock3,
		LastAction:        LockActionUnlock,
		DoorSensorState:   DoorSensorClosed,
		NukiState:         NukiStateDoorMode,
	}

	v := s.View()
	if v.FirmwareVersion != "2.12.4" || v.HardwareRevision != "5.1" {
		t.Errorf("versions = %q / %q", v.FirmwareVersion, v.HardwareRevision)
	}
	if v.LockState != "unlocked" || v.DeviceState != "door_mode" {
		t.Errorf("LockState = %q, DeviceState = %q", v.LockState, v.DeviceState)
	}

	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for _, key := range []string{`"lockState"`, `"batteryPercentage"`, `"deviceTypeValues"`, `"id"`} {
		if !strings.Contains(string(data), key) {
			t.Errorf("JSON %s missing key %s", data, key)
		}
	}
}
