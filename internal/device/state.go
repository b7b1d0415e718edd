package device

import (
	"fmt"
	"strings"
)

// LockState is the keyturner lock state.
type LockState uint8

const (
	LockStateUncalibrated    LockState = 0x00
	LockStateLocked          LockState = 0x01
	LockStateUnlocking       LockState = 0x02
	LockStateUnlocked        LockState = 0x03
	LockStateLocking         LockState = 0x04
	LockStateUnlatched       LockState = 0x05
	LockStateUnlockedLockNGo LockState = 0x06
	LockStateUnlatching      LockState = 0x07
	LockStateCalibration     LockState = 0xFC
	LockStateBootRun         LockState = 0xFD
	LockStateMotorBlocked    LockState = 0xFE
	LockStateUndefined       LockState = 0xFF
)

var lockStateNames = []symbol[LockState]{
	{LockStateUncalibrated, "uncalibrated"},
	{LockStateLocked, "locked"},
	{LockStateUnlocking, "unlocking"},
	{LockStateUnlocked, "unlocked"},
	{LockStateLocking, "locking"},
	{LockStateUnlatched, "unlatched"},
	{LockStateUnlockedLockNGo, "unlocked_lock_n_go"},
	{LockStateUnlatching, "unlatching"},
	{LockStateCalibration, "calibration"},
	{LockStateBootRun, "boot_run"},
	{LockStateMotorBlocked, "motor_blocked"},
	{LockStateUndefined, "undefined"},
}

func (s LockState) String() string { return lookup(lockStateNames, s) }

// LockAction is a command a lock can perform, also reported as its last action.
type LockAction uint8

const (
	LockActionNone           LockAction = 0x00
	LockActionUnlock         LockAction = 0x01
	LockActionLock           LockAction = 0x02
	LockActionUnlatch        LockAction = 0x03
	LockActionLockNGo        LockAction = 0x04
	LockActionLockNGoUnlatch LockAction = 0x05
	LockActionFullLock       LockAction = 0x06
	LockActionFobAction1     LockAction = 0x81
	LockActionFobAction2     LockAction = 0x82
	LockActionFobAction3     LockAction = 0x83
)

var lockActionNames = []symbol[LockAction]{
	{LockActionNone, "none"},
	{LockActionUnlock, "unlock"},
	{LockActionLock, "lock"},
	{LockActionUnlatch, "unlatch"},
	{LockActionLockNGo, "lock_n_go"},
	{LockActionLockNGoUnlatch, "lock_n_go_unlatch"},
	{LockActionFullLock, "full_lock"},
	{LockActionFobAction1, "fob_action_1"},
	{LockActionFobAction2, "fob_action_2"},
	{LockActionFobAction3, "fob_action_3"},
}

func (a LockAction) String() string { return lookup(lockActionNames, a) }

// DoorSensorState is the state of an attached door sensor.
type DoorSensorState uint8

const (
	DoorSensorUnavailable  DoorSensorState = 0x00
	DoorSensorDeactivated  DoorSensorState = 0x01
	DoorSensorClosed       DoorSensorState = 0x02
	DoorSensorOpened       DoorSensorState = 0x03
	DoorSensorUnknown      DoorSensorState = 0x04
	DoorSensorCalibrating  DoorSensorState = 0x05
	DoorSensorUncalibrated DoorSensorState = 0x10
	DoorSensorTampered     DoorSensorState = 0xF0
	DoorSensorStateUnknown DoorSensorState = 0xFF
)

var doorSensorNames = []symbol[DoorSensorState]{
	{DoorSensorUnavailable, "unavailable"},
	{DoorSensorDeactivated, "deactivated"},
	{DoorSensorClosed, "door_closed"},
	{DoorSensorOpened, "door_opened"},
	{DoorSensorUnknown, "door_state_unknown"},
	{DoorSensorCalibrating, "calibrating"},
	{DoorSensorUncalibrated, "uncalibrated"},
	{DoorSensorTampered, "tampered"},
	{DoorSensorStateUnknown, "unknown"},
}

func (d DoorSensorState) String() string { return lookup(doorSensorNames, d) }

// DeviceType identifies the product family of a lock.
type DeviceType uint8

const (
	DeviceTypeSmartlock  DeviceType = 0x00
	DeviceTypeOpener     DeviceType = 0x02
	DeviceTypeSmartdoor  DeviceType = 0x03
	DeviceTypeSmartlock3 DeviceType = 0x04
)

var deviceTypeNames = []symbol[DeviceType]{
	{DeviceTypeSmartlock, "smartlock"},
	{DeviceTypeOpener, "opener"},
	{DeviceTypeSmartdoor, "smartdoor"},
	{DeviceTypeSmartlock3, "smartlock3"},
}

func (t DeviceType) String() string { return lookup(deviceTypeNames, t) }

// NukiState is the operating mode of a lock.
type NukiState uint8

const (
	NukiStateUninitialized NukiState = 0x00
	NukiStatePairingMode   NukiState = 0x01
	NukiStateDoorMode      NukiState = 0x02
	NukiStateMaintenance   NukiState = 0x04
)

var nukiStateNames = []symbol[NukiState]{
	{NukiStateUninitialized, "uninitialized"},
	{NukiStatePairingMode, "pairing_mode"},
	{NukiStateDoorMode, "door_mode"},
	{NukiStateMaintenance, "maintenance_mode"},
}

func (n NukiState) String() string { return lookup(nukiStateNames, n) }

// State is a snapshot read from a lock by Session.UpdateState.
type State struct {
	Name              string
	NukiID            string
	FirmwareVersion   [3]uint8
	HardwareRevision  [2]uint8
	PairingEnabled    bool
	LockState         LockState
	BatteryPercentage int
	DeviceType        DeviceType
	NightmodeActive   bool
	LastAction        LockAction
	DoorSensorState   DoorSensorState
	NukiState         NukiState
}

// StateView is the client-facing rendering of a State.
type StateView struct {
	Name              string    `json:"name"`
	ID                string    `json:"id"`
	FirmwareVersion   string    `json:"firmwareVersion"`
	HardwareRevision  string    `json:"hardwareRevision"`
	PairingEnabled    bool      `json:"pairingEnabled"`
	LockState         string    `json:"lockState"`
	BatteryPercentage int       `json:"batteryPercentage"`
	DeviceType        string    `json:"deviceType"`
	NightmodeActive   bool      `json:"nightmodeActive"`
	LastAction        string    `json:"lastAction"`
	DoorSensorState   string    `json:"doorSensorState"`
	DeviceState       string    `json:"deviceState"`
	Help              StateHelp `json:"help"`
}

// StateHelp lists every value each enumerated StateView field can take.
type StateHelp struct {
	LockStateValues       string `json:"lockStateValues"`
	DeviceTypeValues      string `json:"deviceTypeValues"`
	LastActionValues      string `json:"lastActionValues"`
	DoorSensorStateValues string `json:"doorSensorStateValues"`
	DeviceStateValues     string `json:"deviceStateValues"`
}

// Help returns the value listing included in every StateView.
func Help() StateHelp {
	return StateHelp{
		LockStateValues:       names(lockStateNames),
		DeviceTypeValues:      names(deviceTypeNames),
		LastActionValues:      names(lockActionNames),
		DoorSensorStateValues: names(doorSensorNames),
		DeviceStateValues:     names(nukiStateNames),
	}
}

// View renders the state for clients.
func (s State) View() StateView {
	return StateView{
		Name:              s.Name,
		ID:                s.NukiID,
		FirmwareVersion:   fmt.Sprintf("%d.%d.%d", s.FirmwareVersion[0], s.FirmwareVersion[1], s.FirmwareVersion[2]),
		HardwareRevision:  fmt.Sprintf("%d.%d", s.HardwareRevision[0], s.HardwareRevision[1]),
		PairingEnabled:    s.PairingEnabled,
		LockState:         s.LockState.String(),
		BatteryPercentage: s.BatteryPercentage,
		DeviceType:        s.DeviceType.String(),
		NightmodeActive:   s.NightmodeActive,
		LastAction:        s.LastAction.String(),
		DoorSensorState:   s.DoorSensorState.String(),
		DeviceState:       s.NukiState.String(),
		Help:              Help(),
	}
}

type symbol[T ~uint8] struct {
	value T
	name  string
}

func lookup[T ~uint8](table []symbol[T], v T) string {
	for _, s := range table {
		if s.value == v {
			return s.name
		}
	}
	return fmt.Sprintf("unknown(0x%02X)", uint8(v))
}

func names[T ~uint8](table []symbol[T]) string {
	parts := make([]string, len(table))
	for i, s := range table {
		parts[i] = s.name
	}
	return strings.Join(parts, ", ")
}
