package detector

import (
	"fmt"
	"strings"

	"github.com/danmuck/xspressctl/internal/paramtree"
)

// Acquisition modes as reported in config/mode.
const (
	ModeMCA  = "mca"
	ModeList = "list"
)

// Default process counts for each mode.
const (
	NumProcessMCA  = 9
	NumProcessList = 8
)

// Exposure limits in seconds.
const (
	ExposureLowerLimit = 1.0 / 1000000
	ExposureUpperLimit = 20.0
)

// Message groups. Every configure message nests its keys under one of these.
const (
	GroupConfig  = "config"
	GroupApp     = "app"
	GroupDAQ     = "daq"
	GroupCommand = "command"
)

// Top level tree groups that are not message groups.
const (
	TreeAPI                  = "api"
	TreeAdapter              = "adapter"
	TreeStatus               = "status"
	TreeVersion              = "version"
	TreeProcess              = "process"
	TreeRequestConfiguration = "request_configuration"
)

// Keys sent to the control server.
const (
	KeyNumCards     = "num_cards"
	KeyNumTF        = "num_tf"
	KeyBaseIP       = "base_ip"
	KeyMaxChannels  = "max_channels"
	KeyMCAChannels  = "mca_channels"
	KeyMaxSpectra   = "max_spectra"
	KeyDebug        = "debug"
	KeyConfigPath   = "config_path"
	KeySavePath     = "config_save_path"
	KeyUseResgrades = "use_resgrades"
	KeyRunFlags     = "run_flags"
	KeyDTCEnergy    = "dtc_energy"
	KeyTriggerMode  = "trigger_mode"
	KeyInvertF0     = "invert_f0"
	KeyInvertVeto   = "invert_veto"
	KeyDebounce     = "debounce"
	KeyExposureTime = "exposure_time"
	KeyNumImages    = "num_images"
	KeyMode         = "mode"
	KeyModeControl  = "mode_control"

	KeyDAQEnabled   = "enabled"
	KeyDAQEndpoints = "endpoints"

	KeyAppDebug        = "debug_level"
	KeyAppCtrlEndpoint = "ctrl_endpoint"
	KeyAppShutdown     = "shutdown"

	CmdConnect          = "connect"
	CmdDisconnect       = "disconnect"
	CmdSave             = "save"
	CmdRestore          = "restore"
	CmdStart            = "start"
	CmdStop             = "stop"
	CmdTrigger          = "trigger"
	CmdStartAcquisition = "start_acquisition"
	CmdStopAcquisition  = "stop_acquisition"
	CmdReconfigure      = "reconfigure"
)

// Paths read by the controller itself.
const (
	PathMode                = "config/mode"
	PathMaxChannels         = "config/max_channels"
	PathExposureTime        = "config/exposure_time"
	PathAcquisitionComplete = "status/acquisition_complete"
)

// Per-channel list parameters pushed to the control server.
var scaLists = []string{"sca5_low_lim", "sca5_high_lim", "sca6_low_lim", "sca6_high_lim", "sca4_threshold"}

// Dead time correction lists mirrored from the control server.
var dtcLists = []string{
	"dtc_flags",
	"dtc_all_evt_off",
	"dtc_all_evt_grad",
	"dtc_all_evt_rate_off",
	"dtc_all_evt_rate_grad",
	"dtc_in_win_off",
	"dtc_in_win_grad",
	"dtc_in_win_rate_off",
	"dtc_in_win_rate_grad",
}

// Per-channel status lists mirrored from the control server.
var statusLists = []string{
	"scalar_0", "scalar_1", "scalar_2", "scalar_3", "scalar_4",
	"scalar_5", "scalar_6", "scalar_7", "scalar_8",
	"dtc", "inp_est",
	"temp_0", "temp_1", "temp_2", "temp_3", "temp_4", "temp_5",
	"ch_frames_acquired", "fem_dropped_frames", "cards_connected", "num_ch_connected",
}

// TriggerMode is the integer trigger mode understood by the control server.
type TriggerMode int

const (
	TriggerSoftware TriggerMode = iota
	TriggerTTLRisingEdge
	TriggerBurst
	TriggerTTLVetoOnly
	TriggerSoftwareStartStop
	TriggerIDC
	TriggerTTLBoth
	TriggerLVDSVetoOnly
	TriggerLVDSBoth
)

var triggerModeNames = []string{
	"software",
	"ttl_rising_edge",
	"burst",
	"ttl_veto_only",
	"software_start_stop",
	"idc",
	"ttl_both",
	"lvds_veto_only",
	"lvds_both",
}

func (m TriggerMode) Valid() bool {
	return m >= TriggerSoftware && m <= TriggerLVDSBoth
}

func (m TriggerMode) String() string {
	if !m.Valid() {
		return fmt.Sprintf("TriggerMode(%d)", int(m))
	}
	return triggerModeNames[m]
}

// ParseTriggerMode accepts a trigger mode name or its integer value.
func ParseTriggerMode(value any) (TriggerMode, error) {
	switch v := value.(type) {
	case TriggerMode:
		if v.Valid() {
			return v, nil
		}
	case string:
		return TriggerModeFromString(v)
	default:
		if i, err := paramtree.KindInt.Coerce(value); err == nil && TriggerMode(i.(int)).Valid() {
			return TriggerMode(i.(int)), nil
		}
	}
	return 0, fmt.Errorf("%w: trigger mode %v", ErrInvalidArgument, value)
}

// TriggerModeFromString maps a trigger mode name to its integer value.
func TriggerModeFromString(name string) (TriggerMode, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range triggerModeNames {
		if n == name {
			return TriggerMode(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown trigger mode %q", ErrInvalidArgument, name)
}
