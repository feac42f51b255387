package types

// CoreState is the coordinator's view of one secondary core.
type CoreState string

const (
	CoreOff       CoreState = "off"
	CoreReleasing CoreState = "releasing"
	CoreOn        CoreState = "on"
	CoreParking   CoreState = "parking"
)

// AffinityState values follow the PSCI AFFINITY_INFO encoding.
type AffinityState int32

const (
	AffinityOn  AffinityState = 0
	AffinityOff AffinityState = 1
)

func (a AffinityState) String() string {
	switch a {
	case AffinityOn:
		return "on"
	case AffinityOff:
		return "off"
	default:
		return "unknown"
	}
}

// ---- Power state argument of CPU_SUSPEND ----

// PowerStateType is the StateType field.
type PowerStateType uint32

const (
	PowerStateStandby   PowerStateType = 0
	PowerStatePowerDown PowerStateType = 1
)

const (
	PowerStateIDMask    = 0xFFFF
	PowerStateTypeShift = 16
	PowerStateTypeMask  = 0x3 << PowerStateTypeShift
)

// PowerState is the raw power_state word.
type PowerState uint32

func (p PowerState) ID() uint32 { return uint32(p) & PowerStateIDMask }
func (p PowerState) Type() PowerStateType {
	return PowerStateType((uint32(p) & PowerStateTypeMask) >> PowerStateTypeShift)
}

// MakePowerState packs a StateType and StateID.
func MakePowerState(t PowerStateType, id uint32) PowerState {
	return PowerState(uint32(t)<<PowerStateTypeShift&PowerStateTypeMask | id&PowerStateIDMask)
}

// NSecContext is the saved non-secure register context handed to the
// platform suspend routine. It is passed through untouched.
type NSecContext struct {
	MonLR   uint32
	MonSPSR uint32
	R       [13]uint32
}

// CoreStateEvent is the retained payload on psci/core/<n>/state.
type CoreStateEvent struct {
	Core  int       `json:"core"`
	State CoreState `json:"state"`
	Entry uint32    `json:"entry,omitempty"`
	TS    int64     `json:"ts_ms"`
}
