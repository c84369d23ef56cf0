package interlock

import "fmt"

// Aspect is what a single head shows. Larger is more permissive.
type Aspect int

const (
	AspectStop Aspect = iota
	AspectStopAndProceed
	AspectRestricted
	AspectApproach1
	AspectApproach2
	AspectApproach3
	AspectClear1
	AspectClear2
)

func (a Aspect) String() string {
	switch a {
	case AspectStop:
		return "stop"
	case AspectStopAndProceed:
		return "stop-and-proceed"
	case AspectRestricted:
		return "restricted"
	case AspectApproach1:
		return "approach-1"
	case AspectApproach2:
		return "approach-2"
	case AspectApproach3:
		return "approach-3"
	case AspectClear1:
		return "clear-1"
	case AspectClear2:
		return "clear-2"
	default:
		return fmt.Sprintf("aspect(%d)", int(a))
	}
}

// TranslatedAspect is the aspect as shown to dispatchers and drivers.
type TranslatedAspect int

const (
	TranslatedStop TranslatedAspect = iota
	TranslatedStopAndProceed
	TranslatedRestricted
	TranslatedApproach1
	TranslatedApproach2
	TranslatedApproach3
	TranslatedClear1
	TranslatedClear2
	TranslatedPermission
	TranslatedNone
)

func (a TranslatedAspect) String() string {
	switch a {
	case TranslatedPermission:
		return "permission"
	case TranslatedNone:
		return "none"
	default:
		return Aspect(a).String()
	}
}

// BlockState is the block state as shown to dispatchers.
type BlockState int

const (
	BlockClear BlockState = iota
	BlockOccupied
	BlockJnObstructed
)

func (b BlockState) String() string {
	switch b {
	case BlockClear:
		return "clear"
	case BlockOccupied:
		return "occupied"
	case BlockJnObstructed:
		return "jn-obstructed"
	default:
		return fmt.Sprintf("block(%d)", int(b))
	}
}

// InternalBlockstate is ordered from most to least permissive.
// The state of a route is the largest state of its sections.
type InternalBlockstate int

const (
	Reserved InternalBlockstate = iota
	Reservable
	Open
	OccupiedSameDirection
	ReservedOther
	OccupiedOppositeDirection
	ForcedWait
	Blocked
)

func (b InternalBlockstate) String() string {
	switch b {
	case Reserved:
		return "reserved"
	case Reservable:
		return "reservable"
	case Open:
		return "open"
	case OccupiedSameDirection:
		return "occupied-same"
	case ReservedOther:
		return "reserved-other"
	case OccupiedOppositeDirection:
		return "occupied-opposite"
	case ForcedWait:
		return "forced-wait"
	case Blocked:
		return "blocked"
	default:
		return fmt.Sprintf("blockstate(%d)", int(b))
	}
}

func maxState(a, b InternalBlockstate) InternalBlockstate {
	if a > b {
		return a
	}
	return b
}

func (b InternalBlockstate) external() BlockState {
	switch b {
	case Reserved, Reservable:
		return BlockClear
	case OccupiedSameDirection:
		return BlockOccupied
	default:
		return BlockJnObstructed
	}
}

type HoldState int

const (
	HoldNone HoldState = iota
	HoldManualLock
	HoldStationStop
	HoldManualPass
	HoldManualApproach
)

func (h HoldState) String() string {
	switch h {
	case HoldNone:
		return "none"
	case HoldManualLock:
		return "manual-lock"
	case HoldStationStop:
		return "station-stop"
	case HoldManualPass:
		return "manual-pass"
	case HoldManualApproach:
		return "manual-approach"
	default:
		return fmt.Sprintf("hold(%d)", int(h))
	}
}

// holding reports whether the hold keeps the signal at stop.
func (h HoldState) holding() bool {
	return h == HoldManualLock || h == HoldStationStop
}

type Permission int

const (
	PermissionDenied Permission = iota
	PermissionRequested
	PermissionGranted
)

func (p Permission) String() string {
	switch p {
	case PermissionDenied:
		return "denied"
	case PermissionRequested:
		return "requested"
	case PermissionGranted:
		return "granted"
	default:
		return fmt.Sprintf("permission(%d)", int(p))
	}
}

// AuthorityType is why a train's end of authority is where it is.
type AuthorityType int

const (
	AuthorityNoPathReserved AuthorityType = iota
	AuthorityMaxDistance
	AuthorityLoop
	AuthorityEndOfTrack
	AuthorityEndOfPath
	AuthorityReservedSwitch
	AuthorityTrainAhead
	AuthoritySignal
	AuthorityEndOfAuthority
	AuthorityPoolAccess
)

func (a AuthorityType) String() string {
	switch a {
	case AuthorityNoPathReserved:
		return "no-path-reserved"
	case AuthorityMaxDistance:
		return "max-distance"
	case AuthorityLoop:
		return "loop"
	case AuthorityEndOfTrack:
		return "end-of-track"
	case AuthorityEndOfPath:
		return "end-of-path"
	case AuthorityReservedSwitch:
		return "reserved-switch"
	case AuthorityTrainAhead:
		return "train-ahead"
	case AuthoritySignal:
		return "signal"
	case AuthorityEndOfAuthority:
		return "end-of-authority"
	case AuthorityPoolAccess:
		return "pool-access"
	default:
		return fmt.Sprintf("authority(%d)", int(a))
	}
}
