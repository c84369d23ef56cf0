package interlock

import (
	"errors"
	"fmt"
)

var (
	ErrNilTrain       = errors.New("nil train")
	ErrNilRoute       = errors.New("nil or empty route")
	ErrUnknownSection = errors.New("unknown section")
	ErrUnknownSignal  = errors.New("unknown signal")
	ErrUnknownTrain   = errors.New("unknown train")
	ErrCorruptSave    = errors.New("corrupt save")
	ErrNotSwitchable  = errors.New("section is not a junction or crossover")
	ErrSwitchOccupied = errors.New("switch is occupied")
)

type DeadlockStrategy string

const (
	StrategyPath     DeadlockStrategy = "path"
	StrategyLocation DeadlockStrategy = "location"
)

type Config struct {
	DeadlockStrategy DeadlockStrategy `json:"deadlock-strategy"`
	// StandardOverlap is the overlap in metres added to every section before it is cleared.
	StandardOverlap float64 `json:"standard-overlap"`
	// JunctionOverlap is used for junctions and crossovers without their own overlap.
	JunctionOverlap float64 `json:"junction-overlap"`
	// ClearanceDistance is the minimum distance a train has to run past a section before it is cleared.
	ClearanceDistance float64 `json:"clearance-distance"`
	// MaxAuthority is the farthest node control hands out authority, in metres.
	MaxAuthority float64 `json:"max-authority"`
	// UpdateSlices is how many partial updates it takes to update every signal once.
	UpdateSlices int  `json:"update-slices"`
	Claim        bool `json:"claim"`
	// TrainAheadMargin is kept between a train's end of authority and the rear of the train ahead.
	TrainAheadMargin float64 `json:"train-ahead-margin"`
}

func DefaultConfig() Config {
	return Config{
		DeadlockStrategy:  StrategyPath,
		StandardOverlap:   15,
		JunctionOverlap:   30,
		ClearanceDistance: 0,
		MaxAuthority:      4000,
		UpdateSlices:      20,
		Claim:             true,
		TrainAheadMargin:  5,
	}
}

func (c Config) Validate() error {
	switch c.DeadlockStrategy {
	case StrategyPath, StrategyLocation:
	default:
		return fmt.Errorf("deadlock-strategy: unknown %q", c.DeadlockStrategy)
	}
	if c.UpdateSlices <= 0 {
		return fmt.Errorf("update-slices: must be positive, not %d", c.UpdateSlices)
	}
	if c.MaxAuthority <= 0 {
		return fmt.Errorf("max-authority: must be positive, not %f", c.MaxAuthority)
	}
	return nil
}
