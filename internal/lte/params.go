package lte

import "fmt"

// Cell search numerology (6 resource blocks, 1.92 Msps).
const (
	FFTSize      = 128
	SampleRate   = 1.92e6
	SlotLen      = 960
	SubframeLen  = 2 * SlotLen
	HalfFrameLen = 5 * SubframeLen // PSS period
	FrameLen     = 10 * SubframeLen
	SyncLen      = 62 // PSS/SSS occupied subcarriers
	NumPrimary   = 3
	NumSecondary = 168
	MaxCellID    = 503
	SubcarrierHz = 15000.0
	NumCarriers  = 72 // 6 RB x 12

	// Start of the PSS useful part (after CP) within slot 0. Identical for
	// both cyclic prefix lengths at this rate.
	PSSSlotOffset = 832
)

// Cyclic prefix lengths at 1.92 Msps.
const (
	NormalCPFirst = 10
	NormalCP      = 9
	ExtendedCP    = 32
)

// CyclicPrefix is the guard interval length of an LTE cell.
type CyclicPrefix int

const (
	CPNormal CyclicPrefix = iota
	CPExtended
)

// String returns the prefix name.
func (cp CyclicPrefix) String() string {
	switch cp {
	case CPNormal:
		return "normal"
	case CPExtended:
		return "extended"
	default:
		return fmt.Sprintf("CyclicPrefix(%d)", int(cp))
	}
}

// SymbolsPerSlot returns 7 for normal and 6 for extended prefix.
func (cp CyclicPrefix) SymbolsPerSlot() int {
	if cp == CPExtended {
		return 6
	}
	return 7
}

// Len returns the prefix length of symbol l within a slot.
func (cp CyclicPrefix) Len(l int) int {
	if cp == CPExtended {
		return ExtendedCP
	}
	if l == 0 {
		return NormalCPFirst
	}
	return NormalCP
}

// SSSDistance is the distance in samples from the start of the SSS useful
// part to the start of the PSS useful part.
func (cp CyclicPrefix) SSSDistance() int {
	return FFTSize + cp.Len(cp.SymbolsPerSlot()-1)
}

// CellID combines the two group indices into a physical cell identity.
func CellID(secondary, primary int) int {
	return 3*secondary + primary
}

// SplitCellID is the inverse of CellID.
func SplitCellID(cellID int) (secondary, primary int) {
	return cellID / 3, cellID % 3
}

// CellCandidate is a resolved cell handed to the broadcast channel decoder.
type CellCandidate struct {
	CellID         int          `json:"cellId"`
	PrimaryGroup   int          `json:"primaryGroup"`
	SecondaryGroup int          `json:"secondaryGroup"`
	CyclicPrefix   CyclicPrefix `json:"cyclicPrefix"`
	FrameOffset    int          `json:"frameOffset"`
	CFO            float64      `json:"cfo"`   // cycles per sample
	CFOHz          float64      `json:"cfoHz"` // at SampleRate
	Quality        float64      `json:"quality"`
	FrequencyHz    float64      `json:"frequencyHz"`
	Subframe       int          `json:"subframe"`
	Frames         int          `json:"frames"`
}

// MarshalText encodes the prefix by name for JSON and YAML output.
func (cp CyclicPrefix) MarshalText() ([]byte, error) {
	return []byte(cp.String()), nil
}

// UnmarshalText parses "normal" or "extended".
func (cp *CyclicPrefix) UnmarshalText(b []byte) error {
	switch string(b) {
	case "normal":
		*cp = CPNormal
	case "extended":
		*cp = CPExtended
	default:
		return fmt.Errorf("unknown cyclic prefix %q", string(b))
	}
	return nil
}
