package lte

import (
	"fmt"
	"sort"
)

// Band describes the downlink channel raster of one E-UTRA operating band.
type Band struct {
	Number   int
	FDLLowHz float64
	NOffsDL  int
	NDLMin   int
	NDLMax   int
}

// Downlink band table, TS 36.101 table 5.7.3-1.
var bands = []Band{
	{1, 2110e6, 0, 0, 599},
	{2, 1930e6, 600, 600, 1199},
	{3, 1805e6, 1200, 1200, 1949},
	{4, 2110e6, 1950, 1950, 2399},
	{5, 869e6, 2400, 2400, 2649},
	{7, 2620e6, 2750, 2750, 3449},
	{8, 925e6, 3450, 3450, 3799},
	{12, 729e6, 5010, 5010, 5179},
	{13, 746e6, 5180, 5180, 5279},
	{14, 758e6, 5280, 5280, 5379},
	{17, 734e6, 5730, 5730, 5849},
	{20, 791e6, 6150, 6150, 6449},
	{25, 1930e6, 8040, 8040, 8689},
	{26, 859e6, 8690, 8690, 9039},
	{28, 758e6, 9210, 9210, 9659},
	{66, 2110e6, 66436, 66436, 67335},
}

// LookupBand returns the band definition for an operating band number.
func LookupBand(number int) (Band, error) {
	for _, b := range bands {
		if b.Number == number {
			return b, nil
		}
	}
	return Band{}, fmt.Errorf("unsupported band %d", number)
}

// Bands returns the supported band numbers in ascending order.
func Bands() []int {
	out := make([]int, 0, len(bands))
	for _, b := range bands {
		out = append(out, b.Number)
	}
	sort.Ints(out)
	return out
}

// EARFCNToHz converts a downlink EARFCN to its carrier frequency.
func EARFCNToHz(earfcn int) (float64, error) {
	for _, b := range bands {
		if earfcn >= b.NDLMin && earfcn <= b.NDLMax {
			return b.FrequencyHz(earfcn), nil
		}
	}
	return 0, fmt.Errorf("earfcn %d is not in a supported band", earfcn)
}

// FrequencyHz returns F_DL = F_DL_low + 0.1 MHz * (N_DL - N_Offs-DL).
func (b Band) FrequencyHz(earfcn int) float64 {
	return b.FDLLowHz + 100e3*float64(earfcn-b.NOffsDL)
}

// Channels returns every downlink frequency of the band in ascending order.
// A non-zero [start, end] EARFCN range restricts the list.
func (b Band) Channels(start, end int) []float64 {
	lo, hi := b.NDLMin, b.NDLMax
	if start > lo {
		lo = start
	}
	if end > 0 && end < hi {
		hi = end
	}
	var out []float64
	for n := lo; n <= hi; n++ {
		out = append(out, b.FrequencyHz(n))
	}
	return out
}
