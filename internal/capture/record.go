// Package capture stores aligned radio frames of resolved cells in a
// self-describing, checksummed record format with Reed-Solomon parity.
package capture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"math"

	"github.com/jeongseonghan/lte-cellsync/internal/lte"
)

// Record layout, big endian. The body is
// [Magic(4)][Version(1)][CP(1)][CellID(2)][FrameOffset(4)][Subframe(1)][Reserved(3)]
// [FrequencyHz(8)][CFO(8)][Quality(8)][NumSamples(4)][I/Q float32 pairs][CRC-32(4)]
// and is followed by the parity trailer
// [shard CRC-32s(4*(DataShards+ParityShards))][parity shards][ShardSize(4)].
const (
	Magic      = "LTEF"
	Version    = 2
	HeaderSize = 44
	CRCSize    = 4
)

var (
	ErrBadMagic    = errors.New("capture: bad magic")
	ErrBadChecksum = errors.New("capture: CRC mismatch")
)

// Record is one aligned frame with the cell it belongs to.
type Record struct {
	Cell    lte.CellCandidate
	Samples []complex64
}

// EncodedLen returns the size of an encoded record of n samples.
func EncodedLen(n int) int {
	body := HeaderSize + 8*n + CRCSize
	return body + trailerLen(body)
}

// Encode serializes the record with a CRC-32 over header and samples and
// a Reed-Solomon parity trailer over the result.
func (r *Record) Encode() ([]byte, error) {
	n := len(r.Samples)
	buf := make([]byte, HeaderSize+8*n+CRCSize)

	copy(buf[0:4], Magic)
	buf[4] = Version
	buf[5] = byte(r.Cell.CyclicPrefix)
	binary.BigEndian.PutUint16(buf[6:8], uint16(r.Cell.CellID))
	binary.BigEndian.PutUint32(buf[8:12], uint32(r.Cell.FrameOffset))
	buf[12] = byte(r.Cell.Subframe)
	binary.BigEndian.PutUint64(buf[16:24], math.Float64bits(r.Cell.FrequencyHz))
	binary.BigEndian.PutUint64(buf[24:32], math.Float64bits(r.Cell.CFO))
	binary.BigEndian.PutUint64(buf[32:40], math.Float64bits(r.Cell.Quality))
	binary.BigEndian.PutUint32(buf[40:44], uint32(n))

	off := HeaderSize
	for _, v := range r.Samples {
		binary.BigEndian.PutUint32(buf[off:], math.Float32bits(real(v)))
		binary.BigEndian.PutUint32(buf[off+4:], math.Float32bits(imag(v)))
		off += 8
	}
	binary.BigEndian.PutUint32(buf[off:], crc32.ChecksumIEEE(buf[:off]))
	return appendParity(buf)
}

func intact(body []byte) bool {
	end := len(body) - CRCSize
	return crc32.ChecksumIEEE(body[:end]) == binary.BigEndian.Uint32(body[end:])
}

// Decode parses one record, verifying the magic, version and CRC-32. A body
// failing its CRC is repaired from the parity trailer when the damage is
// within ParityShards shards. The cell's derived fields (group split, CFO
// in Hz) are recomputed.
func Decode(data []byte) (*Record, error) {
	if len(data) < HeaderSize+CRCSize {
		return nil, fmt.Errorf("capture: record too short: %d bytes", len(data))
	}
	if string(data[0:4]) != Magic {
		return nil, ErrBadMagic
	}
	if data[4] != Version {
		return nil, fmt.Errorf("capture: unsupported version %d", data[4])
	}
	body, trailer, err := splitRecord(data)
	if err != nil {
		return nil, err
	}
	if len(body) < HeaderSize+CRCSize {
		return nil, fmt.Errorf("capture: record too short: %d byte body", len(body))
	}
	if !intact(body) {
		if body, err = repair(body, trailer); err != nil {
			return nil, err
		}
		if !intact(body) {
			return nil, fmt.Errorf("%w: body still damaged after repair", ErrBadChecksum)
		}
	}
	n := int(binary.BigEndian.Uint32(body[40:44]))
	if len(body) != HeaderSize+8*n+CRCSize {
		return nil, fmt.Errorf("capture: %d samples do not fill a %d byte body", n, len(body))
	}

	cp := lte.CyclicPrefix(body[5])
	if cp != lte.CPNormal && cp != lte.CPExtended {
		return nil, fmt.Errorf("capture: invalid cyclic prefix %d", body[5])
	}
	cellID := int(binary.BigEndian.Uint16(body[6:8]))
	secondary, primary := lte.SplitCellID(cellID)
	cfo := math.Float64frombits(binary.BigEndian.Uint64(body[24:32]))
	r := &Record{
		Cell: lte.CellCandidate{
			CellID:         cellID,
			PrimaryGroup:   primary,
			SecondaryGroup: secondary,
			CyclicPrefix:   cp,
			FrameOffset:    int(binary.BigEndian.Uint32(body[8:12])),
			Subframe:       int(body[12]),
			FrequencyHz:    math.Float64frombits(binary.BigEndian.Uint64(body[16:24])),
			CFO:            cfo,
			CFOHz:          lte.CFOHz(cfo),
			Quality:        math.Float64frombits(binary.BigEndian.Uint64(body[32:40])),
		},
		Samples: make([]complex64, n),
	}
	off := HeaderSize
	for i := range r.Samples {
		re := math.Float32frombits(binary.BigEndian.Uint32(body[off:]))
		im := math.Float32frombits(binary.BigEndian.Uint32(body[off+4:]))
		r.Samples[i] = complex(re, im)
		off += 8
	}
	return r, nil
}
