package capture

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"sync"

	"github.com/klauspost/reedsolomon"
)

// Parity geometry. The CRC'd body is split into DataShards equal shards
// and protected by ParityShards Reed-Solomon shards; up to ParityShards
// damaged shards are recovered.
const (
	DataShards   = 16
	ParityShards = 4

	totalShards = DataShards + ParityShards
	footerSize  = 4
)

var rsEncoder = sync.OnceValues(func() (reedsolomon.Encoder, error) {
	enc, err := reedsolomon.New(DataShards, ParityShards)
	if err != nil {
		return nil, fmt.Errorf("create reed-solomon encoder: %w", err)
	}
	return enc, nil
})

func shardSize(bodyLen int) int {
	return (bodyLen + DataShards - 1) / DataShards
}

// trailerLen is the size of everything appended after a body of bodyLen
// bytes: shard CRCs, parity shards and the shard size footer.
func trailerLen(bodyLen int) int {
	return 4*totalShards + ParityShards*shardSize(bodyLen) + footerSize
}

// splitBody copies body into DataShards zero-padded shards followed by
// empty parity shards.
func splitBody(body []byte, size int) [][]byte {
	shards := make([][]byte, totalShards)
	for i := range shards {
		shards[i] = make([]byte, size)
		if i < DataShards {
			start := min(i*size, len(body))
			copy(shards[i], body[start:min(start+size, len(body))])
		}
	}
	return shards
}

// appendParity appends the shard CRC table, the parity shards and the
// shard size to body.
func appendParity(body []byte) ([]byte, error) {
	enc, err := rsEncoder()
	if err != nil {
		return nil, err
	}
	size := shardSize(len(body))
	shards := splitBody(body, size)
	if err := enc.Encode(shards); err != nil {
		return nil, fmt.Errorf("encode parity: %w", err)
	}

	out := make([]byte, len(body), len(body)+trailerLen(len(body)))
	copy(out, body)
	for _, s := range shards {
		out = binary.BigEndian.AppendUint32(out, crc32.ChecksumIEEE(s))
	}
	for _, s := range shards[DataShards:] {
		out = append(out, s...)
	}
	return binary.BigEndian.AppendUint32(out, uint32(size)), nil
}

// splitRecord locates the body of an encoded record from its footer.
func splitRecord(data []byte) (body, trailer []byte, err error) {
	if len(data) < footerSize+4*totalShards {
		return nil, nil, fmt.Errorf("capture: record too short: %d bytes", len(data))
	}
	size := int(binary.BigEndian.Uint32(data[len(data)-footerSize:]))
	bodyLen := len(data) - 4*totalShards - footerSize - ParityShards*size
	if size <= 0 || bodyLen <= 0 || shardSize(bodyLen) != size {
		return nil, nil, fmt.Errorf("capture: record truncated or bad shard size %d", size)
	}
	return data[:bodyLen], data[bodyLen:], nil
}

// repair rebuilds a damaged body from the parity trailer. Shards whose
// CRC does not match are treated as erasures.
func repair(body, trailer []byte) ([]byte, error) {
	enc, err := rsEncoder()
	if err != nil {
		return nil, err
	}
	size := shardSize(len(body))
	shards := splitBody(body, size)
	parity := trailer[4*totalShards:]
	for i := DataShards; i < totalShards; i++ {
		copy(shards[i], parity[(i-DataShards)*size:])
	}

	damaged := 0
	for i, s := range shards {
		if crc32.ChecksumIEEE(s) != binary.BigEndian.Uint32(trailer[4*i:]) {
			shards[i] = nil
			damaged++
		}
	}
	if damaged == 0 {
		return nil, fmt.Errorf("%w: no damaged shard found", ErrBadChecksum)
	}
	if err := enc.Reconstruct(shards); err != nil {
		return nil, fmt.Errorf("%w: %d damaged shards: %v", ErrBadChecksum, damaged, err)
	}
	if ok, err := enc.Verify(shards); err != nil || !ok {
		return nil, fmt.Errorf("%w: parity verification failed", ErrBadChecksum)
	}

	fixed := make([]byte, 0, DataShards*size)
	for _, s := range shards[:DataShards] {
		fixed = append(fixed, s...)
	}
	return fixed[:len(body)], nil
}
