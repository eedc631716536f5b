package radio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"os"
	"sync"
	"time"
)

// rtl_tcp command codes.
const (
	cmdSetFrequency  = 0x01
	cmdSetSampleRate = 0x02
	cmdSetGainMode   = 0x03
	cmdSetGain       = 0x04
	cmdSetAGCMode    = 0x08
)

const rtlHeaderLen = 12

// TunerInfo is the dongle description sent by rtl_tcp on connect.
type TunerInfo struct {
	TunerType  uint32
	GainLevels uint32
}

// RTLTCP is a Device backed by an rtl_tcp server streaming unsigned 8-bit
// interleaved I/Q.
type RTLTCP struct {
	conn      net.Conn
	tuner     TunerInfo
	raw       []byte
	carry     []byte // odd byte left over from a short read
	streaming bool
	mu        sync.Mutex

	// PollTimeout bounds a non-blocking Receive.
	PollTimeout time.Duration
}

// DialRTLTCP connects to an rtl_tcp server and reads its header.
func DialRTLTCP(addr string, timeout time.Duration) (*RTLTCP, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("dial rtl_tcp %s: %w", addr, err)
	}
	r, err := newRTLTCP(conn, timeout)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return r, nil
}

func newRTLTCP(conn net.Conn, timeout time.Duration) (*RTLTCP, error) {
	if timeout > 0 {
		conn.SetReadDeadline(time.Now().Add(timeout))
	}
	hdr := make([]byte, rtlHeaderLen)
	if _, err := io.ReadFull(conn, hdr); err != nil {
		return nil, fmt.Errorf("read rtl_tcp header: %w", err)
	}
	conn.SetReadDeadline(time.Time{})
	if string(hdr[:4]) != "RTL0" {
		return nil, fmt.Errorf("unexpected rtl_tcp magic %q", hdr[:4])
	}
	return &RTLTCP{
		conn: conn,
		tuner: TunerInfo{
			TunerType:  binary.BigEndian.Uint32(hdr[4:8]),
			GainLevels: binary.BigEndian.Uint32(hdr[8:12]),
		},
		PollTimeout: time.Millisecond,
	}, nil
}

// Tuner returns the dongle description.
func (r *RTLTCP) Tuner() TunerInfo {
	return r.tuner
}

func (r *RTLTCP) command(cmd byte, param uint32) error {
	var msg [5]byte
	msg[0] = cmd
	binary.BigEndian.PutUint32(msg[1:], param)
	if _, err := r.conn.Write(msg[:]); err != nil {
		return fmt.Errorf("rtl_tcp command 0x%02x: %w", cmd, err)
	}
	return nil
}

// Tune sets the center frequency.
func (r *RTLTCP) Tune(freqHz float64) error {
	if freqHz <= 0 || freqHz > math.MaxUint32 {
		return fmt.Errorf("frequency %.0f Hz out of range", freqHz)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.command(cmdSetFrequency, uint32(freqHz))
}

// SetSampleRate sets the dongle sample rate.
func (r *RTLTCP) SetSampleRate(hz float64) error {
	if hz <= 0 {
		return fmt.Errorf("sample rate %.0f Hz out of range", hz)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.command(cmdSetSampleRate, uint32(hz))
}

// SetGain switches to manual gain and sets it in dB. A negative gain
// selects automatic gain control.
func (r *RTLTCP) SetGain(db float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if db < 0 {
		if err := r.command(cmdSetGainMode, 0); err != nil {
			return err
		}
		return r.command(cmdSetAGCMode, 1)
	}
	if err := r.command(cmdSetGainMode, 1); err != nil {
		return err
	}
	return r.command(cmdSetGain, uint32(math.Round(db*10)))
}

// StartStream enables Receive. rtl_tcp streams continuously, so this only
// marks the device as active.
func (r *RTLTCP) StartStream() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streaming = true
	return nil
}

// StopStream disables Receive.
func (r *RTLTCP) StopStream() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streaming = false
	return nil
}

// Receive reads I/Q pairs into buf.
func (r *RTLTCP) Receive(buf []complex64, blocking bool) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.streaming {
		return 0, ErrNotStreaming
	}
	if len(buf) == 0 {
		return 0, nil
	}

	need := 2 * len(buf)
	if cap(r.raw) < need {
		r.raw = make([]byte, need)
	}
	raw := r.raw[:need]
	got := copy(raw, r.carry)
	r.carry = r.carry[:0]

	if blocking {
		r.conn.SetReadDeadline(time.Time{})
		if _, err := io.ReadFull(r.conn, raw[got:]); err != nil {
			return 0, fmt.Errorf("rtl_tcp read: %w", err)
		}
		got = need
	} else {
		r.conn.SetReadDeadline(time.Now().Add(r.PollTimeout))
		n, err := r.conn.Read(raw[got:])
		got += n
		if err != nil && !errors.Is(err, os.ErrDeadlineExceeded) {
			return 0, fmt.Errorf("rtl_tcp read: %w", err)
		}
	}

	if got%2 == 1 {
		r.carry = append(r.carry, raw[got-1])
		got--
	}
	for i := 0; i < got/2; i++ {
		buf[i] = complex(u8ToFloat(raw[2*i]), u8ToFloat(raw[2*i+1]))
	}
	return got / 2, nil
}

// Close closes the connection.
func (r *RTLTCP) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streaming = false
	return r.conn.Close()
}

func u8ToFloat(b byte) float32 {
	return (float32(b) - 127.5) / 127.5
}
