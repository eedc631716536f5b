package radio

import (
	"errors"
	"fmt"
)

var (
	// ErrNotStreaming is returned by Receive before StartStream.
	ErrNotStreaming = errors.New("radio: stream not started")
	// ErrNoProgress is returned when a blocking read delivers no samples.
	ErrNoProgress = errors.New("radio: receive made no progress")
)

// Device is the tunable front end the acquisition engine pulls samples from.
type Device interface {
	// Receive fills buf with up to len(buf) samples. A blocking call waits
	// until samples are available; a non-blocking call returns what is
	// already buffered, possibly zero.
	Receive(buf []complex64, blocking bool) (int, error)
	Tune(freqHz float64) error
	SetSampleRate(hz float64) error
	SetGain(db float64) error
	StartStream() error
	StopStream() error
}

// EnergyMeter measures the average received power on one channel.
type EnergyMeter interface {
	MeasureEnergy(freqHz, sampleRate float64, numSamples int) (float64, error)
}

// ReadFull performs blocking receives until buf is full.
func ReadFull(dev Device, buf []complex64) error {
	for off := 0; off < len(buf); {
		n, err := dev.Receive(buf[off:], true)
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNoProgress
		}
		off += n
	}
	return nil
}

// Flush discards samples buffered by the driver. It stops at the first
// empty non-blocking read or after maxReads reads.
func Flush(dev Device, scratch []complex64, maxReads int) (int, error) {
	total := 0
	for i := 0; i < maxReads; i++ {
		n, err := dev.Receive(scratch, false)
		if err != nil {
			return total, fmt.Errorf("flush: %w", err)
		}
		if n == 0 {
			break
		}
		total += n
	}
	return total, nil
}

// DeviceMeter measures channel energy by tuning a Device and averaging
// |x|^2 over a block of samples.
type DeviceMeter struct {
	Device Device
	Settle int // samples discarded after retuning
}

// MeasureEnergy implements EnergyMeter.
func (m DeviceMeter) MeasureEnergy(freqHz, sampleRate float64, numSamples int) (float64, error) {
	if numSamples <= 0 {
		return 0, fmt.Errorf("measure energy: invalid sample count %d", numSamples)
	}
	if err := m.Device.Tune(freqHz); err != nil {
		return 0, fmt.Errorf("tune %.0f Hz: %w", freqHz, err)
	}
	if err := m.Device.SetSampleRate(sampleRate); err != nil {
		return 0, fmt.Errorf("set sample rate: %w", err)
	}
	if err := m.Device.StartStream(); err != nil {
		return 0, fmt.Errorf("start stream: %w", err)
	}
	defer m.Device.StopStream()

	if m.Settle > 0 {
		if err := ReadFull(m.Device, make([]complex64, m.Settle)); err != nil {
			return 0, fmt.Errorf("settle: %w", err)
		}
	}
	buf := make([]complex64, numSamples)
	if err := ReadFull(m.Device, buf); err != nil {
		return 0, fmt.Errorf("receive: %w", err)
	}
	return MeanPower(buf), nil
}

// MeanPower returns the average of |x|^2.
func MeanPower(buf []complex64) float64 {
	if len(buf) == 0 {
		return 0
	}
	var sum float64
	for _, v := range buf {
		re, im := float64(real(v)), float64(imag(v))
		sum += re*re + im*im
	}
	return sum / float64(len(buf))
}
