package capture

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jeongseonghan/lte-cellsync/internal/lte"
	"github.com/jeongseonghan/lte-cellsync/internal/monitoring"
)

// Writer stores every aligned frame it receives as one record file in Dir.
type Writer struct {
	Dir string
}

// NewWriter creates dir if needed.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &Writer{Dir: dir}, nil
}

// Path returns the file a cell's frame is written to.
func (w *Writer) Path(c lte.CellCandidate) string {
	return filepath.Join(w.Dir, fmt.Sprintf("cell%03d_%.0fkHz.ltef", c.CellID, c.FrequencyHz/1e3))
}

// Write encodes one record to its file, replacing an older capture of the
// same cell.
func (w *Writer) Write(c lte.CellCandidate, frame []complex128) (string, error) {
	rec := Record{Cell: c, Samples: make([]complex64, len(frame))}
	for i, v := range frame {
		rec.Samples[i] = complex64(v)
	}
	data, err := rec.Encode()
	if err != nil {
		return "", fmt.Errorf("encode capture: %w", err)
	}
	path := w.Path(c)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write capture: %w", err)
	}
	return path, nil
}

// OnAlignedFrame implements acquire.FrameSink. Failures are logged.
func (w *Writer) OnAlignedFrame(c lte.CellCandidate, frame []complex128) {
	path, err := w.Write(c, frame)
	if err != nil {
		monitoring.Logf("capture: %v", err)
		return
	}
	monitoring.Logf("capture: wrote %s", path)
}

// ReadFile decodes a record written by Writer.
func ReadFile(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}
