package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeongseonghan/lte-cellsync/internal/acquire"
	"github.com/jeongseonghan/lte-cellsync/internal/lte"
	"github.com/jeongseonghan/lte-cellsync/internal/publish"
	"github.com/jeongseonghan/lte-cellsync/internal/radio"
	"github.com/jeongseonghan/lte-cellsync/internal/scan"
)

// ErrInvalid is wrapped by every validation failure of the file config.
var ErrInvalid = errors.New("invalid configuration")

// Radio sources.
const (
	SourceSimulator = "simulator"
	SourceRTLTCP    = "rtl_tcp"
)

// Config is the cellsearch configuration file.
type Config struct {
	Radio       RadioConfig       `yaml:"radio"`
	Scan        ScanConfig        `yaml:"scan"`
	Acquisition AcquisitionConfig `yaml:"acquisition"`
	Server      ServerConfig      `yaml:"server"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	Simulator   SimulatorConfig   `yaml:"simulator"`
}

// RadioConfig selects and configures the front end.
type RadioConfig struct {
	Source        string        `yaml:"source"`         // simulator or rtl_tcp
	Address       string        `yaml:"address"`        // rtl_tcp host:port
	DialTimeout   time.Duration `yaml:"dial_timeout"`   // rtl_tcp connect timeout
	GainDB        float64       `yaml:"gain_db"`        // negative selects AGC
	SettleSamples int           `yaml:"settle_samples"` // discarded after each retune during scans
}

// ScanConfig describes the channels to scan and the RSSI ranking.
type ScanConfig struct {
	Band            int       `yaml:"band"`
	EARFCNStart     int       `yaml:"earfcn_start"`
	EARFCNEnd       int       `yaml:"earfcn_end"`
	Frequencies     []float64 `yaml:"frequencies"` // explicit list in Hz, overrides band
	Samples         int       `yaml:"samples"`
	RSSIThresholdDB float64   `yaml:"rssi_threshold_db"`
	Decimation      int       `yaml:"decimation"`
	DirectLimit     int       `yaml:"direct_limit"`
	MaxCandidates   int       `yaml:"max_candidates"` // 0 keeps all
}

// AcquisitionConfig mirrors the acquisition engine tunables.
type AcquisitionConfig struct {
	FindThresholdDB     float64 `yaml:"find_threshold_db"`
	TrackThresholdDB    float64 `yaml:"track_threshold_db"`
	MaxFindFrames       int     `yaml:"max_find_frames"`
	TrackFramesRequired int     `yaml:"track_frames_required"`
	MaxTrackLoss        int     `yaml:"max_track_loss"`
	FrameLength         int     `yaml:"frame_length"`
	TrackRadius         int     `yaml:"track_radius"`
	CFOMode             string  `yaml:"cfo_mode"` // per_frame or on_resolve
	Method              string  `yaml:"method"`   // auto, time or freq
	Strategy            string  `yaml:"strategy"` // full or differential
	NoisePower          float64 `yaml:"noise_power"`
	CFOSearchSteps      int     `yaml:"cfo_search_steps"` // half-subcarrier hypotheses each side
	MinSSSScore         float64 `yaml:"min_sss_score"`
}

// ServerConfig configures the HTTP status server.
type ServerConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Listen    string `yaml:"listen"`
	StaticDir string `yaml:"static_dir"`
}

// MQTTConfig configures the MQTT publisher.
type MQTTConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Broker          string        `yaml:"broker"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	TopicPrefix     string        `yaml:"topic_prefix"`
	QoS             byte          `yaml:"qos"`
	Retain          bool          `yaml:"retain"`
	PublishInterval int           `yaml:"publish_interval"` // seconds, 0 disables snapshots
	TLS             MQTTTLSConfig `yaml:"tls"`
}

// MQTTTLSConfig contains MQTT TLS settings.
type MQTTTLSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	CACert     string `yaml:"ca_cert"`
	ClientCert string `yaml:"client_cert"`
	ClientKey  string `yaml:"client_key"`
}

// SimulatorConfig describes the synthetic cells of the simulator source.
type SimulatorConfig struct {
	NoisePower  float64         `yaml:"noise_power"`
	Seed        int64           `yaml:"seed"`
	BandwidthHz float64         `yaml:"bandwidth_hz"` // 0 uses the simulator default
	Cells       []SimCellConfig `yaml:"cells"`
}

// SimCellConfig is one simulated transmitter. Either EARFCN or FrequencyHz
// places it.
type SimCellConfig struct {
	EARFCN       int              `yaml:"earfcn"`
	FrequencyHz  float64          `yaml:"frequency_hz"`
	CellID       int              `yaml:"cell_id"`
	CyclicPrefix lte.CyclicPrefix `yaml:"cyclic_prefix"`
	Amplitude    float64          `yaml:"amplitude"`
	CFOHz        float64          `yaml:"cfo_hz"`
	TimingOffset int              `yaml:"timing_offset"`
	FillData     bool             `yaml:"fill_data"`
}

// Default returns a configuration that scans band 20 with the simulator.
func Default() *Config {
	acq := acquire.DefaultConfig()
	sc := scan.DefaultConfig()
	return &Config{
		Radio: RadioConfig{
			Source:        SourceSimulator,
			Address:       "127.0.0.1:1234",
			DialTimeout:   5 * time.Second,
			GainDB:        -1,
			SettleSamples: 2048,
		},
		Scan: ScanConfig{
			Band:            20,
			Samples:         lte.FrameLen,
			RSSIThresholdDB: -30,
			Decimation:      sc.Decimation,
			DirectLimit:     sc.DirectLimit,
			MaxCandidates:   10,
		},
		Acquisition: AcquisitionConfig{
			FindThresholdDB:     acq.FindThresholdDB,
			TrackThresholdDB:    acq.TrackThresholdDB,
			MaxFindFrames:       acq.MaxFindFrames,
			TrackFramesRequired: acq.TrackFramesRequired,
			MaxTrackLoss:        acq.MaxTrackLoss,
			FrameLength:         acq.FrameLen,
			TrackRadius:         acq.TrackRadius,
			CFOMode:             acq.CFOMode.String(),
			Method:              acq.Method.String(),
			Strategy:            acq.Strategy.String(),
			NoisePower:          acq.NoisePower,
			CFOSearchSteps:      acq.CFOSearchSteps,
			MinSSSScore:         acq.MinSSSScore,
		},
		Server: ServerConfig{
			Enabled: true,
			Listen:  "127.0.0.1:8080",
		},
		MQTT: MQTTConfig{
			TopicPrefix:     "cellsync",
			PublishInterval: 60,
		},
		Simulator: SimulatorConfig{
			NoisePower: 0.01,
			Seed:       1,
		},
	}
}

// Load reads a YAML file on top of the defaults and validates it.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks every section. Nothing is clamped.
func (c *Config) Validate() error {
	switch c.Radio.Source {
	case SourceSimulator:
	case SourceRTLTCP:
		if c.Radio.Address == "" {
			return fmt.Errorf("%w: radio.address required for rtl_tcp", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown radio.source %q", ErrInvalid, c.Radio.Source)
	}
	if c.Radio.SettleSamples < 0 {
		return fmt.Errorf("%w: radio.settle_samples is negative", ErrInvalid)
	}

	if _, err := c.AcquireConfig(); err != nil {
		return fmt.Errorf("acquisition: %w", err)
	}
	if err := c.ScanConfig().Validate(); err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	if c.Scan.Samples <= 0 {
		return fmt.Errorf("%w: scan.samples must be positive", ErrInvalid)
	}
	if c.Scan.MaxCandidates < 0 {
		return fmt.Errorf("%w: scan.max_candidates is negative", ErrInvalid)
	}
	if _, err := c.Frequencies(); err != nil {
		return fmt.Errorf("scan: %w", err)
	}

	if c.Server.Enabled && c.Server.Listen == "" {
		return fmt.Errorf("%w: server.listen required", ErrInvalid)
	}
	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			return fmt.Errorf("%w: mqtt.broker required", ErrInvalid)
		}
		if c.MQTT.QoS > 2 {
			return fmt.Errorf("%w: mqtt.qos must be 0, 1 or 2", ErrInvalid)
		}
		if c.MQTT.PublishInterval < 0 {
			return fmt.Errorf("%w: mqtt.publish_interval is negative", ErrInvalid)
		}
	}

	for i, cell := range c.Simulator.Cells {
		if cell.CellID < 0 || cell.CellID > lte.MaxCellID {
			return fmt.Errorf("%w: simulator.cells[%d].cell_id %d out of range", ErrInvalid, i, cell.CellID)
		}
		if cell.EARFCN == 0 && cell.FrequencyHz <= 0 {
			return fmt.Errorf("%w: simulator.cells[%d] needs earfcn or frequency_hz", ErrInvalid, i)
		}
		if cell.EARFCN != 0 {
			if _, err := lte.EARFCNToHz(cell.EARFCN); err != nil {
				return fmt.Errorf("%w: simulator.cells[%d]: %v", ErrInvalid, i, err)
			}
		}
	}
	if c.Simulator.NoisePower < 0 {
		return fmt.Errorf("%w: simulator.noise_power is negative", ErrInvalid)
	}
	return nil
}

// AcquireConfig converts the acquisition section.
func (c *Config) AcquireConfig() (acquire.Config, error) {
	a := c.Acquisition
	mode, ok := acquire.ParseCFOMode(a.CFOMode)
	if !ok {
		return acquire.Config{}, fmt.Errorf("%w: unknown cfo_mode %q", ErrInvalid, a.CFOMode)
	}
	method, ok := lte.ParseMethod(a.Method)
	if !ok {
		return acquire.Config{}, fmt.Errorf("%w: unknown method %q", ErrInvalid, a.Method)
	}
	strategy, ok := lte.ParseStrategy(a.Strategy)
	if !ok {
		return acquire.Config{}, fmt.Errorf("%w: unknown strategy %q", ErrInvalid, a.Strategy)
	}
	cfg := acquire.Config{
		FindThresholdDB:     a.FindThresholdDB,
		TrackThresholdDB:    a.TrackThresholdDB,
		MaxFindFrames:       a.MaxFindFrames,
		TrackFramesRequired: a.TrackFramesRequired,
		MaxTrackLoss:        a.MaxTrackLoss,
		FrameLen:            a.FrameLength,
		TrackRadius:         a.TrackRadius,
		CFOMode:             mode,
		Method:              method,
		Strategy:            strategy,
		NoisePower:          a.NoisePower,
		CFOSearchSteps:      a.CFOSearchSteps,
		MinSSSScore:         a.MinSSSScore,
	}
	return cfg, cfg.Validate()
}

// ScanConfig converts the scan section.
func (c *Config) ScanConfig() scan.Config {
	return scan.Config{
		Decimation:  c.Scan.Decimation,
		DirectLimit: c.Scan.DirectLimit,
		SampleRate:  lte.SampleRate,
	}
}

// Frequencies returns the ascending channel list to scan.
func (c *Config) Frequencies() ([]float64, error) {
	if len(c.Scan.Frequencies) > 0 {
		for i, f := range c.Scan.Frequencies {
			if !(f > 0) || math.IsInf(f, 0) {
				return nil, fmt.Errorf("%w: frequencies[%d] = %g", ErrInvalid, i, f)
			}
			if i > 0 && f <= c.Scan.Frequencies[i-1] {
				return nil, fmt.Errorf("%w: frequencies must be ascending, %g follows %g", ErrInvalid, f, c.Scan.Frequencies[i-1])
			}
		}
		return append([]float64(nil), c.Scan.Frequencies...), nil
	}
	band, err := lte.LookupBand(c.Scan.Band)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.Scan.EARFCNEnd != 0 && c.Scan.EARFCNEnd < c.Scan.EARFCNStart {
		return nil, fmt.Errorf("%w: earfcn_end %d before earfcn_start %d", ErrInvalid, c.Scan.EARFCNEnd, c.Scan.EARFCNStart)
	}
	freqs := band.Channels(c.Scan.EARFCNStart, c.Scan.EARFCNEnd)
	if len(freqs) == 0 {
		return nil, fmt.Errorf("%w: no channels of band %d in [%d, %d]", ErrInvalid, band.Number, c.Scan.EARFCNStart, c.Scan.EARFCNEnd)
	}
	return freqs, nil
}

// NewSimulator builds the simulator source.
func (c *Config) NewSimulator() (*radio.Simulator, error) {
	sim := radio.NewSimulator()
	sim.NoisePower = c.Simulator.NoisePower
	sim.Seed = c.Simulator.Seed
	if c.Simulator.BandwidthHz > 0 {
		sim.BandwidthHz = c.Simulator.BandwidthHz
	}
	for i, cell := range c.Simulator.Cells {
		freq := cell.FrequencyHz
		if cell.EARFCN != 0 {
			f, err := lte.EARFCNToHz(cell.EARFCN)
			if err != nil {
				return nil, fmt.Errorf("simulator.cells[%d]: %w", i, err)
			}
			freq = f
		}
		amp := cell.Amplitude
		if amp == 0 {
			amp = 1
		}
		sim.Cells = append(sim.Cells, radio.SimCell{
			FrequencyHz:  freq,
			CellID:       cell.CellID,
			CP:           cell.CyclicPrefix,
			Amplitude:    amp,
			CFO:          cell.CFOHz / lte.SampleRate,
			TimingOffset: cell.TimingOffset,
			FillData:     cell.FillData,
		})
	}
	return sim, nil
}

// PublishConfig converts the MQTT section.
func (c *Config) PublishConfig() publish.Config {
	m := c.MQTT
	return publish.Config{
		Broker:          m.Broker,
		Username:        m.Username,
		Password:        m.Password,
		TopicPrefix:     m.TopicPrefix,
		QoS:             m.QoS,
		Retain:          m.Retain,
		PublishInterval: time.Duration(m.PublishInterval) * time.Second,
		TLS: publish.TLSConfig{
			Enabled:    m.TLS.Enabled,
			CACert:     m.TLS.CACert,
			ClientCert: m.TLS.ClientCert,
			ClientKey:  m.TLS.ClientKey,
		},
	}
}
