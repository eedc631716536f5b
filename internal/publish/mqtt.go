package publish

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/jeongseonghan/lte-cellsync/internal/lte"
)

// Config contains the MQTT broker settings.
type Config struct {
	Broker          string
	Username        string
	Password        string
	TopicPrefix     string
	QoS             byte
	Retain          bool
	PublishInterval time.Duration // metrics snapshot period, 0 disables
	TLS             TLSConfig
}

// TLSConfig contains MQTT TLS settings.
type TLSConfig struct {
	Enabled    bool
	CACert     string
	ClientCert string
	ClientKey  string
}

// CellPayload is published on <prefix>/cell/resolved.
type CellPayload struct {
	Timestamp int64             `json:"timestamp"`
	Cell      lte.CellCandidate `json:"cell"`
}

// AbandonedPayload is published on <prefix>/cell/abandoned.
type AbandonedPayload struct {
	Timestamp   int64   `json:"timestamp"`
	FrequencyHz float64 `json:"frequencyHz"`
}

// MetricPayload is a snapshot of the Prometheus registry.
type MetricPayload struct {
	Timestamp int64              `json:"timestamp"`
	Metrics   map[string]float64 `json:"metrics"`
}

// Publisher sends acquisition outcomes to an MQTT broker. It implements
// the acquisition handler interface.
type Publisher struct {
	client   mqtt.Client
	config   Config
	gatherer prometheus.Gatherer
	now      func() time.Time
}

func generateClientID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return "cellsync_" + hex.EncodeToString(b)
}

func loadTLSConfig(c TLSConfig) (*tls.Config, error) {
	config := &tls.Config{}
	if c.CACert != "" {
		caCert, err := os.ReadFile(c.CACert)
		if err != nil {
			return nil, fmt.Errorf("read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("parse CA certificate %s", c.CACert)
		}
		config.RootCAs = pool
	}
	if c.ClientCert != "" && c.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		config.Certificates = []tls.Certificate{cert}
	}
	return config, nil
}

// Dial connects to the broker. g may be nil when no metric snapshots are
// wanted.
func Dial(cfg Config, g prometheus.Gatherer) (*Publisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(generateClientID())
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	if cfg.TLS.Enabled {
		tlsConfig, err := loadTLSConfig(cfg.TLS)
		if err != nil {
			return nil, fmt.Errorf("mqtt tls: %w", err)
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Println("MQTT: connected to broker")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("MQTT: connection lost: %v", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.WaitTimeout(30*time.Second) && token.Error() != nil {
		return nil, fmt.Errorf("connect to MQTT broker: %w", token.Error())
	}
	return New(client, cfg, g), nil
}

// New wraps an existing client.
func New(client mqtt.Client, cfg Config, g prometheus.Gatherer) *Publisher {
	return &Publisher{client: client, config: cfg, gatherer: g, now: time.Now}
}

func (p *Publisher) topic(parts ...string) string {
	if p.config.TopicPrefix == "" {
		return strings.Join(parts, "/")
	}
	return p.config.TopicPrefix + "/" + strings.Join(parts, "/")
}

func (p *Publisher) publish(topic string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", topic, err)
	}
	token := p.client.Publish(topic, p.config.QoS, p.config.Retain, data)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("publish %s: %w", topic, token.Error())
	}
	return nil
}

// OnCellResolved publishes the resolved cell.
func (p *Publisher) OnCellResolved(c lte.CellCandidate) {
	err := p.publish(p.topic("cell", "resolved"), CellPayload{Timestamp: p.now().Unix(), Cell: c})
	if err != nil {
		log.Printf("MQTT ERROR: %v", err)
	}
}

// OnCandidateAbandoned publishes the abandoned frequency.
func (p *Publisher) OnCandidateAbandoned(freqHz float64) {
	err := p.publish(p.topic("cell", "abandoned"), AbandonedPayload{Timestamp: p.now().Unix(), FrequencyHz: freqHz})
	if err != nil {
		log.Printf("MQTT ERROR: %v", err)
	}
}

// PublishMetrics gathers the registry and publishes one flat snapshot.
func (p *Publisher) PublishMetrics() error {
	if p.gatherer == nil {
		return nil
	}
	families, err := p.gatherer.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	values := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			v, ok := metricValue(m)
			if !ok {
				continue
			}
			values[metricKey(mf.GetName(), m)] = v
		}
	}
	if len(values) == 0 {
		return nil
	}
	return p.publish(p.topic("metrics"), MetricPayload{Timestamp: p.now().Unix(), Metrics: values})
}

// Start publishes metric snapshots every PublishInterval until ctx is done,
// then disconnects.
func (p *Publisher) Start(ctx context.Context) {
	if p.config.PublishInterval <= 0 {
		<-ctx.Done()
		p.client.Disconnect(250)
		return
	}
	ticker := time.NewTicker(p.config.PublishInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.client.Disconnect(250)
			return
		case <-ticker.C:
			if err := p.PublishMetrics(); err != nil {
				log.Printf("MQTT ERROR: %v", err)
			}
		}
	}
}

func metricValue(m *dto.Metric) (float64, bool) {
	switch {
	case m.GetGauge() != nil:
		return m.GetGauge().GetValue(), true
	case m.GetCounter() != nil:
		return m.GetCounter().GetValue(), true
	case m.GetHistogram() != nil:
		return m.GetHistogram().GetSampleSum(), true
	case m.GetSummary() != nil:
		return m.GetSummary().GetSampleSum(), true
	}
	return 0, false
}

// metricKey appends label pairs in name order so keys are stable.
func metricKey(name string, m *dto.Metric) string {
	labels := m.GetLabel()
	if len(labels) == 0 {
		return name
	}
	pairs := make([]string, 0, len(labels))
	for _, l := range labels {
		pairs = append(pairs, l.GetName()+"_"+l.GetValue())
	}
	sort.Strings(pairs)
	return name + "_" + strings.Join(pairs, "_")
}
