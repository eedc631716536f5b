package server

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeongseonghan/lte-cellsync/internal/acquire"
	"github.com/jeongseonghan/lte-cellsync/internal/lte"
	"github.com/jeongseonghan/lte-cellsync/internal/metrics"
	"github.com/jeongseonghan/lte-cellsync/internal/scan"
)

var _ acquire.Handler = (*Handlers)(nil)

func TestMain(m *testing.M) {
	log.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func newTestServer(t *testing.T) (*Handlers, *httptest.Server, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	h := NewHandlers()
	ts := httptest.NewServer(NewServer("", h, reg, "").Handler())
	t.Cleanup(ts.Close)
	return h, ts, reg
}

func getJSON(t *testing.T, url string, v interface{}) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestStatusAndCells(t *testing.T) {
	h, ts, _ := newTestServer(t)

	var status map[string]interface{}
	getJSON(t, ts.URL+"/api/status", &status)
	assert.Equal(t, "idle", status["status"])

	h.SetStatus("acquiring", 806e6, "")
	h.OnCandidateAbandoned(796e6)
	h.OnCellResolved(lte.CellCandidate{CellID: 12, FrequencyHz: 806e6, Quality: 20})
	h.OnCellResolved(lte.CellCandidate{CellID: 12, FrequencyHz: 806e6, Quality: 22})

	getJSON(t, ts.URL+"/api/status", &status)
	assert.Equal(t, "acquiring", status["status"])
	assert.Equal(t, 806e6, status["frequencyHz"])
	assert.Equal(t, 1.0, status["resolved"])
	assert.Equal(t, 1.0, status["abandoned"])

	var cells []lte.CellCandidate
	getJSON(t, ts.URL+"/api/cells", &cells)
	require.Len(t, cells, 1)
	assert.Equal(t, 22.0, cells[0].Quality)
}

func TestScanEndpoint(t *testing.T) {
	h, ts, _ := newTestServer(t)
	h.SetScan([]scan.Candidate{{FrequencyHz: 806e6, EnergyDB: -12}})

	var got []scan.Candidate
	getJSON(t, ts.URL+"/api/scan", &got)
	require.Len(t, got, 1)
	assert.Equal(t, -12.0, got[0].EnergyDB)
}

func TestMetricsEndpoint(t *testing.T) {
	_, ts, reg := newTestServer(t)
	m := metrics.New(reg)
	m.AttemptFinished(metrics.OutcomeAbandoned, 100)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `cellsync_attempts_total{outcome="abandoned"} 1`)
}

func TestWebSocketEvents(t *testing.T) {
	h, ts, _ := newTestServer(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return h.Hub().Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	h.OnCellResolved(lte.CellCandidate{CellID: 77, CyclicPrefix: lte.CPExtended})
	h.OnCandidateAbandoned(751e6)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "cell", msg.Type)
	var c lte.CellCandidate
	require.NoError(t, json.Unmarshal(msg.Payload, &c))
	assert.Equal(t, 77, c.CellID)
	assert.Equal(t, lte.CPExtended, c.CyclicPrefix)

	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "abandoned", msg.Type)
	assert.JSONEq(t, `{"frequencyHz":751000000}`, string(msg.Payload))

	conn.Close()
	require.Eventually(t, func() bool { return h.Hub().Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}
