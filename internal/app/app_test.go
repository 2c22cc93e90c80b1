// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tinygo.org/x/bluetooth"

	"github.com/kortschak/sensortag/internal/config"
	"github.com/kortschak/sensortag/internal/forkbeard"
	"github.com/kortschak/sensortag/internal/prefs"
	"github.com/kortschak/sensortag/manager"
	"github.com/kortschak/sensortag/pairing"
	"github.com/kortschak/sensortag/sensortag"
)

// central records the operations requested by the manager.
type central struct {
	started chan forkbeard.Events
	ops     chan string
}

func newCentral() *central {
	return &central{
		started: make(chan forkbeard.Events, 1),
		ops:     make(chan string, 100),
	}
}

func (c *central) Start(events forkbeard.Events) error {
	c.started <- events
	return nil
}

func (c *central) op(s string) error {
	c.ops <- s
	return nil
}

func (c *central) StartScan() error        { return c.op("start-scan") }
func (c *central) StopScan() error         { return c.op("stop-scan") }
func (c *central) Connect(id string) error { return c.op("connect " + id) }
func (c *central) DiscoverServices(id string, _ []bluetooth.UUID) error {
	return c.op("discover-services " + id)
}
func (c *central) DiscoverCharacteristics(id string, _ bluetooth.UUID, _ []bluetooth.UUID) error {
	return c.op("discover-characteristics " + id)
}
func (c *central) Read(id string, _, _ bluetooth.UUID) error      { return c.op("read " + id) }
func (c *central) Subscribe(id string, _, _ bluetooth.UUID) error { return c.op("subscribe " + id) }
func (c *central) Write(id string, _, _ bluetooth.UUID, _ []byte) error {
	return c.op("write " + id)
}
func (c *central) Disconnect(id string) error { return c.op("disconnect " + id) }

// await waits for the central to be asked to perform op.
func (c *central) await(t *testing.T, op string) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case got := <-c.ops:
			if got == op {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", op)
		}
	}
}

func TestRun(t *testing.T) {
	for _, k := range []string{"APP_ENV", "LOG_LEVEL", "SENSORTAG_UPLOAD_URL", "SENSORTAG_ADAPTER"} {
		t.Setenv(k, "")
	}
	t.Setenv("TZ", "UTC")

	bodies := make(chan []byte, 10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies <- b
		io.WriteString(w, "ok")
	}))
	defer srv.Close()

	dir := t.TempDir()
	prefsPath := filepath.Join(dir, "prefs.yaml")
	require.NoError(t, prefs.Save(prefsPath, [pairing.Slots]pairing.Identity{{SystemID: "AABBCC", ConnectionID: "P1"}, {}}))
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("preferences: "+prefsPath+"\nupload:\n  url: "+srv.URL+"\n"), 0o644))
	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)

	c := newCentral()
	reg := prometheus.NewRegistry()
	var values []float64
	a := New(cfg, nil, Options{
		Central:    c,
		Registerer: reg,
		Gatherer:   reg,
		Observer: manager.ObserverFuncs{
			OnValues: func(_ pairing.Slot, k sensortag.Kind, v []float64) {
				if k == sensortag.KindHumidity {
					values = v
				}
			},
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- a.Run(ctx) }()
	events := <-c.started
	c.await(t, "start-scan")

	hum, _ := sensortag.ServiceFor(sensortag.KindHumidity)
	events.Post(manager.Advertised{Peripheral: "P1"})
	events.Post(manager.Connected{Peripheral: "P1"})
	events.Post(manager.ServicesFound{Peripheral: "P1", Services: []bluetooth.UUID{hum.UUID}})
	events.Post(manager.CharacteristicsFound{Peripheral: "P1", Service: hum.UUID, Characteristics: []bluetooth.UUID{hum.Data, hum.Config}})
	c.await(t, "write P1")
	events.Post(manager.CharacteristicUpdated{Peripheral: "P1", Service: hum.UUID, Characteristic: hum.Data, Value: []byte{0x00, 0x60, 0x00, 0x80}})

	// Pair the second slot.
	events.Post(manager.Advertised{Peripheral: "P2", Name: sensortag.DeviceName})
	events.Post(manager.Connected{Peripheral: "P2"})
	events.Post(manager.CharacteristicUpdated{Peripheral: "P2", Service: sensortag.DeviceInfoService, Characteristic: sensortag.SystemID, Value: []byte{0xdd, 0xee, 0xff}})
	c.await(t, "stop-scan")

	cancel()
	require.NoError(t, <-done)

	var body struct {
		UUID     string           `json:"uuid"`
		Timezone string           `json:"timezone"`
		Data     []map[string]any `json:"data"`
	}
	select {
	case b := <-bodies:
		require.NoError(t, json.Unmarshal(b, &body))
	default:
		t.Fatal("no batch was uploaded on shutdown")
	}
	assert.Equal(t, "AABBCC-DDEEFF", body.UUID)
	assert.Equal(t, "UTC", body.Timezone)
	require.Len(t, body.Data, 1)
	assert.Equal(t, "humidity", body.Data[0]["sensor"])
	assert.Equal(t, "AABBCC", body.Data[0]["id"])
	assert.Equal(t, []float64{21.875, 50}, values)

	ids, err := prefs.Load(prefsPath)
	require.NoError(t, err)
	assert.Equal(t, [pairing.Slots]pairing.Identity{
		{SystemID: "AABBCC", ConnectionID: "P1"},
		{SystemID: "DDEEFF", ConnectionID: "P2"},
	}, ids)

	err = testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP sensortag_records_total Telemetry records added to the upload batch.
# TYPE sensortag_records_total counter
sensortag_records_total 1
`), "sensortag_records_total")
	assert.NoError(t, err)
}
