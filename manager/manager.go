// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package manager implements the connection state machine that pairs
// with up to two SensorTags, keeps them connected and routes their
// measurements to an observer and an upload batcher.
//
// All state is owned by the goroutine calling Run; other goroutines
// communicate with the Manager only through Post and the methods
// built on it.
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/kortschak/sensortag/battery"
	"github.com/kortschak/sensortag/internal/metrics"
	"github.com/kortschak/sensortag/pairing"
	"github.com/kortschak/sensortag/sensortag"
	"github.com/kortschak/sensortag/upload"
)

// State is the connection state of a peripheral.
type State uint8

//go:generate go tool golang.org/x/tools/cmd/stringer -type State -trimprefix State
const (
	StateAdvertised State = iota
	StateConnecting
	StateServiceDiscovery
	StateCharacteristicDiscovery
	StateIdentityProbe
	StateSubscribing
	StateActive
	StateDisconnected
)

// Defaults for Options.
const (
	DefaultBatteryInterval = time.Minute
	DefaultQueueLength     = 64
	DefaultFlushTimeout    = 10 * time.Second
)

// Options configures a Manager.
type Options struct {
	// DeviceName is the advertised name of eligible
	// peripherals. If empty, sensortag.DeviceName is
	// used.
	DeviceName string
	// Sensors is the set of enabled sensor services.
	Sensors []sensortag.Kind
	// Range is the motion sensor accelerometer range.
	Range sensortag.Range
	// BatteryInterval is the minimum time between
	// battery reads for a slot.
	BatteryInterval time.Duration
	// QueueLength is the capacity of the event queue.
	QueueLength int
	// FlushTimeout bounds the wait for in-flight
	// uploads during teardown.
	FlushTimeout time.Duration

	Log     *slog.Logger
	Metrics *metrics.Metrics
	// Now returns the current time. If nil, time.Now
	// is used.
	Now func() time.Time
}

// Manager is the sensor connection state machine.
type Manager struct {
	central  Central
	registry *pairing.Registry
	batch    *upload.Batcher
	observer Observer

	deviceName      string
	services        []sensortag.Service
	discover        []bluetooth.UUID
	motionRange     sensortag.Range
	batteryInterval time.Duration
	flushTimeout    time.Duration
	log             *slog.Logger
	metrics         *metrics.Metrics
	now             func() time.Time

	peripherals map[string]*peripheral
	slots       [pairing.Slots]slot
	started     bool
	scanning    bool
	rescan      bool

	events chan Event
	done   chan struct{}
}

type slot struct {
	peripheral       *peripheral
	battery          bool
	lastBatteryCheck time.Time
}

type peripheral struct {
	id       string
	state    State
	bound    bool
	slot     pairing.Slot
	awaiting int
}

// New returns a new Manager. The Manager does not scan until it has
// received identities with UpdateIdentities or an IdentitiesUpdated
// event.
func New(central Central, registry *pairing.Registry, batch *upload.Batcher, observer Observer, opts Options) *Manager {
	if observer == nil {
		observer = ObserverFuncs{}
	}
	m := &Manager{
		central:         central,
		registry:        registry,
		batch:           batch,
		observer:        observer,
		deviceName:      opts.DeviceName,
		motionRange:     opts.Range,
		batteryInterval: opts.BatteryInterval,
		flushTimeout:    opts.FlushTimeout,
		log:             opts.Log,
		metrics:         opts.Metrics,
		now:             opts.Now,
		peripherals:     make(map[string]*peripheral),
	}
	if m.deviceName == "" {
		m.deviceName = sensortag.DeviceName
	}
	if m.batteryInterval <= 0 {
		m.batteryInterval = DefaultBatteryInterval
	}
	if m.flushTimeout <= 0 {
		m.flushTimeout = DefaultFlushTimeout
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	if m.now == nil {
		m.now = time.Now
	}
	for _, k := range opts.Sensors {
		s, ok := sensortag.ServiceFor(k)
		if !ok || slices.Contains(m.services, s) {
			continue
		}
		m.services = append(m.services, s)
		m.discover = append(m.discover, s.UUID)
	}
	m.discover = append(m.discover, battery.Service)
	n := opts.QueueLength
	if n <= 0 {
		n = DefaultQueueLength
	}
	m.events = make(chan Event, n)
	m.done = make(chan struct{})
	return m
}

// Post queues ev for handling by Run. It is safe for concurrent use.
// Events posted after Run has returned are dropped.
func (m *Manager) Post(ev Event) {
	select {
	case m.events <- ev:
	case <-m.done:
	}
}

// TryPost queues ev if the queue has room, reporting whether it was
// queued. It is safe for concurrent use.
func (m *Manager) TryPost(ev Event) bool {
	select {
	case m.events <- ev:
		return true
	default:
		return false
	}
}

// UpdateIdentities replaces the identities of both slots, forgets
// rejected peripherals and restarts scanning.
func (m *Manager) UpdateIdentities(ids [pairing.Slots]pairing.Identity) {
	m.Post(IdentitiesUpdated{Identities: ids})
}

// FlushNow requests an immediate flush of the upload batch.
func (m *Manager) FlushNow() {
	m.Post(FlushRequested{})
}

// Run handles events until ctx is done. On return it has flushed the
// upload batch, disconnected all peripherals and stopped scanning.
func (m *Manager) Run(ctx context.Context) error {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			return m.teardown(ctx)
		case ev := <-m.events:
			m.Handle(ev)
		}
	}
}

func (m *Manager) teardown(ctx context.Context) error {
	m.log.Info("shutting down sensor manager")
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.flushTimeout)
	defer cancel()
	err := m.batch.Close(ctx)
	for id := range m.peripherals {
		if err := m.central.Disconnect(id); err != nil {
			m.log.Warn("failed to disconnect", "peripheral", id, "error", err)
		}
	}
	clear(m.peripherals)
	for s := range m.slots {
		m.slots[s].peripheral = nil
	}
	if m.scanning {
		if err := m.central.StopScan(); err != nil {
			m.log.Warn("failed to stop scan", "error", err)
		}
		m.scanning = false
	}
	return err
}

// Handle applies ev to the state machine. It must only be called from
// the goroutine that owns the Manager; Run does this for posted events.
func (m *Manager) Handle(ev Event) {
	switch ev := ev.(type) {
	case Advertised:
		m.advertised(ev)
	case Connected:
		m.connected(ev)
	case ConnectFailed:
		m.connectFailed(ev)
	case ServicesFound:
		m.servicesFound(ev)
	case CharacteristicsFound:
		m.characteristicsFound(ev)
	case CharacteristicUpdated:
		m.characteristicUpdated(ev)
	case WriteCompleted:
		m.writeCompleted(ev)
	case Disconnected:
		m.disconnected(ev)
	case ScanStopped:
		m.log.Warn("scan stopped", "error", ev.Err)
		m.scanning = false
	case IdentitiesUpdated:
		m.registry.Update(ev.Identities)
		m.started = true
		m.rescan = true
		m.log.Info("identities updated", "system_ids", m.registry.SystemIDs(), "connection_ids", m.registry.ConnectionIDs())
	case FlushRequested:
		m.batch.Flush()
	default:
		panic(fmt.Sprintf("unknown event type: %T", ev))
	}
	m.syncScan()
}

// Scanning returns whether the Manager is scanning.
func (m *Manager) Scanning() bool { return m.scanning }

// Peripheral returns the identifier and state of the peripheral held
// by slot s.
func (m *Manager) Peripheral(s pairing.Slot) (id string, state State, ok bool) {
	p := m.slots[s].peripheral
	if p == nil {
		return "", 0, false
	}
	return p.id, p.state, true
}

// Tracked returns the state of the peripheral with the provided
// identifier if it is being tracked.
func (m *Manager) Tracked(id string) (State, bool) {
	p, ok := m.peripherals[id]
	if !ok {
		return 0, false
	}
	return p.state, true
}

func (m *Manager) advertised(ev Advertised) {
	m.metrics.Inc(metrics.Advertisements)
	if !m.started {
		return
	}
	if _, ok := m.peripherals[ev.Peripheral]; ok {
		return
	}
	if s, ok := m.registry.SlotOf(ev.Peripheral); ok {
		if cur := m.slots[s].peripheral; cur != nil {
			m.log.Info("displacing peripheral", "slot", s, "old", cur.id, "new", ev.Peripheral)
			m.release(cur)
		}
		p := &peripheral{id: ev.Peripheral, state: StateConnecting}
		m.peripherals[p.id] = p
		m.bind(p, s)
		m.log.Info("connecting paired peripheral", "slot", s, "peripheral", p.id, "rssi", ev.RSSI)
		m.connect(p)
		return
	}
	switch {
	case !m.hasFreeSlot():
		return
	case m.registry.Rejected(ev.Peripheral):
		m.log.Debug("ignoring rejected peripheral", "peripheral", ev.Peripheral)
		return
	case ev.Name != m.deviceName:
		m.log.Debug("ignoring peripheral", "peripheral", ev.Peripheral, "name", ev.Name)
		return
	}
	p := &peripheral{id: ev.Peripheral, state: StateConnecting}
	m.peripherals[p.id] = p
	m.log.Info("connecting candidate peripheral", "peripheral", p.id, "rssi", ev.RSSI)
	m.connect(p)
}

func (m *Manager) connect(p *peripheral) {
	err := m.central.Connect(p.id)
	if err != nil {
		m.connectFailed(ConnectFailed{Peripheral: p.id, Err: err})
	}
}

func (m *Manager) connectFailed(ev ConnectFailed) {
	p, ok := m.peripherals[ev.Peripheral]
	if !ok {
		return
	}
	m.log.Warn("failed to connect", "peripheral", p.id, "error", ev.Err)
	m.forget(p)
}

func (m *Manager) connected(ev Connected) {
	p, ok := m.peripherals[ev.Peripheral]
	if !ok || p.state != StateConnecting {
		return
	}
	m.metrics.Inc(metrics.Connections)
	if p.bound {
		m.log.Info("connected", "slot", p.slot, "peripheral", p.id)
		p.state = StateServiceDiscovery
		m.check(p, m.central.DiscoverServices(p.id, m.discover))
		return
	}
	m.log.Info("connected, probing identity", "peripheral", p.id)
	p.state = StateIdentityProbe
	m.check(p, m.central.DiscoverServices(p.id, []bluetooth.UUID{sensortag.DeviceInfoService}))
}

func (m *Manager) servicesFound(ev ServicesFound) {
	p, ok := m.peripherals[ev.Peripheral]
	if !ok {
		return
	}
	if ev.Err != nil {
		m.log.Warn("service discovery failed", "peripheral", p.id, "state", p.state, "error", ev.Err)
		return
	}
	if !p.bound {
		if p.state != StateIdentityProbe {
			return
		}
		if !slices.Contains(ev.Services, sensortag.DeviceInfoService) {
			m.log.Warn("peripheral has no device information service", "peripheral", p.id)
			return
		}
		m.check(p, m.central.DiscoverCharacteristics(p.id, sensortag.DeviceInfoService, []bluetooth.UUID{sensortag.SystemID}))
		return
	}
	if p.state != StateServiceDiscovery {
		return
	}
	p.state = StateCharacteristicDiscovery
	for _, id := range ev.Services {
		var chars []bluetooth.UUID
		if id == battery.Service {
			chars = []bluetooth.UUID{battery.LevelCharacteristic}
		} else if s, ok := m.service(id); ok {
			chars = []bluetooth.UUID{s.Data, s.Config}
		} else {
			continue
		}
		p.awaiting++
		m.check(p, m.central.DiscoverCharacteristics(p.id, id, chars))
	}
	if p.awaiting == 0 {
		m.log.Warn("peripheral has no enabled sensor services", "slot", p.slot, "peripheral", p.id)
		p.state = StateActive
	}
}

func (m *Manager) characteristicsFound(ev CharacteristicsFound) {
	p, ok := m.peripherals[ev.Peripheral]
	if !ok {
		return
	}
	if !p.bound {
		if p.state != StateIdentityProbe {
			return
		}
		if ev.Err != nil {
			m.log.Warn("identity characteristic discovery failed", "peripheral", p.id, "error", ev.Err)
			return
		}
		if ev.Service == sensortag.DeviceInfoService && slices.Contains(ev.Characteristics, sensortag.SystemID) {
			m.check(p, m.central.Read(p.id, sensortag.DeviceInfoService, sensortag.SystemID))
		}
		return
	}
	if p.state != StateCharacteristicDiscovery && p.state != StateSubscribing {
		return
	}
	if ev.Err != nil {
		m.log.Warn("characteristic discovery failed", "slot", p.slot, "peripheral", p.id, "service", ev.Service, "error", ev.Err)
	} else if ev.Service == battery.Service {
		m.slots[p.slot].battery = slices.Contains(ev.Characteristics, battery.LevelCharacteristic)
	} else if s, ok := m.service(ev.Service); ok {
		p.state = StateSubscribing
		if slices.Contains(ev.Characteristics, s.Data) {
			m.check(p, m.central.Subscribe(p.id, s.UUID, s.Data))
		}
		if slices.Contains(ev.Characteristics, s.Config) {
			m.check(p, m.central.Write(p.id, s.UUID, s.Config, sensortag.EnableValue(s.Kind, m.motionRange)))
		}
	}
	p.awaiting--
	if p.awaiting <= 0 {
		p.awaiting = 0
		p.state = StateActive
		m.log.Info("peripheral active", "slot", p.slot, "peripheral", p.id)
	}
}

func (m *Manager) characteristicUpdated(ev CharacteristicUpdated) {
	p, ok := m.peripherals[ev.Peripheral]
	if !ok {
		return
	}
	if ev.Err != nil {
		m.log.Warn("characteristic update failed", "peripheral", p.id, "characteristic", ev.Characteristic, "error", ev.Err)
		return
	}
	if !p.bound {
		if p.state == StateIdentityProbe && ev.Characteristic == sensortag.SystemID {
			m.identify(p, ev.Value)
		}
		return
	}
	m.received(p, ev)
}

// identify resolves the slot of a probed peripheral from its system
// identifier.
func (m *Manager) identify(p *peripheral, sysID []byte) {
	id := fmt.Sprintf("%X", sysID)
	s, ok, changed := m.registry.Resolve(p.id, id)
	if !ok {
		m.metrics.Inc(metrics.Rejections)
		m.log.Warn("rejecting peripheral", "peripheral", p.id, "system_id", id)
		delete(m.peripherals, p.id)
		if err := m.central.Disconnect(p.id); err != nil {
			m.log.Warn("failed to disconnect", "peripheral", p.id, "error", err)
		}
		return
	}
	if changed {
		m.log.Info("paired", "slot", s, "system_id", id, "peripheral", p.id)
		m.observer.Paired(m.registry.SystemIDs(), m.registry.ConnectionIDs())
	}
	if cur := m.slots[s].peripheral; cur != nil && cur != p {
		m.log.Info("displacing peripheral", "slot", s, "old", cur.id, "new", p.id)
		m.release(cur)
	}
	m.bind(p, s)
	p.state = StateServiceDiscovery
	m.check(p, m.central.DiscoverServices(p.id, m.discover))
}

func (m *Manager) received(p *peripheral, ev CharacteristicUpdated) {
	now := m.now()
	if kind, ok := sensortag.KindOf(ev.Service); ok {
		r, err := sensortag.Decode(kind, ev.Value, m.motionRange)
		if err != nil {
			m.metrics.Inc(metrics.DecodeErrors)
			m.log.Warn("dropping update", "slot", p.slot, "sensor", kind, "value", fmt.Sprintf("%#x", ev.Value), "error", err)
		} else {
			values := r.Values()
			m.log.Debug("received", "slot", p.slot, "sensor", kind, "values", values)
			m.observer.ValuesReceived(p.slot, kind, values)
			m.batch.Append(upload.Record{
				Slot:     p.slot,
				SystemID: m.registry.Identity(p.slot).SystemID,
				Kind:     kind,
				Time:     now,
				Fields:   r.Fields(),
			})
		}
	}

	// The SensorTag does not notify battery changes, so
	// piggyback a read on other traffic for the slot.
	s := &m.slots[p.slot]
	if s.battery && now.Sub(s.lastBatteryCheck) > m.batteryInterval {
		s.lastBatteryCheck = now
		m.check(p, m.central.Read(p.id, battery.Service, battery.LevelCharacteristic))
	}
}

func (m *Manager) writeCompleted(ev WriteCompleted) {
	if ev.Err != nil {
		m.log.Warn("characteristic write failed", "peripheral", ev.Peripheral, "characteristic", ev.Characteristic, "error", ev.Err)
		return
	}
	m.log.Debug("characteristic written", "peripheral", ev.Peripheral, "characteristic", ev.Characteristic)
}

func (m *Manager) disconnected(ev Disconnected) {
	p, ok := m.peripherals[ev.Peripheral]
	if !ok {
		return
	}
	m.log.Info("disconnected", "peripheral", p.id, "state", p.state, "error", ev.Err)
	p.state = StateDisconnected
	if p.bound && m.slots[p.slot].peripheral == p {
		m.rescan = true
	}
	m.forget(p)
}

// bind makes p the live peripheral of slot s.
func (m *Manager) bind(p *peripheral, s pairing.Slot) {
	p.bound = true
	p.slot = s
	m.slots[s].peripheral = p
	m.slots[s].battery = false
	m.metrics.Set(metrics.LiveSlots, float64(m.live()))
}

// forget stops tracking p, releasing its slot.
func (m *Manager) forget(p *peripheral) {
	delete(m.peripherals, p.id)
	if p.bound && m.slots[p.slot].peripheral == p {
		m.slots[p.slot].peripheral = nil
		m.slots[p.slot].battery = false
		m.metrics.Set(metrics.LiveSlots, float64(m.live()))
	}
}

// release disconnects p and stops tracking it.
func (m *Manager) release(p *peripheral) {
	m.forget(p)
	if err := m.central.Disconnect(p.id); err != nil {
		m.log.Warn("failed to disconnect", "peripheral", p.id, "error", err)
	}
}

// check logs a failure to start an operation on p.
func (m *Manager) check(p *peripheral, err error) {
	if err != nil {
		m.log.Warn("bluetooth operation failed", "peripheral", p.id, "state", p.state, "error", err)
	}
}

func (m *Manager) service(id bluetooth.UUID) (sensortag.Service, bool) {
	for _, s := range m.services {
		if s.UUID == id {
			return s, true
		}
	}
	return sensortag.Service{}, false
}

func (m *Manager) live() int {
	var n int
	for _, s := range m.slots {
		if s.peripheral != nil {
			n++
		}
	}
	return n
}

func (m *Manager) hasFreeSlot() bool {
	return m.live() < pairing.Slots
}

// syncScan restores the invariant that the Manager scans if and only
// if fewer than two slots hold a peripheral.
func (m *Manager) syncScan() {
	if !m.started {
		return
	}
	if m.rescan {
		m.rescan = false
		if m.scanning {
			if err := m.central.StopScan(); err != nil {
				m.log.Warn("failed to stop scan", "error", err)
			}
			m.scanning = false
		}
	}
	want := m.live() < pairing.Slots
	switch {
	case want && !m.scanning:
		if err := m.central.StartScan(); err != nil {
			m.log.Warn("failed to start scan", "error", err)
			return
		}
		m.log.Debug("scanning")
		m.scanning = true
	case !want && m.scanning:
		if err := m.central.StopScan(); err != nil {
			m.log.Warn("failed to stop scan", "error", err)
		}
		m.log.Debug("both slots live, scan stopped")
		m.scanning = false
	}
}
