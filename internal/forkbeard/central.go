// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package forkbeard

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/kortschak/sensortag/manager"
)

// Events receives the results of Central operations.
type Events interface {
	// Post queues an event, blocking until it is queued.
	Post(manager.Event)
	// TryPost queues an event without blocking, reporting
	// whether it was queued.
	TryPost(manager.Event) bool
}

// Central is a manager.Central using a host Bluetooth adapter. Each
// operation is started by the method call and completed on a
// per-peripheral goroutine, with the result posted as an event.
type Central struct {
	adapter *bluetooth.Adapter
	name    string
	log     *slog.Logger

	// scanner is the adapter's scan interface.
	scanner   scanner
	services  []bluetooth.UUID
	scanRetry time.Duration

	mu         sync.Mutex
	events     Events
	seen       map[string]bluetooth.Address
	devices    map[string]*device
	wantScan   bool
	scanActive bool
}

type scanner interface {
	Scan(func(*bluetooth.Adapter, bluetooth.ScanResult)) error
	StopScan() error
}

type device struct {
	id    string
	queue *queue

	// Only accessed by operations on queue.
	dev      bluetooth.Device
	services map[bluetooth.UUID]bluetooth.DeviceService
	chars    map[[2]bluetooth.UUID]bluetooth.DeviceCharacteristic

	mu       sync.Mutex
	silenced bool
}

// silence stops events from being posted for d.
func (d *device) silence() {
	d.mu.Lock()
	d.silenced = true
	d.mu.Unlock()
}

func (d *device) isSilenced() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.silenced
}

var _ manager.Central = (*Central)(nil)

// NewCentral returns a Central for the named adapter. The name is
// only used by platforms with more than one adapter. If services is
// not empty, only advertisements carrying one of the services are
// reported.
func NewCentral(name string, services []bluetooth.UUID, log *slog.Logger) *Central {
	if log == nil {
		log = slog.Default()
	}
	a := adapter(name)
	return &Central{
		adapter:   a,
		name:      name,
		log:       log,
		scanner:   a,
		services:  services,
		scanRetry: 5 * time.Second,
		seen:      make(map[string]bluetooth.Address),
		devices:   make(map[string]*device),
	}
}

// advertises returns whether has reports any of services.
func advertises(has func(bluetooth.UUID) bool, services []bluetooth.UUID) bool {
	for _, s := range services {
		if has(s) {
			return true
		}
	}
	return false
}

// Start enables the adapter and begins delivering events.
func (c *Central) Start(events Events) error {
	c.mu.Lock()
	c.events = events
	c.mu.Unlock()
	c.log.Info("enabling adapter", "adapter", c.name)
	err := c.adapter.Enable()
	if err != nil {
		return fmt.Errorf("failed to enable bluetooth adapter %s: %w", c.name, err)
	}
	c.adapter.SetConnectHandler(c.connectHandler)
	return nil
}

func (c *Central) connectHandler(dev bluetooth.Device, connected bool) {
	if connected {
		return
	}
	id := dev.Address.String()
	c.mu.Lock()
	d, ok := c.devices[id]
	if ok {
		delete(c.devices, id)
		d.queue.close()
	}
	events := c.events
	c.mu.Unlock()
	if !ok || d.isSilenced() {
		return
	}
	events.Post(manager.Disconnected{Peripheral: id})
}

// StartScan starts scanning for advertisements. It does not wait for
// a previous scan to end; a scan that is still running is reused.
func (c *Central) StartScan() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wantScan = true
	if c.scanActive {
		return nil
	}
	c.scanActive = true
	go c.scan()
	return nil
}

// scan runs the adapter scan until a stop is requested. If the scan
// ends while it is still wanted, the failure is held for scanRetry
// and then reported as a manager.ScanStopped event.
func (c *Central) scan() {
	for {
		err := c.scanner.Scan(c.scanHandler)
		c.mu.Lock()
		if !c.wantScan {
			c.scanActive = false
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
		if err == nil {
			// Stopped and started again before the scan ended.
			continue
		}

		c.log.Warn("scan failed", "error", err)
		time.Sleep(c.scanRetry)
		c.mu.Lock()
		c.scanActive = false
		want := c.wantScan
		events := c.events
		c.mu.Unlock()
		if want {
			events.Post(manager.ScanStopped{Err: err})
		}
		return
	}
}

func (c *Central) scanHandler(_ *bluetooth.Adapter, r bluetooth.ScanResult) {
	c.mu.Lock()
	if !c.wantScan {
		c.mu.Unlock()
		// The stop request arrived before the adapter was scanning.
		err := c.scanner.StopScan()
		if err != nil {
			c.log.Debug("failed to stop stale scan", "error", err)
		}
		return
	}
	events := c.events
	c.mu.Unlock()
	if len(c.services) != 0 && !advertises(r.HasServiceUUID, c.services) {
		return
	}
	id := r.Address.String()
	c.mu.Lock()
	c.seen[id] = r.Address
	c.mu.Unlock()
	ev := manager.Advertised{Peripheral: id, Name: r.LocalName(), RSSI: r.RSSI}
	// Advertisements repeat, so drop them rather than stall the
	// adapter when the manager is busy.
	if !events.TryPost(ev) {
		c.log.Debug("dropped advertisement", "peripheral", id)
	}
}

// StopScan stops scanning. It does not wait for the scan to end. If
// the adapter has not yet begun scanning, the scan is stopped by the
// first advertisement it delivers.
func (c *Central) StopScan() error {
	c.mu.Lock()
	c.wantScan = false
	active := c.scanActive
	c.mu.Unlock()
	if !active {
		return nil
	}
	err := c.scanner.StopScan()
	if err != nil {
		c.log.Debug("scan not yet running", "error", err)
	}
	return nil
}

// Connect starts connecting to the advertised peripheral id.
func (c *Central) Connect(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	addr, ok := c.seen[id]
	if !ok {
		return fmt.Errorf("peripheral %s has not been seen", id)
	}
	if old, ok := c.devices[id]; ok {
		old.silence()
		old.queue.close()
	}
	d := &device{
		id:       id,
		queue:    newQueue(),
		services: make(map[bluetooth.UUID]bluetooth.DeviceService),
		chars:    make(map[[2]bluetooth.UUID]bluetooth.DeviceCharacteristic),
	}
	c.devices[id] = d
	events := c.events
	d.queue.add(func() {
		dev, err := c.adapter.Connect(addr, bluetooth.ConnectionParams{})
		if err != nil {
			c.post(d, events, manager.ConnectFailed{Peripheral: id, Err: err})
			return
		}
		d.dev = dev
		c.post(d, events, manager.Connected{Peripheral: id})
	})
	return nil
}

// DiscoverServices starts discovery of the listed services.
func (c *Central) DiscoverServices(id string, ids []bluetooth.UUID) error {
	return c.do(id, func(d *device, events Events) {
		srv, err := d.dev.DiscoverServices(nil)
		if err != nil {
			c.post(d, events, manager.ServicesFound{Peripheral: id, Err: err})
			return
		}
		found := services(srv, ids)
		maps.Copy(d.services, found)
		c.post(d, events, manager.ServicesFound{Peripheral: id, Services: keys(found, ids)})
	})
}

// DiscoverCharacteristics starts discovery of the listed
// characteristics of a previously discovered service.
func (c *Central) DiscoverCharacteristics(id string, service bluetooth.UUID, ids []bluetooth.UUID) error {
	return c.do(id, func(d *device, events Events) {
		s, ok := d.services[service]
		if !ok {
			c.post(d, events, manager.CharacteristicsFound{Peripheral: id, Service: service, Err: errNoService(service)})
			return
		}
		chars, err := s.DiscoverCharacteristics(nil)
		if err != nil {
			c.post(d, events, manager.CharacteristicsFound{Peripheral: id, Service: service, Err: err})
			return
		}
		found := characteristics(chars, ids)
		for k, ch := range found {
			d.chars[[2]bluetooth.UUID{service, k}] = ch
		}
		c.post(d, events, manager.CharacteristicsFound{Peripheral: id, Service: service, Characteristics: keys(found, ids)})
	})
}

// Read starts a read of a characteristic value.
func (c *Central) Read(id string, service, char bluetooth.UUID) error {
	return c.do(id, func(d *device, events Events) {
		ev := manager.CharacteristicUpdated{Peripheral: id, Service: service, Characteristic: char}
		ch, ok := d.chars[[2]bluetooth.UUID{service, char}]
		if !ok {
			ev.Err = errNoCharacteristic(char)
		} else {
			ev.Value, ev.Err = readCharacteristic(ch)
		}
		c.post(d, events, ev)
	})
}

// Subscribe enables notifications for a characteristic.
func (c *Central) Subscribe(id string, service, char bluetooth.UUID) error {
	return c.do(id, func(d *device, events Events) {
		ch, ok := d.chars[[2]bluetooth.UUID{service, char}]
		if !ok {
			c.post(d, events, manager.CharacteristicUpdated{Peripheral: id, Service: service, Characteristic: char, Err: errNoCharacteristic(char)})
			return
		}
		err := ch.EnableNotifications(func(buf []byte) {
			c.post(d, events, manager.CharacteristicUpdated{
				Peripheral:     id,
				Service:        service,
				Characteristic: char,
				Value:          bytes.Clone(buf),
			})
		})
		if err != nil {
			c.post(d, events, manager.CharacteristicUpdated{Peripheral: id, Service: service, Characteristic: char, Err: err})
		}
	})
}

// Write starts a write of a characteristic value.
func (c *Central) Write(id string, service, char bluetooth.UUID, value []byte) error {
	value = bytes.Clone(value)
	return c.do(id, func(d *device, events Events) {
		ev := manager.WriteCompleted{Peripheral: id, Service: service, Characteristic: char}
		ch, ok := d.chars[[2]bluetooth.UUID{service, char}]
		if !ok {
			ev.Err = errNoCharacteristic(char)
		} else {
			ev.Err = write(ch, value)
		}
		c.post(d, events, ev)
	})
}

// Disconnect disconnects the peripheral. No further events are posted
// for it.
func (c *Central) Disconnect(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.devices[id]
	if !ok {
		return nil
	}
	delete(c.devices, id)
	d.silence()
	d.queue.add(func() {
		if d.dev.Address == (bluetooth.Address{}) {
			return
		}
		err := d.dev.Disconnect()
		if err != nil {
			c.log.Warn("failed to disconnect", "peripheral", id, "error", err)
		}
	})
	d.queue.close()
	return nil
}

// do queues op on the peripheral's goroutine.
func (c *Central) do(id string, op func(*device, Events)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.devices[id]
	if !ok {
		return fmt.Errorf("peripheral %s is not connected", id)
	}
	events := c.events
	if !d.queue.add(func() { op(d, events) }) {
		return fmt.Errorf("peripheral %s is disconnecting", id)
	}
	return nil
}

func (c *Central) post(d *device, events Events, ev manager.Event) {
	if d.isSilenced() {
		return
	}
	events.Post(ev)
}

var errNotFound = errors.New("not found")

func errNoService(id bluetooth.UUID) error {
	return fmt.Errorf("service %s: %w", id, errNotFound)
}

func errNoCharacteristic(id bluetooth.UUID) error {
	return fmt.Errorf("characteristic %s: %w", id, errNotFound)
}
