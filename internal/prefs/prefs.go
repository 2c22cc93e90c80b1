// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package prefs persists the identities of the paired sensors.
package prefs

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kortschak/sensortag/pairing"
	"github.com/kortschak/sensortag/sensortag"
)

type file struct {
	LeftSystemID      string `yaml:"left_system_id"`
	RightSystemID     string `yaml:"right_system_id"`
	LeftConnectionID  string `yaml:"left_connection_id"`
	RightConnectionID string `yaml:"right_connection_id"`
}

// Load returns the identities stored at path. A missing file holds
// empty identities. Identifiers are trimmed and upper-cased, and a
// connection identifier without a system identifier is dropped.
func Load(path string) ([pairing.Slots]pairing.Identity, error) {
	var ids [pairing.Slots]pairing.Identity
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return ids, nil
	}
	if err != nil {
		return ids, err
	}
	var f file
	err = yaml.Unmarshal(raw, &f)
	if err != nil {
		return ids, fmt.Errorf("invalid preferences %s: %w", path, err)
	}
	ids[pairing.Left] = sanitize(f.LeftSystemID, f.LeftConnectionID)
	ids[pairing.Right] = sanitize(f.RightSystemID, f.RightConnectionID)
	return ids, nil
}

// sanitize normalises stored identities. Connection ids keep their
// case since they are compared exactly with the identifiers reported
// by the host Bluetooth stack.
func sanitize(sysID, connID string) pairing.Identity {
	id := pairing.Identity{
		SystemID:     strings.ToUpper(strings.TrimSpace(sysID)),
		ConnectionID: strings.TrimSpace(connID),
	}
	if id.SystemID == "" {
		id.ConnectionID = ""
	}
	return id
}

// Save writes ids to path, replacing any existing file.
func Save(path string, ids [pairing.Slots]pairing.Identity) error {
	raw, err := yaml.Marshal(file{
		LeftSystemID:      ids[pairing.Left].SystemID,
		RightSystemID:     ids[pairing.Right].SystemID,
		LeftConnectionID:  ids[pairing.Left].ConnectionID,
		RightConnectionID: ids[pairing.Right].ConnectionID,
	})
	if err != nil {
		return err
	}
	dir, name := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	f, err := os.CreateTemp(dir, name+".*")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())
	_, err = f.Write(raw)
	if err != nil {
		f.Close()
		return err
	}
	err = f.Close()
	if err != nil {
		return err
	}
	return os.Rename(f.Name(), path)
}

// Store saves paired identities to a file as they change. It
// implements manager.Observer.
type Store struct {
	Path string
	Log  *slog.Logger
}

func (s Store) Paired(systemIDs, connectionIDs [pairing.Slots]string) {
	var ids [pairing.Slots]pairing.Identity
	for i := range ids {
		ids[i] = pairing.Identity{SystemID: systemIDs[i], ConnectionID: connectionIDs[i]}
	}
	err := Save(s.Path, ids)
	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	if err != nil {
		log.Warn("failed to save preferences", "path", s.Path, "error", err)
		return
	}
	log.Info("saved preferences", "path", s.Path, "system_ids", systemIDs)
}

func (Store) ValuesReceived(pairing.Slot, sensortag.Kind, []float64) {}
