// Package profile keeps the console client's local state between runs.
// Restarting the client with the same profile is a reload of the same tab.
package profile

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// DefaultFile is the profile path used when none is given.
const DefaultFile = "lock-profile.json"

type Profile struct {
	TabID     string `json:"tabId"`
	LastPhase string `json:"lastPhase,omitempty"`

	mu   sync.Mutex
	path string
}

// Load reads the profile at path. A missing file yields a profile with a
// new tab id that is not yet saved.
func Load(path string) (*Profile, error) {
	p := &Profile{path: path}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			p.TabID = uuid.NewString()
			return p, nil
		}
		return nil, err
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(p); err != nil {
		return nil, err
	}
	if p.TabID == "" {
		p.TabID = uuid.NewString()
	}
	return p, nil
}

// NewTab replaces the tab id, as opening a new tab would.
func (p *Profile) NewTab() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TabID = uuid.NewString()
	p.LastPhase = ""
}

// SetLastPhase remembers the last phase reported by the server.
func (p *Profile) SetLastPhase(phase string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.LastPhase = phase
}

// Save writes the profile back to its file.
func (p *Profile) Save() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if dir := filepath.Dir(p.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	b, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(p.path, b, 0o600)
}
