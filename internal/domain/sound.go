package domain

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
)

// Settings keys shared by the manifest fetcher and the UI-facing layer.
const (
	SettingSoundDef      = "sound_def"
	SettingSelectedSound = "selected_sound"
)

// SoundDef describes one downloadable sound. Filename is its identity.
type SoundDef struct {
	Name     string `json:"name"`
	Location string `json:"location"`
	Filename string `json:"filename"`
}

// Manifest is the ordered list of sounds plus the raw JSON it was parsed from.
// Raw is persisted verbatim so the settings store never holds a re-encoded copy.
type Manifest struct {
	Sounds []SoundDef
	Raw    string
}

// ParseManifest decodes sound-def.json. Anything but a JSON array of
// sounds with non-empty filenames is rejected.
func ParseManifest(raw []byte) (*Manifest, error) {
	var sounds []SoundDef
	if err := json.Unmarshal(raw, &sounds); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedManifest, err)
	}

	// json.Unmarshal accepts a bare null
	if sounds == nil {
		return nil, fmt.Errorf("%w: expected a JSON array", ErrMalformedManifest)
	}

	for i, s := range sounds {
		if strings.TrimSpace(s.Filename) == "" {
			return nil, fmt.Errorf("%w: sound[%d] has no filename", ErrMalformedManifest, i)
		}
	}

	return &Manifest{Sounds: sounds, Raw: string(raw)}, nil
}

// Filenames returns the sound filenames in manifest order.
func (m *Manifest) Filenames() []string {
	if m == nil {
		return nil
	}
	names := make([]string, 0, len(m.Sounds))
	for _, s := range m.Sounds {
		names = append(names, s.Filename)
	}
	return names
}

// Lookup finds a sound by filename.
func (m *Manifest) Lookup(filename string) (SoundDef, bool) {
	if m == nil {
		return SoundDef{}, false
	}
	for _, s := range m.Sounds {
		if s.Filename == filename {
			return s, true
		}
	}
	return SoundDef{}, false
}

// ValidateFilename rejects names that would escape the sounds directory.
// A valid name is a single, local path element.
func ValidateFilename(name string) error {
	if name == "" || name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrUnsafeFilename, name)
	}
	if strings.ContainsAny(name, `/\`) || filepath.Base(name) != name || !filepath.IsLocal(name) {
		return fmt.Errorf("%w: %q", ErrUnsafeFilename, name)
	}
	return nil
}
