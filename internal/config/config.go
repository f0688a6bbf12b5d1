// Package config loads the optional side-channel debug settings file
// an INI file at the core library's own directory, section Debug,
// four boolean keys, all defaulting to false when the file — or the
// section, or a key — is absent.
package config

import (
	"path/filepath"

	"gopkg.in/ini.v1"
)

const FileName = "fsrg_interposer.ini"

// Debug holds the two debug-only dispatch flags consumed by the
// interpolator parameter block, plus the
// interpolated-frames-only override, and the supplemented
// UI-mask toggle.
type Debug struct {
	EnableDebugOverlay           bool
	EnableDebugTearLines         bool
	EnableInterpolatedFramesOnly bool
	EnableUIMask                 bool
}

// Load reads moduleDir/fsrg_interposer.ini. A missing file is not an
// error: it simply yields the all-false default, matching the "default
// false" and the original's module-handle-relative discovery
// rather than the process working directory.
func Load(moduleDir string) (*Debug, error) {
	d := &Debug{}
	path := filepath.Join(moduleDir, FileName)

	cfg, err := ini.LooseLoad(path)
	if err != nil {
		return d, nil
	}
	sec := cfg.Section("Debug")
	d.EnableDebugOverlay = sec.Key("EnableDebugOverlay").MustBool(false)
	d.EnableDebugTearLines = sec.Key("EnableDebugTearLines").MustBool(false)
	d.EnableInterpolatedFramesOnly = sec.Key("EnableInterpolatedFramesOnly").MustBool(false)
	d.EnableUIMask = sec.Key("EnableUIMask").MustBool(false)
	return d, nil
}
