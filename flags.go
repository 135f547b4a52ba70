package unlocker

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

const (
	TargetFPSFlag = "DFIntTaskSchedulerTargetFps"

	UnboundedTargetFPS = 5588562
	DefaultTargetFPS   = -1
)

// FlagStore persists the target fps where the client reads it at startup.
type FlagStore interface {
	TargetFPS() (int, bool, error)
	SetTargetFPS(fps int) error
	Location() string
}

// AppSettingsFile is ClientSettings/ClientAppSettings.json next to the client
// executable.
type AppSettingsFile struct {
	Path string
}

var errNoImagePath = errors.New("flags file location unknown: no image path")

// AppSettingsFor returns a file with an empty Path, which refuses all
// access, when the image path of m is unknown.
func AppSettingsFor(m Module) *AppSettingsFile {
	if m.Path == "" {
		return &AppSettingsFile{}
	}
	return &AppSettingsFile{Path: filepath.Join(filepath.Dir(m.Path), "ClientSettings", "ClientAppSettings.json")}
}

func (f *AppSettingsFile) Location() string {
	return f.Path
}

// load returns an empty object for a missing or unparsable file.
func (f *AppSettingsFile) load() (map[string]any, error) {
	if f.Path == "" {
		return nil, errNoImagePath
	}
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading flags")
	}

	object := map[string]any{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&object); err != nil || object == nil {
		Log.WithField("path", f.Path).Warn("Ignoring malformed flags file")
		return map[string]any{}, nil
	}
	return object, nil
}

func (f *AppSettingsFile) TargetFPS() (int, bool, error) {
	object, err := f.load()
	if err != nil {
		return 0, false, err
	}

	n, ok := object[TargetFPSFlag].(json.Number)
	if !ok {
		return 0, false, nil
	}
	v, err := n.Int64()
	if err != nil {
		return 0, false, nil
	}
	return int(v), true, nil
}

func (f *AppSettingsFile) SetTargetFPS(fps int) error {
	object, err := f.load()
	if err != nil {
		return err
	}
	object[TargetFPSFlag] = fps

	data, err := json.MarshalIndent(object, "", "    ")
	if err != nil {
		return errors.WithStack(err)
	}
	if err := os.MkdirAll(filepath.Dir(f.Path), 0755); err != nil {
		return errors.Wrap(err, "creating flags dir")
	}
	return errors.Wrap(os.WriteFile(f.Path, data, 0644), "writing flags")
}

// UpdateTargetFPS writes fps unless the store already holds it. A
// negative fps restores the default and is skipped when nothing is set.
func UpdateTargetFPS(store FlagStore, fps int) (bool, error) {
	current, ok, err := store.TargetFPS()
	if err != nil {
		return false, err
	}
	if (ok && current == fps) || (!ok && fps < 0) {
		return false, nil
	}
	return true, store.SetTargetFPS(fps)
}

// FlagValue converts a cap to the integer the flag takes.
func FlagValue(fps float64) int {
	if fps <= 0 {
		return UnboundedTargetFPS
	}
	return max(int(fps+0.5), 1)
}
