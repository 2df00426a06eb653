// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config provides loading and validation of reel configuration
// files.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/kortschak/reel/internal/asset"
	"github.com/kortschak/reel/internal/pipeline"
)

// DefaultTick is the host loop period used when none is configured.
const DefaultTick = 10 * time.Millisecond

// Config is the reel configuration.
type Config struct {
	// Buffer is the number of frames each video may prepare
	// ahead of consumption.
	Buffer int `json:"buffer,omitempty" toml:"buffer"`
	// Tick is the host loop period.
	Tick time.Duration `json:"tick,omitempty" toml:"tick"`
	// Assets is the directory videos are loaded from. A relative
	// path is relative to the configuration file.
	Assets string `json:"assets,omitempty" toml:"assets"`
	// CacheSize is the number of loaded sources retained.
	CacheSize int `json:"cache_size,omitempty" toml:"cache_size"`
	// Watch enables reloading of sources when their files change.
	Watch bool `json:"watch,omitempty" toml:"watch"`

	LogLevel  *slog.Level `json:"log_level,omitempty" toml:"log_level"`
	AddSource *bool       `json:"log_add_source,omitempty" toml:"log_add_source"`

	Videos []Video `json:"video,omitempty" toml:"video"`
}

// Video is the configuration for a single video.
type Video struct {
	Name string  `json:"name,omitempty" toml:"name"`
	Path string  `json:"path,omitempty" toml:"path"`
	FPS  float64 `json:"fps,omitempty" toml:"fps"`
	// Preload causes the video's source to be read before
	// playback starts rather than loaded in the background.
	Preload bool `json:"preload,omitempty" toml:"preload"`
}

// Schema is the schema for a valid configuration.
const Schema = `
{
	buffer?:         int & >=1
	tick?:           int & >0
	assets?:         string
	cache_size?:     int & >=1
	watch?:          bool
	log_level?:      _#log_level
	log_add_source?: bool
	video?:          [... _#video]
}

_#video: {
	name:     string & !=""
	path:     string & !=""
	fps:      number & >0 & <=1000
	preload?: bool
}

_#log_level: =~"(?i)^(?:debug|info|warn|error)$"
`

// Error is a configuration validation error.
type Error struct {
	// Paths holds the field paths of invalid values.
	Paths [][]string
	Err   error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Load reads, validates and returns the configuration in the TOML file at
// path. Unset fields are given their default values. If the configuration
// is not valid, the returned error is an *Error.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	md, err := toml.Decode(string(b), &cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%s: unknown fields: %s", path, strings.Join(keys, ", "))
	}
	err = Vet(&cfg)
	if err != nil {
		return nil, err
	}
	cfg.defaults(filepath.Dir(path))
	return &cfg, nil
}

// Vet checks cfg against Schema and for repeated video names.
func Vet(cfg *Config) error {
	paths, err := Validate(Schema, cfg)
	seen := make(map[string]int)
	for i, v := range cfg.Videos {
		if j, ok := seen[v.Name]; ok && v.Name != "" {
			paths = append(paths, []string{"video", fmt.Sprint(i), "name"})
			err = errors.Join(err, fmt.Errorf("video.%d.name: %q repeats video.%d.name", i, v.Name, j))
			continue
		}
		seen[v.Name] = i
	}
	if err != nil {
		return &Error{Paths: unique(paths), Err: err}
	}
	return nil
}

func (cfg *Config) defaults(dir string) {
	if cfg.Buffer == 0 {
		cfg.Buffer = pipeline.DefaultBufferCapacity
	}
	if cfg.Tick == 0 {
		cfg.Tick = DefaultTick
	}
	if cfg.CacheSize == 0 {
		cfg.CacheSize = asset.DefaultCacheSize
	}
	if cfg.Assets == "" {
		cfg.Assets = dir
	} else if !filepath.IsAbs(cfg.Assets) {
		cfg.Assets = filepath.Join(dir, cfg.Assets)
	}
}
