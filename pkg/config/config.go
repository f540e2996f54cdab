// Package config loads the TOML configuration file: upstreams, channel
// tracking, storage layout, and connection limits.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/nicacher/nicacher/pkg/upstream"
)

const (
	// DefaultChannelURL is the base used to resolve channel store-paths lists.
	DefaultChannelURL = "https://channels.nixos.org/"

	// DefaultLocalDataPath is the data root used when unset.
	DefaultLocalDataPath = "."

	// DefaultDatabaseMaxConnections is the metadata-store connection cap
	// used when unset.
	DefaultDatabaseMaxConnections = 20

	defaultUpstreamURL = "https://cache.nixos.org/"
)

// Config is the fully-resolved configuration, defaults already applied.
type Config struct {
	Upstreams              []upstream.Upstream
	ChannelURL             string
	Channels               []string
	LocalDataPath          string
	DatabaseMaxConnections int
}

// rawConfig mirrors the TOML document shape before upstream decoding.
// Upstreams is left as a toml.Primitive because each element may be
// either a bare string or a {url, priority} table.
type rawConfig struct {
	Upstreams              toml.Primitive `toml:"upstreams"`
	ChannelURL             string         `toml:"channel_url"`
	Channels               []string       `toml:"channels"`
	LocalDataPath          string         `toml:"local_data_path"`
	DatabaseMaxConnections int            `toml:"database_max_connections"`
}

// upstreamTable is the {url, priority} form of an upstream entry.
type upstreamTable struct {
	URL      string `toml:"url"`
	Priority int    `toml:"priority"`
}

// Load reads and validates the TOML file at path, applying defaults for
// any key left unset. An empty path yields the all-defaults Config.
func Load(path string) (Config, error) {
	cfg := Config{
		ChannelURL:             DefaultChannelURL,
		Channels:               []string{"nixpkgs-unstable"},
		LocalDataPath:          DefaultLocalDataPath,
		DatabaseMaxConnections: DefaultDatabaseMaxConnections,
	}

	if path == "" {
		up, err := upstream.New(defaultUpstreamURL, upstream.DefaultPriority)
		if err != nil {
			return Config{}, fmt.Errorf("config: error building default upstream: %w", err)
		}

		cfg.Upstreams = []upstream.Upstream{up}

		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: error reading %q: %w", path, err)
	}

	var raw rawConfig

	meta, err := toml.Decode(string(data), &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config: error decoding %q: %w", path, err)
	}

	hasUpstreams := meta.IsDefined("upstreams")

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("config: unknown key %q in %q", undecoded[0].String(), path)
	}

	if raw.ChannelURL != "" {
		cfg.ChannelURL = raw.ChannelURL
	}

	if raw.Channels != nil {
		cfg.Channels = raw.Channels
	}

	if raw.LocalDataPath != "" {
		cfg.LocalDataPath = raw.LocalDataPath
	}

	if raw.DatabaseMaxConnections != 0 {
		cfg.DatabaseMaxConnections = raw.DatabaseMaxConnections
	}

	if hasUpstreams {
		ups, err := decodeUpstreams(meta, raw.Upstreams)
		if err != nil {
			return Config{}, fmt.Errorf("config: error decoding upstreams in %q: %w", path, err)
		}

		cfg.Upstreams = ups
	} else {
		up, err := upstream.New(defaultUpstreamURL, upstream.DefaultPriority)
		if err != nil {
			return Config{}, fmt.Errorf("config: error building default upstream: %w", err)
		}

		cfg.Upstreams = []upstream.Upstream{up}
	}

	upstream.SortUpstreams(cfg.Upstreams)

	return cfg, nil
}

// decodeUpstreams resolves the string-or-map union: each element of the
// upstreams array decodes first as a bare string, then, on failure, as a
// {url, priority} table.
func decodeUpstreams(meta toml.MetaData, prim toml.Primitive) ([]upstream.Upstream, error) {
	var raw []toml.Primitive

	if err := meta.PrimitiveDecode(prim, &raw); err != nil {
		return nil, fmt.Errorf("upstreams must be an array: %w", err)
	}

	ups := make([]upstream.Upstream, 0, len(raw))

	for i, elem := range raw {
		var asString string
		if err := meta.PrimitiveDecode(elem, &asString); err == nil {
			u, err := upstream.New(asString, upstream.DefaultPriority)
			if err != nil {
				return nil, fmt.Errorf("upstreams[%d]: %w", i, err)
			}

			ups = append(ups, u)

			continue
		}

		var table upstreamTable
		if err := meta.PrimitiveDecode(elem, &table); err != nil {
			return nil, fmt.Errorf("upstreams[%d]: not a string or {url, priority} table: %w", i, err)
		}

		if table.URL == "" {
			return nil, fmt.Errorf("upstreams[%d]: missing url", i)
		}

		u, err := upstream.New(table.URL, table.Priority)
		if err != nil {
			return nil, fmt.Errorf("upstreams[%d]: %w", i, err)
		}

		ups = append(ups, u)
	}

	return ups, nil
}
