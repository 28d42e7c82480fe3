package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/vaughan0/go-ini"
	strduration "github.com/xhit/go-str2duration/v2"
)

type options struct {
	Config string `short:"c" long:"config" description:"ini config file"`
	Listen string `short:"l" long:"listen" description:"UDP listen address, overrides the config file"`
}

type settings struct {
	Listen           string
	ListenPrometheus string
	// LevelDB is the directory holding the three shard databases. Empty keeps
	// the shards in memory.
	LevelDB       string
	EvictIdle     time.Duration
	EvictInterval time.Duration

	// log section
	LogLevel string
}

func obtainSettings() (*settings, error) {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		return nil, err
	}

	s := &settings{
		Listen:        "127.0.0.1:9000",
		EvictIdle:     10 * time.Minute,
		EvictInterval: time.Minute,
		LogLevel:      "info",
	}

	if opts.Config != "" {
		cfg, err := ini.LoadFile(opts.Config)
		if err != nil {
			return nil, fmt.Errorf("config %s: %w", opts.Config, err)
		}
		get := func(p *string, section, field string) {
			if v, ok := cfg.Get(section, field); ok {
				*p = v
			}
		}
		getDuration := func(p *time.Duration, section, field string) error {
			v, ok := cfg.Get(section, field)
			if !ok {
				return nil
			}
			d, err := strduration.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s.%s: %w", section, field, err)
			}
			*p = d
			return nil
		}

		get(&s.Listen, "server", "listen")
		get(&s.ListenPrometheus, "server", "prometheus")
		get(&s.LevelDB, "server", "leveldb")
		get(&s.LogLevel, "log", "level")
		if err := errors.Join(
			getDuration(&s.EvictIdle, "server", "evictidle"),
			getDuration(&s.EvictInterval, "server", "evictinterval"),
		); err != nil {
			return nil, err
		}
	}
	if opts.Listen != "" {
		s.Listen = opts.Listen
	}
	if s.EvictInterval <= 0 {
		fmt.Fprintln(os.Stderr, "evictinterval must be positive, using 1m")
		s.EvictInterval = time.Minute
	}
	return s, nil
}
