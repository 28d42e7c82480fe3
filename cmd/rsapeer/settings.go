package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/vaughan0/go-ini"
	strduration "github.com/xhit/go-str2duration/v2"
)

type options struct {
	Config string `short:"c" long:"config" description:"ini config file"`
	Name   string `short:"n" long:"name" description:"user name"`
	Listen string `short:"l" long:"listen" description:"UDP listen address"`
	Server string `short:"s" long:"server" description:"server address"`
}

type settings struct {
	Name            string
	Listen          string
	Server          string
	DecisionTimeout time.Duration

	// log section
	LogLevel string
}

func obtainSettings() (*settings, error) {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		return nil, err
	}

	s := &settings{
		Listen:          "127.0.0.1:0",
		Server:          "127.0.0.1:9000",
		DecisionTimeout: 2 * time.Minute,
		LogLevel:        "warn",
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
		get(&s.Name, "peer", "name")
		get(&s.Listen, "peer", "listen")
		get(&s.Server, "peer", "server")
		get(&s.LogLevel, "log", "level")
		if v, ok := cfg.Get("peer", "decisiontimeout"); ok {
			d, err := strduration.ParseDuration(v)
			if err != nil {
				return nil, fmt.Errorf("peer.decisiontimeout: %w", err)
			}
			s.DecisionTimeout = d
		}
	}

	if opts.Name != "" {
		s.Name = opts.Name
	}
	if opts.Listen != "" {
		s.Listen = opts.Listen
	}
	if opts.Server != "" {
		s.Server = opts.Server
	}
	if s.Name == "" {
		return nil, errors.New("a user name is required")
	}
	return s, nil
}
