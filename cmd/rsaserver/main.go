// Command rsaserver runs the group key coordination server over UDP.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/jessevdk/go-flags"
	"github.com/rs/zerolog"
	"github.com/taurusgroup/multi-party-rsa/pkg/fragment"
	"github.com/taurusgroup/multi-party-rsa/pkg/pool"
	"github.com/taurusgroup/multi-party-rsa/pkg/server"
	"github.com/taurusgroup/multi-party-rsa/pkg/transport"
)

func openStore(dir string, log zerolog.Logger) (*fragment.Store, error) {
	if dir == "" {
		return fragment.NewMemStore(fragment.WithLogger(log)), nil
	}
	var backends [fragment.Shards]fragment.Backend
	for i := range backends {
		b, err := fragment.OpenLevelBackend(filepath.Join(dir, "shard"+strconv.Itoa(i)))
		if err != nil {
			for _, opened := range backends[:i] {
				_ = opened.Close()
			}
			return nil, err
		}
		backends[i] = b
	}
	return fragment.NewStore(backends, fragment.WithLogger(log))
}

func realMain() error {
	cfg, err := obtainSettings()
	if err != nil {
		return err
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("unknown log level %q", cfg.LogLevel)
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := openStore(cfg.LevelDB, log)
	if err != nil {
		return err
	}
	defer store.Close()

	tr, err := transport.ListenUDP(cfg.Listen)
	if err != nil {
		return err
	}
	defer tr.Close()

	pl := pool.NewPool(0)
	defer pl.TearDown()

	opts := []server.Option{
		server.WithLogger(log),
		server.WithStore(store),
		server.WithPool(pl),
		server.WithIdleTimeout(cfg.EvictIdle),
		server.WithEvictInterval(cfg.EvictInterval),
	}
	if cfg.ListenPrometheus != "" {
		opts = append(opts, server.WithPrometheus(cfg.ListenPrometheus))
	}
	srv, err := server.New(tr, opts...)
	if err != nil {
		return err
	}

	err = srv.Run(ctx)
	if errors.Is(err, context.Canceled) {
		log.Info().Msg("shutting down")
		return nil
	}
	return err
}

func main() {
	if err := realMain(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
