// Command rsapeer is an interactive group member. It reads commands from
// stdin; type help for the list.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"
	"github.com/rs/zerolog"
	"github.com/taurusgroup/multi-party-rsa/pkg/peer"
	"github.com/taurusgroup/multi-party-rsa/pkg/transport"
	"golang.org/x/sync/errgroup"
)

// readCommands runs one command per stdin line until EOF or ctx is done.
func (c *cli) readCommands(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		scanErr <- scanner.Err()
		close(lines)
	}()
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				if err := <-scanErr; err != nil {
					return err
				}
				return io.EOF
			}
			if err := c.exec(ctx, line); err != nil {
				fmt.Fprintln(c.out, "error:", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// printEvents shows server notices and inbound exchange requests.
func (c *cli) printEvents(ctx context.Context) error {
	for {
		select {
		case text := <-c.p.Messages():
			fmt.Fprintln(c.out, text)
		case d := <-c.p.Decisions():
			printDecision(c.out, d)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
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

	tr, err := transport.ListenUDP(cfg.Listen)
	if err != nil {
		return err
	}
	defer tr.Close()

	p, err := peer.New(cfg.Name, cfg.Server, tr,
		peer.WithLogger(log),
		peer.WithDecisionTimeout(cfg.DecisionTimeout),
	)
	if err != nil {
		return err
	}
	c := &cli{p: p, out: os.Stdout}
	fmt.Fprintf(c.out, "%s listening on %s, server %s\n", cfg.Name, tr.LocalAddr(), cfg.Server)
	p.Announce(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.Run(gctx) })
	g.Go(func() error { return c.printEvents(gctx) })
	g.Go(func() error { return c.readCommands(gctx, os.Stdin) })

	err = g.Wait()
	if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
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
