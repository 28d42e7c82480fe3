package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/taurusgroup/multi-party-rsa/pkg/party"
	"github.com/taurusgroup/multi-party-rsa/pkg/peer"
)

const usage = `commands:
  derive@key@p1 p2 p3      derive the secret pair from an 8 symbol root key
  rootkey@value            recover the root key from a derived value
  join@group               join a group
  list@group               list the members of a group
  gen@group                start the group key generation
  recover@group@key@p1 p2 p3
                           start the group key recovery
  get@group@n|d            fetch the public modulus or your private half
  auth@group@message       authorize signing message with the group key
  accept@id[@key@p1 p2 p3] accept an exchange; recoveries need the root key
  deny@id                  refuse an exchange
  pending                  list pending exchanges
  query                    show the ledger
  delete                   drop one storage backend`

var errUsage = errors.New("unknown command, type help")

type cli struct {
	p   *peer.Peer
	out io.Writer
}

func parsePositions(s string) ([3]uint32, error) {
	var positions [3]uint32
	f := strings.Fields(s)
	if len(f) != len(positions) {
		return positions, fmt.Errorf("want 3 rotor positions, got %q", s)
	}
	for i, v := range f {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return positions, fmt.Errorf("rotor position %q: %w", v, err)
		}
		positions[i] = uint32(n)
	}
	return positions, nil
}

// arity is the minimum number of arguments of each command.
var arity = map[string]int{
	"derive": 2, "rootkey": 1, "join": 1, "list": 1, "gen": 1,
	"recover": 3, "get": 2, "auth": 2, "accept": 1, "deny": 1,
}

func (c *cli) exec(ctx context.Context, line string) error {
	f := strings.Split(strings.TrimSpace(line), "@")
	verb, f := strings.ToLower(f[0]), f[1:]
	if len(f) < arity[verb] {
		return fmt.Errorf("%s needs %d arguments", verb, arity[verb])
	}

	switch verb {
	case "", "help":
		fmt.Fprintln(c.out, usage)
	case "derive":
		positions, err := parsePositions(f[1])
		if err != nil {
			return err
		}
		secret, err := c.p.Derive(f[0], positions)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "D1=%d D2=%d\n", secret.D1, secret.D2)
	case "rootkey":
		v, err := strconv.ParseInt(f[0], 10, 64)
		if err != nil {
			return err
		}
		key, err := c.p.RecoverKey(v)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.out, key)
	case "join":
		c.p.Join(ctx, party.GroupID(f[0]))
	case "list":
		c.p.List(ctx, party.GroupID(f[0]))
	case "gen":
		return c.p.Generate(ctx, party.GroupID(f[0]))
	case "recover":
		positions, err := parsePositions(f[2])
		if err != nil {
			return err
		}
		return c.p.Recover(ctx, party.GroupID(f[0]), f[1], positions)
	case "get":
		switch f[1] {
		case "n":
			return c.p.Get(ctx, party.GroupID(f[0]), false)
		case "d":
			return c.p.Get(ctx, party.GroupID(f[0]), true)
		}
		return fmt.Errorf("get: want n or d, got %q", f[1])
	case "auth":
		return c.p.Auth(ctx, party.GroupID(f[0]), strings.Join(f[1:], "@"))
	case "accept", "deny":
		id, err := strconv.ParseUint(f[0], 10, 64)
		if err != nil {
			return err
		}
		if verb == "deny" {
			return c.p.Resolve(ctx, id, false, nil)
		}
		var reentry *peer.Reentry
		if len(f) >= 3 {
			positions, err := parsePositions(f[2])
			if err != nil {
				return err
			}
			reentry = &peer.Reentry{Key: f[1], Positions: positions}
		}
		return c.p.Resolve(ctx, id, true, reentry)
	case "pending":
		for _, d := range c.p.Pending() {
			printDecision(c.out, d)
		}
	case "query":
		c.p.Query(ctx)
	case "delete":
		c.p.Delete(ctx)
	default:
		return errUsage
	}
	return nil
}

func printDecision(w io.Writer, d peer.PendingDecision) {
	fmt.Fprintf(w, "[%d] %s exchange for group %s from %s, answer with accept@%d or deny@%d before %s\n",
		d.ID, d.Pipeline, d.Group, d.From, d.ID, d.ID, d.Expires.Format("15:04:05"))
}
