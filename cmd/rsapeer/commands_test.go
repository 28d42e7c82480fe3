package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taurusgroup/multi-party-rsa/internal/test"
	"github.com/taurusgroup/multi-party-rsa/pkg/peer"
)

func TestParsePositions(t *testing.T) {
	p, err := parsePositions("3 4 5")
	require.NoError(t, err)
	assert.Equal(t, [3]uint32{3, 4, 5}, p)

	_, err = parsePositions("3 4")
	assert.Error(t, err)
	_, err = parsePositions("3 x 5")
	assert.Error(t, err)
}

func TestExec(t *testing.T) {
	p, err := peer.New("alice", "server", test.NewNetwork().Listen("alice"))
	require.NoError(t, err)
	var out bytes.Buffer
	c := &cli{p: p, out: &out}
	ctx := context.Background()

	require.NoError(t, c.exec(ctx, "derive@qqqqwwww@3 4 5"))
	assert.Contains(t, out.String(), "D1=")

	assert.ErrorIs(t, c.exec(ctx, "nope"), errUsage)
	assert.Error(t, c.exec(ctx, "derive@qqqqwwww"))
	assert.Error(t, c.exec(ctx, "get@g@x"))
	assert.ErrorIs(t, c.exec(ctx, "gen@g"), peer.ErrNoFriend)
	assert.ErrorIs(t, c.exec(ctx, "accept@7"), peer.ErrUnknownDecision)

	out.Reset()
	require.NoError(t, c.exec(ctx, "help"))
	assert.Contains(t, out.String(), "commands:")
}
