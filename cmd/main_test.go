package main

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"artnetd/internal/artnet/universe"
	"artnetd/internal/config"
	"artnetd/internal/logger"
)

func TestConvertConfigEngine(t *testing.T) {
	cfg := config.Default()
	cfg.Network.Broadcast = "10.0.0.255"
	cfg.Output.MinInterval = config.Duration{Duration: 40 * time.Millisecond}

	out, err := ConvertConfigEngine(&cfg)
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("0.0.0.0"), out.Bind)
	assert.Equal(t, netip.MustParseAddr("10.0.0.255"), out.Broadcast)
	assert.Equal(t, 40*time.Millisecond, out.MinInterval)
	assert.Equal(t, 6454, out.Port)
	assert.True(t, out.Sequencing)

	cfg.Network.Bind = "not-an-ip"
	_, err = ConvertConfigEngine(&cfg)
	assert.Error(t, err)
}

func TestConvertMappings(t *testing.T) {
	mappings, err := ConvertMappings([]config.UniverseConf{
		{
			ID:        0,
			Direction: "output",
			Destinations: []config.DestinationConf{
				{ID: "a", Address: "10.0.0.5", RemoteUniverse: 3},
				{Address: "10.0.0.6:6455"},
			},
		},
		{
			ID:        1,
			Direction: "input",
			Input:     &config.InputSourceConf{Source: "10.0.0.9", Universe: 17},
		},
	})
	require.NoError(t, err)
	require.Len(t, mappings, 2)

	out := mappings[0]
	assert.Equal(t, universe.Output, out.Direction)
	require.Len(t, out.Destinations, 2)
	assert.Equal(t, netip.MustParseAddrPort("10.0.0.5:6454"), out.Destinations[0].Addr)
	assert.EqualValues(t, 3, out.Destinations[0].Remote)
	assert.Equal(t, netip.MustParseAddrPort("10.0.0.6:6455"), out.Destinations[1].Addr)
	assert.Nil(t, out.Input)

	in := mappings[1]
	require.NotNil(t, in.Input)
	assert.Equal(t, netip.MustParseAddr("10.0.0.9"), in.Input.Source)
	assert.EqualValues(t, 17, in.Input.Address)
}

func TestConvertMappingsRejects(t *testing.T) {
	tests := []config.UniverseConf{
		{ID: 0, Direction: "sideways"},
		{ID: 0, Direction: "output", Destinations: []config.DestinationConf{{Address: "nowhere"}}},
		{ID: 0, Direction: "input", Input: &config.InputSourceConf{Source: "bad"}},
	}
	for _, u := range tests {
		_, err := ConvertMappings([]config.UniverseConf{u})
		assert.Error(t, err)
	}
}

func TestConvertConfigClientMQTT(t *testing.T) {
	out := ConvertConfigClientMQTT(config.MQTTConf{Host: "broker", Port: "1883", Qos: 1, Prefix: "stage"})
	assert.Equal(t, "tcp", out.Schema)
	assert.Equal(t, byte(1), out.Qos)
	assert.Equal(t, "stage", out.Prefix)
}

func TestNewEngineListenOnlySkipsUniverses(t *testing.T) {
	cfg := config.Default()
	cfg.Universes = []config.UniverseConf{
		{ID: 0, Direction: "output", Destinations: []config.DestinationConf{{Address: "10.0.0.5"}}},
	}

	engine, err := newEngine(&cfg, logger.NewNop(), false)
	require.NoError(t, err)
	assert.Len(t, engine.Universes(), 1)

	engine, err = newEngine(&cfg, logger.NewNop(), true)
	require.NoError(t, err)
	assert.Empty(t, engine.Universes())
}
