package main

import (
	"fmt"
	"net/netip"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"artnetd/internal/artnet"
	"artnetd/internal/artnet/packet"
	"artnetd/internal/artnet/universe"
	"artnetd/internal/clientmqtt"
	"artnetd/internal/config"
	"artnetd/internal/logger"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "artnetd",
	Short: "Art-Net node discovery, DMX output and input engine",
	Long: `artnetd discovers Art-Net nodes with ArtPoll, streams DMX universes to them
and merges inbound ArtDmx into input universes. Universes can be driven over
MQTT and inspected over HTTP.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "configs/conf.toml", "Path to configuration file")
	rootCmd.AddCommand(runCmd, nodesCmd)
}

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Printf("failed to read .env: %v\n", err)
	}
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup reads the configuration and builds the logger and engine.
func setup(listenOnly bool) (*config.Config, *logger.Log, *artnet.Engine, error) {
	cfg, err := config.NewConfig(configFile)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("configuration file read error: %w", err)
	}

	log, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create a logger: %w", err)
	}
	log.With(logger.Fields{"module": "logger"}).Debug("newLogger created ok")

	engine, err := newEngine(cfg, log, listenOnly)
	if err != nil {
		return nil, nil, nil, err
	}
	log.With(logger.Fields{"module": "art-net"}).Debug("NewEngine created ok")

	return cfg, log, engine, nil
}

// newEngine builds the engine and applies the configured universes.
// A listen only engine skips them and never sends DMX.
func newEngine(cfg *config.Config, log *logger.Log, listenOnly bool) (*artnet.Engine, error) {
	engineCfg, err := ConvertConfigEngine(cfg)
	if err != nil {
		return nil, err
	}
	engineCfg.ListenOnly = listenOnly
	engine := artnet.NewEngine(engineCfg, log)
	if listenOnly {
		return engine, nil
	}

	mappings, err := ConvertMappings(cfg.Universes)
	if err != nil {
		return nil, err
	}
	if err := engine.ApplyMappings(mappings); err != nil {
		return nil, err
	}
	return engine, nil
}

// ConvertConfigClientMQTT преобразует структуры.
func ConvertConfigClientMQTT(cfg config.MQTTConf) clientmqtt.MQTTConf {
	schema := cfg.Schema
	if schema == "" {
		schema = "tcp"
	}
	return clientmqtt.MQTTConf{
		ClientID: cfg.ClientID,
		Schema:   schema,
		Host:     cfg.Host,
		Port:     cfg.Port,
		User:     cfg.User,
		Password: cfg.Password,
		Qos:      cfg.Qos,
		Prefix:   cfg.Prefix,
	}
}

// ConvertConfigEngine преобразует структуры.
func ConvertConfigEngine(cfg *config.Config) (artnet.Config, error) {
	out := artnet.Config{
		InterfaceCIDR:     cfg.Network.InterfaceCIDR,
		Port:              cfg.Network.Port,
		IgnoreSelf:        cfg.Network.IgnoreSelf,
		PollInterval:      cfg.Discovery.PollInterval.Duration,
		MissedPolls:       cfg.Discovery.MissedPolls,
		ShortName:         cfg.Discovery.ShortName,
		LongName:          cfg.Discovery.LongName,
		MinInterval:       cfg.Output.MinInterval.Duration,
		Keepalive:         cfg.Output.Keepalive.Duration,
		Tick:              cfg.Output.Tick.Duration,
		Sequencing:        cfg.Output.Sequencing,
		BroadcastUnmapped: cfg.Output.BroadcastUnmapped,
		QueueSize:         cfg.Output.QueueSize,
		Backlog:           cfg.Input.Backlog,
		StreamTimeout:     cfg.Input.StreamTimeout.Duration,
	}

	var err error
	if cfg.Network.Bind != "" {
		if out.Bind, err = netip.ParseAddr(cfg.Network.Bind); err != nil {
			return out, fmt.Errorf("network bind: %w", err)
		}
	}
	if cfg.Network.Broadcast != "" {
		if out.Broadcast, err = netip.ParseAddr(cfg.Network.Broadcast); err != nil {
			return out, fmt.Errorf("network broadcast: %w", err)
		}
	}
	return out, nil
}

// ConvertMappings turns the declared universes into engine mappings.
func ConvertMappings(universes []config.UniverseConf) ([]artnet.Mapping, error) {
	out := make([]artnet.Mapping, 0, len(universes))
	for _, u := range universes {
		dir, err := universe.ParseDirection(u.Direction)
		if err != nil {
			return nil, fmt.Errorf("universe %d: %w", u.ID, err)
		}
		m := artnet.Mapping{
			Universe:  universe.ID(u.ID),
			Direction: dir,
		}

		for _, d := range u.Destinations {
			addr, err := parseDestination(d.Address)
			if err != nil {
				return nil, fmt.Errorf("universe %d: %w", u.ID, err)
			}
			m.Destinations = append(m.Destinations, universe.Destination{
				ID:        d.ID,
				Addr:      addr,
				Remote:    packet.PortAddress(d.RemoteUniverse),
				ShortName: d.ShortName,
				LongName:  d.LongName,
			})
		}

		if u.Input != nil {
			f := universe.InputFilter{Address: packet.PortAddress(u.Input.Universe)}
			if u.Input.Source != "" {
				if f.Source, err = netip.ParseAddr(u.Input.Source); err != nil {
					return nil, fmt.Errorf("universe %d input source: %w", u.ID, err)
				}
			}
			m.Input = &f
		}
		out = append(out, m)
	}
	return out, nil
}

// parseDestination accepts "ip:port" or a bare IP on the Art-Net port.
func parseDestination(s string) (netip.AddrPort, error) {
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return ap, nil
	}
	ip, err := netip.ParseAddr(s)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("invalid destination address %q", s)
	}
	return netip.AddrPortFrom(ip, packet.DefaultPort), nil
}
