package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid configuration")

// Config структура конфигурации.
type Config struct {
	Logger    LogConf        `toml:"logger"`    // Logger - конфигурация регистратора.
	Network   NetworkConf    `toml:"network"`   // Network - сокет Art-Net.
	Discovery DiscoveryConf  `toml:"discovery"` // Discovery - опрос узлов.
	Output    OutputConf     `toml:"output"`    // Output - отправка ArtDmx.
	Input     InputConf      `toml:"input"`     // Input - приём ArtDmx.
	MQTT      MQTTConf       `toml:"mqtt"`      // MQTT - конфигурация MQTT клиента.
	HTTP      HTTPConf       `toml:"http"`      // HTTP - API и метрики.
	Universes []UniverseConf `toml:"universe"`  // Universes - объявленные вселенные.
}

// LogConf структура конфигурации.
type LogConf struct {
	Level  string `toml:"log-level"` // Level - уровень логирования.
	Format string `toml:"format"`    // Format - text или json.
	Color  bool   `toml:"color"`
}

// NetworkConf describes the Art-Net socket.
type NetworkConf struct {
	// InterfaceCIDR selects the local interface whose address falls in it.
	// Empty picks the first non-loopback IPv4 interface.
	InterfaceCIDR string `toml:"interface-cidr"`
	Bind          string `toml:"bind"`
	Port          int    `toml:"port"`
	Broadcast     string `toml:"broadcast"`
	IgnoreSelf    bool   `toml:"ignore-self"`
}

// DiscoveryConf describes ArtPoll discovery.
type DiscoveryConf struct {
	PollInterval Duration `toml:"poll-interval"`
	MissedPolls  int      `toml:"missed-polls"`
	ShortName    string   `toml:"short-name"`
	LongName     string   `toml:"long-name"`
}

// OutputConf describes ArtDmx output pacing.
type OutputConf struct {
	MinInterval       Duration `toml:"min-interval"`
	Keepalive         Duration `toml:"keepalive"`
	Tick              Duration `toml:"tick"`
	Sequencing        bool     `toml:"sequencing"`
	BroadcastUnmapped bool     `toml:"broadcast-unmapped"`
	QueueSize         int      `toml:"queue-size"`
}

// InputConf describes ArtDmx input handling.
type InputConf struct {
	Backlog       int      `toml:"backlog"`
	StreamTimeout Duration `toml:"stream-timeout"`
}

// MQTTConf структура конфигурации.
type MQTTConf struct {
	Enabled  bool   `toml:"enabled"`
	ClientID string `toml:"clientID"` // ClientID - имя клиента.
	Schema   string `toml:"schema"`   // Schema - тип подключения.
	Host     string `toml:"server"`   // Host - адрес MQTT сервера.
	Port     string `toml:"port"`     // Port - порт MQTT сервера.
	User     string `toml:"user"`     // User - логин для подключения к MQTT серверу.
	Password string `toml:"password"` // Password - пароль для подключения к MQTT серверу.
	Qos      byte   `toml:"qos"`      // Qos - качество обслуживания.
	Prefix   string `toml:"prefix"`   // Prefix - корень топиков.
}

// HTTPConf describes the HTTP API. An empty Listen disables it.
type HTTPConf struct {
	Listen string `toml:"listen"`
}

// UniverseConf declares one universe and its mappings.
type UniverseConf struct {
	ID           int               `toml:"id"`
	Direction    string            `toml:"direction"`
	Destinations []DestinationConf `toml:"destination"`
	Input        *InputSourceConf  `toml:"input"`
}

// DestinationConf is one output target. ID keeps the mapping stable across
// restarts; ShortName/LongName let it follow a node whose IP changed.
type DestinationConf struct {
	ID             string `toml:"id"`
	Address        string `toml:"address"`
	RemoteUniverse int    `toml:"remote-universe"`
	ShortName      string `toml:"short-name"`
	LongName       string `toml:"long-name"`
}

// InputSourceConf restricts an input universe to a sender and port address.
type InputSourceConf struct {
	Source   string `toml:"source"`
	Universe int    `toml:"universe"`
}

// Duration is a time.Duration read from strings like "2.5s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the configuration used for every key the file omits.
func Default() Config {
	return Config{
		Logger: LogConf{Level: "info", Format: "text"},
		Network: NetworkConf{
			Bind:       "0.0.0.0",
			Port:       6454,
			IgnoreSelf: true,
		},
		Discovery: DiscoveryConf{
			PollInterval: Duration{2500 * time.Millisecond},
			MissedPolls:  3,
			ShortName:    "artnetd",
			LongName:     "artnetd Art-Net engine",
		},
		Output: OutputConf{
			MinInterval:       Duration{25 * time.Millisecond},
			Keepalive:         Duration{4 * time.Second},
			Tick:              Duration{5 * time.Millisecond},
			Sequencing:        true,
			BroadcastUnmapped: true,
			QueueSize:         16,
		},
		Input: InputConf{
			Backlog:       4,
			StreamTimeout: Duration{2500 * time.Millisecond},
		},
		MQTT: MQTTConf{
			ClientID: "artnetd",
			Schema:   "tcp",
			Host:     "localhost",
			Port:     "1883",
			Prefix:   "artnet",
		},
	}
}

// NewConfig конструктор.
func NewConfig(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return &cfg, err
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return &cfg, err
	}
	return &cfg, nil
}

// LoadUniverses reads only the universe declarations, for hot reload.
func LoadUniverses(path string) ([]UniverseConf, error) {
	cfg, err := NewConfig(path)
	if err != nil {
		return nil, err
	}
	return cfg.Universes, nil
}

// applyEnv lets the environment override the file.
func (c *Config) applyEnv() {
	c.Logger.Level = getEnv("LOG_LEVEL", c.Logger.Level)
	c.Network.Bind = getEnv("ARTNET_BIND", c.Network.Bind)
	c.Network.Port = getEnvInt("ARTNET_PORT", c.Network.Port)
	c.Network.Broadcast = getEnv("ARTNET_BROADCAST", c.Network.Broadcast)
	c.MQTT.Enabled = getEnvBool("MQTT_ENABLED", c.MQTT.Enabled)
	c.MQTT.Host = getEnv("MQTT_SERVER", c.MQTT.Host)
	c.MQTT.User = getEnv("MQTT_USER", c.MQTT.User)
	c.MQTT.Password = getEnv("MQTT_PASSWORD", c.MQTT.Password)
	c.HTTP.Listen = getEnv("HTTP_LISTEN", c.HTTP.Listen)
}

// Validate checks ranges that would otherwise surface at runtime. Every
// error it returns wraps ErrInvalid.
func (c *Config) Validate() error {
	if c.Network.Port <= 0 || c.Network.Port > 65535 {
		return fmt.Errorf("%w: network port %d", ErrInvalid, c.Network.Port)
	}
	if c.Discovery.PollInterval.Duration <= 0 {
		return fmt.Errorf("%w: discovery poll-interval must be positive", ErrInvalid)
	}
	if c.Discovery.MissedPolls < 1 {
		return fmt.Errorf("%w: discovery missed-polls must be at least 1", ErrInvalid)
	}
	if c.Output.MinInterval.Duration <= 0 || c.Output.Tick.Duration <= 0 {
		return fmt.Errorf("%w: output min-interval and tick must be positive", ErrInvalid)
	}
	if c.Output.Keepalive.Duration < c.Output.MinInterval.Duration {
		return fmt.Errorf("%w: output keepalive %v is shorter than min-interval %v",
			ErrInvalid, c.Output.Keepalive, c.Output.MinInterval)
	}
	if c.Output.QueueSize < 1 {
		return fmt.Errorf("%w: output queue-size must be at least 1", ErrInvalid)
	}
	if c.Input.Backlog < 0 {
		return fmt.Errorf("%w: input backlog must not be negative", ErrInvalid)
	}

	seen := make(map[int]bool, len(c.Universes))
	for _, u := range c.Universes {
		if u.ID < 0 || u.ID > 0x7fff {
			return fmt.Errorf("%w: universe id %d out of range 0..32767", ErrInvalid, u.ID)
		}
		if seen[u.ID] {
			return fmt.Errorf("%w: universe %d declared twice", ErrInvalid, u.ID)
		}
		seen[u.ID] = true
		for _, d := range u.Destinations {
			if d.Address == "" {
				return fmt.Errorf("%w: universe %d has a destination without address", ErrInvalid, u.ID)
			}
			if d.RemoteUniverse < 0 || d.RemoteUniverse > 0x7fff {
				return fmt.Errorf("%w: universe %d remote-universe %d out of range", ErrInvalid, u.ID, d.RemoteUniverse)
			}
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
