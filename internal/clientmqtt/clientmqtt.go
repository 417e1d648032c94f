package clientmqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"artnetd/internal/artnet"
	"artnetd/internal/artnet/registry"
	"artnetd/internal/artnet/universe"
	"artnetd/internal/events"
	"artnetd/internal/logger"
)

// Engine is the part of the Art-Net engine the bridge drives.
type Engine interface {
	SetChannels(values []artnet.ChannelValue) error
	Nodes() []registry.Node
	Events() *events.Bus
}

// publisher is the publishing half of mqtt.Client.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// ClientMQTT структура клиента MQTT.
type ClientMQTT struct {
	ctx       context.Context
	log       *logger.Log
	cfgClient MQTTConf
	engine    Engine
	client    mqtt.Client
	pub       publisher
	opts      *mqtt.ClientOptions
	unsub     []func()
}

// NewClient конструктор.
func NewClient(log logger.Logger, cfgClient MQTTConf, engine Engine) *ClientMQTT {
	if cfgClient.Prefix == "" {
		cfgClient.Prefix = "artnet"
	}
	return &ClientMQTT{
		ctx:       context.Background(),
		log:       log.With(logger.Fields{"module": "mqtt"}),
		cfgClient: cfgClient,
		engine:    engine,
	}
}

// Start connects to the broker, subscribes to output topics and starts
// forwarding engine events.
func (c *ClientMQTT) Start(ctx context.Context) error {
	if c.log.GetLevel() == "debug" {
		mqtt.ERROR = log.New(os.Stdout, "[ERROR] ", 0)
		mqtt.CRITICAL = log.New(os.Stdout, "[CRIT] ", 0)
		mqtt.WARN = log.New(os.Stdout, "[WARN]  ", 0)
	}

	c.ctx = ctx

	c.opts = mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%s", c.cfgClient.Schema, c.cfgClient.Host, c.cfgClient.Port)).
		SetUsername(c.cfgClient.User).
		SetPassword(c.cfgClient.Password).
		SetDefaultPublishHandler(c.messageHandler).
		SetOnConnectHandler(c.connectHandler).
		SetConnectionLostHandler(c.connectLostHandler).
		SetClientID(c.cfgClient.ClientID).
		SetOrderMatters(false).
		SetCleanSession(false).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(5 * time.Second).
		SetKeepAlive(30 * time.Second)

	c.client = mqtt.NewClient(c.opts)
	c.pub = c.client

	token := c.client.Connect()
	select {
	case <-token.Done():
		if token.Error() != nil {
			return token.Error()
		}
	case <-c.ctx.Done():
		return errors.New("context canceled")
	}

	c.subscribeEvents()
	c.log.Infof("Status: %v", c.client.IsConnected())
	return nil
}

func (c *ClientMQTT) Stop() error {
	for _, unsub := range c.unsub {
		unsub()
	}
	c.unsub = nil
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(500)
	}
	return nil
}

// subscribeEvents republishes engine events on MQTT.
func (c *ClientMQTT) subscribeEvents() {
	bus := c.engine.Events()
	c.unsub = append(c.unsub,
		events.Subscribe(bus, func(events.NodeDiscovered) { c.PubNodes() }),
		events.Subscribe(bus, func(events.NodeUpdated) { c.PubNodes() }),
		events.Subscribe(bus, func(events.NodeLost) { c.PubNodes() }),
		events.Subscribe(bus, func(ev events.InputUpdated) { c.PubInput(ev) }),
	)
}

// connectHandler (re)subscribes on every connect; the session may be new.
func (c *ClientMQTT) connectHandler(_ mqtt.Client) {
	c.log.Info("client connected to server")
	c.sub(c.setTopicFilter())
	c.PubNodes()
}

func (c *ClientMQTT) connectLostHandler(_ mqtt.Client, err error) {
	c.log.Errorf("server connect lost: %v", err)
}

func (c *ClientMQTT) messageHandler(_ mqtt.Client, msg mqtt.Message) {
	c.log.Debugf("received message: %s from topic: %s", msg.Payload(), msg.Topic())
	if err := c.handleMessage(msg); err != nil {
		c.log.Errorf("message on %s rejected: %v", msg.Topic(), err)
	}
}

// handleMessage writes the channels of a set message into the engine.
func (c *ClientMQTT) handleMessage(msg mqtt.Message) error {
	id, err := c.parseSetTopic(msg.Topic())
	if err != nil {
		return err
	}

	var data Payload
	if err := json.Unmarshal(msg.Payload(), &data); err != nil {
		return fmt.Errorf("message could not be parsed (%s): %w", msg.Payload(), err)
	}
	c.log.Debugf("message payload parsed. Result: %v", data)

	values := make([]artnet.ChannelValue, len(data))
	for i, v := range data {
		values[i] = artnet.ChannelValue{Universe: id, Channel: int(v.Channel), Value: v.Value}
	}
	return c.engine.SetChannels(values)
}

func (c *ClientMQTT) setTopicFilter() string {
	return c.cfgClient.Prefix + "/out/+/set"
}

// parseSetTopic extracts the universe from <prefix>/out/<universe>/set.
func (c *ClientMQTT) parseSetTopic(topic string) (universe.ID, error) {
	rest := strings.TrimPrefix(topic, c.cfgClient.Prefix+"/out/")
	if rest == topic || !strings.HasSuffix(rest, "/set") {
		return 0, fmt.Errorf("unexpected topic %q", topic)
	}
	id, err := strconv.ParseUint(strings.TrimSuffix(rest, "/set"), 10, 16)
	if err != nil || universe.ID(id) > universe.MaxID {
		return 0, fmt.Errorf("topic %q: bad universe", topic)
	}
	return universe.ID(id), nil
}

func (c *ClientMQTT) sub(topic string) {
	token := c.client.Subscribe(topic, c.cfgClient.Qos, nil)
	go func() {
		select {
		case <-c.ctx.Done():
			return
		case <-token.Done():
			if token.Error() != nil {
				c.log.Errorf("topic %s subscription error. %v", topic, token.Error())
				return
			}
		}
		c.log.Debugf("topic %s subscribed", topic)
	}()
}

// PubNodes publishes the retained node list.
func (c *ClientMQTT) PubNodes() {
	nodes := c.engine.Nodes()
	list := make([]NodeMessage, 0, len(nodes))
	for _, n := range nodes {
		m := NodeMessage{
			Address:   n.Addr.String(),
			ShortName: n.ShortName,
			LongName:  n.LongName,
			Inputs:    []string{},
			Outputs:   []string{},
			LastSeen:  n.LastSeen.Format(time.RFC3339),
		}
		for _, p := range n.Ports {
			if p.Direction == registry.PortInput {
				m.Inputs = append(m.Inputs, p.Address.String())
			} else {
				m.Outputs = append(m.Outputs, p.Address.String())
			}
		}
		list = append(list, m)
	}
	c.publish(c.cfgClient.Prefix+"/nodes", true, list)
}

// PubInput publishes the buffer of an input universe.
func (c *ClientMQTT) PubInput(ev events.InputUpdated) {
	data := make([]int, len(ev.Data))
	for i, v := range ev.Data {
		data[i] = int(v)
	}
	topic := fmt.Sprintf("%s/in/%d", c.cfgClient.Prefix, ev.Universe)
	c.publish(topic, false, InputMessage{Universe: ev.Universe, Data: data, At: ev.At.Format(time.RFC3339Nano)})
}

func (c *ClientMQTT) publish(topic string, retained bool, v interface{}) {
	if c.pub == nil {
		return
	}
	msg, err := json.Marshal(v)
	if err != nil {
		c.log.Errorf("public topic %s. msg: %v", topic, err)
		return
	}
	token := c.pub.Publish(topic, c.cfgClient.Qos, retained, msg)
	go func() {
		select {
		case <-c.ctx.Done():
			return
		case <-token.Done():
			if token.Error() != nil {
				c.log.Errorf("error publish topic %s. %v", topic, token.Error())
			}
		}
	}()
}
