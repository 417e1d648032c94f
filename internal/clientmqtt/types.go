package clientmqtt

type MQTTConf struct {
	ClientID string // ClientID - уникальное имя клиента для брокеров.
	Schema   string // Schema - тип подключения.
	Host     string // Host - адрес MQTT сервера.
	Port     string // Port - порт MQTT сервера.
	User     string // User - логин для подключения к MQTT серверу.
	Password string // Password - пароль для подключения к MQTT серверу.
	Qos      byte   // Qos - качество обслуживания.
	Prefix   string // Prefix - корень топиков.
}

type DMXCommand struct {
	Channel uint16 `json:"channel"` // Channel is the channel a command can talk to (0-511).
	Value   uint8  `json:"value"`   // Value is the value a DMX channel can represent (0-255).
}

// Payload is the body of a <prefix>/out/<universe>/set message.
type Payload []DMXCommand

// InputMessage is published on <prefix>/in/<universe> when input changes.
type InputMessage struct {
	Universe uint16 `json:"universe"`
	Data     []int  `json:"data"`
	At       string `json:"at"`
}

// NodeMessage describes one node in the retained <prefix>/nodes message.
type NodeMessage struct {
	Address   string   `json:"address"`
	ShortName string   `json:"shortName"`
	LongName  string   `json:"longName"`
	Inputs    []string `json:"inputs"`
	Outputs   []string `json:"outputs"`
	LastSeen  string   `json:"lastSeen"`
}
