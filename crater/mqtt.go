package crater

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// RunRequest asks the service to cluster a markings file. It arrives as JSON
// on <prefix>/request.
type RunRequest struct {
	Markings string `json:"markings"`
	Truth    string `json:"truth,omitempty"`
}

// RequestHandler is called for every decoded run request
type RequestHandler func(req RunRequest)

// MQTTClient manages the broker connection, run request subscription and
// the client used for publishing results.
type MQTTClient struct {
	client         mqtt.Client
	prefix         string
	requestHandler RequestHandler
	isConnected    bool
	mu             sync.RWMutex
}

// InitMQTT creates the MQTT client and starts connecting in the background.
// The broker comes from MQTT_BROKER or the config; when neither is set MQTT
// is disabled and this returns nil.
func InitMQTT(config *Config, handler RequestHandler) (*MQTTClient, error) {
	broker := os.Getenv("MQTT_BROKER")
	if broker == "" && config != nil {
		broker = config.MQTT.Broker
	}
	if broker == "" {
		log.Println("MQTT disabled: MQTT_BROKER not set")
		return nil, nil
	}
	if config == nil {
		return nil, fmt.Errorf("MQTT enabled but no configuration provided")
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)

	clientID := os.Getenv("MQTT_CLIENT_ID")
	if clientID == "" {
		clientID = config.MQTT.ClientID
	}
	if clientID == "" {
		clientID = "cratermerge"
	}
	opts.SetClientID(clientID)

	username := os.Getenv("MQTT_USERNAME")
	if username == "" {
		username = config.MQTT.Username
	}
	if username != "" {
		opts.SetUsername(username)
		password := os.Getenv("MQTT_PASSWORD")
		if password == "" {
			password = config.MQTT.Password
		}
		opts.SetPassword(password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false)
	opts.SetOrderMatters(true) // requests are handled one at a time

	c := &MQTTClient{
		prefix:         publishPrefix(config.MQTT.PublishPrefix),
		requestHandler: handler,
	}
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		log.Println("MQTT reconnecting...")
	})
	c.client = mqtt.NewClient(opts)

	go c.connectWithRetry()
	return c, nil
}

// publishPrefix resolves the topic prefix: MQTT_PUBLISH_PREFIX, then the
// configured value, then "cratermerge".
func publishPrefix(configured string) string {
	if p := os.Getenv("MQTT_PUBLISH_PREFIX"); p != "" {
		return strings.TrimSuffix(p, "/")
	}
	if configured != "" {
		return strings.TrimSuffix(configured, "/")
	}
	return "cratermerge"
}

// connectWithRetry connects with exponential backoff until it succeeds
func (c *MQTTClient) connectWithRetry() {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		log.Println("Connecting to MQTT broker...")
		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				log.Println("Successfully connected to MQTT broker")
				c.setConnected(true)
				return
			}
			log.Printf("MQTT connection failed: %v", token.Error())
		} else {
			log.Println("MQTT connection timeout")
		}

		log.Printf("Retrying MQTT connection in %v...", retryDelay)
		time.Sleep(retryDelay)
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

// RequestTopic is the topic run requests are read from
func (c *MQTTClient) RequestTopic() string {
	return c.prefix + "/request"
}

func (c *MQTTClient) onConnect(client mqtt.Client) {
	c.setConnected(true)
	if c.requestHandler == nil {
		return
	}
	topic := c.RequestTopic()
	log.Printf("MQTT connected, subscribing to %s", topic)
	token := client.Subscribe(topic, 1, c.handleRequest)
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		log.Printf("Error subscribing to %s: %v", topic, token.Error())
	}
}

func (c *MQTTClient) onConnectionLost(_ mqtt.Client, err error) {
	log.Printf("MQTT connection interrupted (%v), auto-reconnect will retry", err)
	c.setConnected(false)
}

// handleRequest decodes a run request. A bare string payload is taken as the
// markings path.
func (c *MQTTClient) handleRequest(_ mqtt.Client, msg mqtt.Message) {
	payload := msg.Payload()
	log.Printf("Received run request (topic: %s, size: %d bytes)", msg.Topic(), len(payload))

	var req RunRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		var path string
		if err2 := json.Unmarshal(payload, &path); err2 == nil {
			req.Markings = path
		} else {
			req.Markings = strings.TrimSpace(string(payload))
		}
	}
	if req.Markings == "" {
		log.Printf("Run request on %s has no markings path, skipping", msg.Topic())
		return
	}
	if c.requestHandler != nil {
		c.requestHandler(req)
	}
}

// IsConnected reports whether the broker connection is up
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Disconnect closes the connection with a short quiesce period
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		log.Println("Disconnecting from MQTT broker...")
		c.client.Disconnect(250)
		c.setConnected(false)
	}
}

// Client returns the underlying client for publishing
func (c *MQTTClient) Client() mqtt.Client {
	return c.client
}

// Prefix returns the resolved topic prefix
func (c *MQTTClient) Prefix() string {
	return c.prefix
}

// newMQTTClientWithMock wraps an existing client, for tests
func newMQTTClientWithMock(client mqtt.Client, prefix string, handler RequestHandler) *MQTTClient {
	return &MQTTClient{
		client:         client,
		prefix:         publishPrefix(prefix),
		requestHandler: handler,
	}
}
