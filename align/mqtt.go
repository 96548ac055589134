package align

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ScanHandler is called for every scan message. scan is nil when the
// payload could not be decoded.
type ScanHandler func(pairingID string, scan *Scan, err error)

// MQTTClient manages the broker connection and scan topic subscriptions
type MQTTClient struct {
	client      mqtt.Client
	config      *Config
	scanHandler ScanHandler
	isConnected bool
	mu          sync.RWMutex
}

// InitMQTT connects to the broker and subscribes to every pairing's scan topic.
// If no broker is configured (MQTT_BROKER env var or mqtt.broker) MQTT is
// disabled and this returns nil, nil.
func InitMQTT(config *Config, handler ScanHandler) (*MQTTClient, error) {
	client, err := NewMQTTClient(config, handler)
	if err != nil || client == nil {
		return client, err
	}
	client.Start()
	return client, nil
}

// NewMQTTClient configures a client without connecting it, so publishers can
// be built on GetClient before Start delivers the first (possibly retained)
// scan. It returns nil, nil when MQTT is disabled.
func NewMQTTClient(config *Config, handler ScanHandler) (*MQTTClient, error) {
	broker := os.Getenv("MQTT_BROKER")
	if broker == "" && config != nil && config.MQTT.Broker != "" {
		broker = config.MQTT.Broker
	}

	if broker == "" {
		log.Println("[MQTT] disabled: MQTT_BROKER not set")
		return nil, nil
	}

	if config == nil || len(config.Pairings) == 0 {
		return nil, fmt.Errorf("MQTT enabled but no pairings configured")
	}

	client := &MQTTClient{
		config:      config,
		scanHandler: handler,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)

	clientID := os.Getenv("MQTT_CLIENT_ID")
	if clientID == "" && config.MQTT.ClientID != "" {
		clientID = config.MQTT.ClientID
	}
	if clientID == "" {
		clientID = "meshalign"
	}
	opts.SetClientID(clientID)

	username := os.Getenv("MQTT_USERNAME")
	if username == "" && config.MQTT.Username != "" {
		username = config.MQTT.Username
	}
	if username != "" {
		opts.SetUsername(username)
		password := os.Getenv("MQTT_PASSWORD")
		if password == "" && config.MQTT.Password != "" {
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
	opts.SetCleanSession(false) // keep subscriptions across reconnects
	// Scans are large; decode them concurrently rather than blocking the router
	opts.SetOrderMatters(false)

	opts.SetOnConnectHandler(client.onConnect)
	opts.SetConnectionLostHandler(client.onConnectionLost)
	opts.SetReconnectingHandler(client.onReconnecting)

	client.client = mqtt.NewClient(opts)
	return client, nil
}

// Start connects in the background; scan topics are subscribed on connect
func (c *MQTTClient) Start() {
	go c.connectWithRetry()
}

// connectWithRetry attempts to connect with exponential backoff
func (c *MQTTClient) connectWithRetry() {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		log.Println("[MQTT] connecting to broker...")

		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				log.Println("[MQTT] connected")
				c.setConnected(true)
				return
			}
			log.Printf("[MQTT] connection failed: %v", token.Error())
		} else {
			log.Println("[MQTT] connection timeout")
		}

		log.Printf("[MQTT] retrying in %v...", retryDelay)
		time.Sleep(retryDelay)
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

// onConnect subscribes to the scan topics
func (c *MQTTClient) onConnect(client mqtt.Client) {
	log.Println("[MQTT] connected, subscribing to scan topics...")
	c.setConnected(true)
	c.subscribeAll(client)
}

func (c *MQTTClient) subscribeAll(client mqtt.Client) {
	for _, pairing := range c.config.Pairings {
		if pairing.ScanTopic == "" {
			continue
		}

		log.Printf("[MQTT] subscribing to %s for pairing %s", pairing.ScanTopic, pairing.ID)
		token := client.Subscribe(pairing.ScanTopic, 1, c.createScanHandler(pairing.ID))

		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			log.Printf("[MQTT] error subscribing to %s: %v", pairing.ScanTopic, token.Error())
		}
	}
}

func (c *MQTTClient) onConnectionLost(client mqtt.Client, err error) {
	log.Printf("[MQTT] connection interrupted (%v), auto-reconnect will retry", err)
	c.setConnected(false)
}

func (c *MQTTClient) onReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	log.Println("[MQTT] reconnecting...")
}

// createScanHandler decodes scan payloads for one pairing
func (c *MQTTClient) createScanHandler(pairingID string) mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		payload := msg.Payload()
		log.Printf("[MQTT] received scan for %s (topic: %s, size: %d bytes)",
			pairingID, msg.Topic(), len(payload))

		scan, err := DecodeScanPayload(payload)
		if err != nil {
			log.Printf("[MQTT] error decoding scan for %s: %v", pairingID, err)
		}
		if c.scanHandler != nil {
			c.scanHandler(pairingID, scan, err)
		}
	}
}

// IsConnected returns true if the MQTT client is connected
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

// Disconnect gracefully closes the MQTT connection
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		log.Println("[MQTT] disconnecting...")
		c.client.Disconnect(250)
		c.setConnected(false)
	}
}

// GetPairingByTopic returns the pairing ID subscribed to topic
func (c *MQTTClient) GetPairingByTopic(topic string) (string, bool) {
	for _, p := range c.config.Pairings {
		if p.ScanTopic == topic {
			return p.ID, true
		}
	}
	return "", false
}

// GetClient returns the underlying MQTT client for publishing
func (c *MQTTClient) GetClient() mqtt.Client {
	return c.client
}

// WrapMQTTClient wraps an existing client such as MockClient. Its connect
// handler is onConnect, so Start subscribes the scan topics.
func WrapMQTTClient(client mqtt.Client, config *Config, handler ScanHandler) *MQTTClient {
	c := &MQTTClient{
		client:      client,
		config:      config,
		scanHandler: handler,
	}
	if mock, ok := client.(*MockClient); ok {
		mock.SetOnConnect(c.onConnect)
	}
	return c
}
