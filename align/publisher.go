package align

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// DefaultProgressInterval is the minimum spacing of icpRefinement state publishes
const DefaultProgressInterval = 250 * time.Millisecond

// StateMessage is the payload of <prefix>/<pairing>/state
type StateMessage struct {
	Pairing string `json:"pairing"`
	AlignmentState
}

// ResultMessage is the payload of <prefix>/<pairing>/result
type ResultMessage struct {
	Pairing     string              `json:"pairing"`
	AttemptID   string              `json:"attemptId"`
	Transform   Matrix4             `json:"transform"`
	Metrics     RegistrationMetrics `json:"metrics"`
	Diagnostics *Diagnostics        `json:"diagnostics,omitempty"`
	Timestamp   int64               `json:"timestamp"`
}

// Publisher publishes alignment progress and results to MQTT
type Publisher struct {
	client           mqtt.Client
	publishPrefix    string
	ProgressInterval time.Duration

	mu          sync.Mutex
	lastPublish map[string]time.Time
}

// NewPublisher creates a publisher. MQTT_PUBLISH_PREFIX overrides prefix;
// an empty prefix falls back to "meshalign". A nil client disables publishing.
func NewPublisher(client mqtt.Client, prefix string) *Publisher {
	if env := os.Getenv("MQTT_PUBLISH_PREFIX"); env != "" {
		prefix = env
	}
	if prefix == "" {
		prefix = "meshalign"
	}
	return &Publisher{
		client:           client,
		publishPrefix:    prefix,
		ProgressInterval: DefaultProgressInterval,
		lastPublish:      make(map[string]time.Time),
	}
}

// StateTopic returns the state topic of a pairing
func (p *Publisher) StateTopic(pairingID string) string {
	return fmt.Sprintf("%s/%s/state", p.publishPrefix, pairingID)
}

// ResultTopic returns the result topic of a pairing
func (p *Publisher) ResultTopic(pairingID string) string {
	return fmt.Sprintf("%s/%s/result", p.publishPrefix, pairingID)
}

// PublishState publishes a state snapshot (QoS 0, not retained)
func (p *Publisher) PublishState(pairingID string, state AlignmentState) error {
	payload, err := json.Marshal(StateMessage{Pairing: pairingID, AlignmentState: state})
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}
	return p.publish(p.StateTopic(pairingID), 0, false, payload)
}

// PublishResult publishes the final registration (QoS 1, retained)
func (p *Publisher) PublishResult(pairingID, attemptID string, result RegistrationResult, diag *Diagnostics) error {
	msg := ResultMessage{
		Pairing:     pairingID,
		AttemptID:   attemptID,
		Transform:   result.Transform,
		Metrics:     result.Metrics,
		Diagnostics: diag,
		Timestamp:   time.Now().Unix(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling result: %w", err)
	}
	if err := p.publish(p.ResultTopic(pairingID), 1, true, payload); err != nil {
		return err
	}
	log.Printf("[MQTT] published result for %s: rmse=%.4f inliers=%.2f",
		pairingID, result.Metrics.RMSE, result.Metrics.InlierFraction)
	return nil
}

func (p *Publisher) publish(topic string, qos byte, retain bool, payload []byte) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}
	token := p.client.Publish(topic, qos, retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

// Observer returns a coordinator observer publishing the pairing's states.
// icpRefinement updates closer together than ProgressInterval are dropped;
// every other phase is always published.
func (p *Publisher) Observer(pairingID string) Observer {
	return func(s AlignmentState) {
		if s.Phase == PhaseICPRefinement && !p.allowProgress(pairingID) {
			return
		}
		if err := p.PublishState(pairingID, s); err != nil {
			log.Printf("[MQTT] state publish for %s failed: %v", pairingID, err)
		}
	}
}

func (p *Publisher) allowProgress(pairingID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	if last, ok := p.lastPublish[pairingID]; ok && now.Sub(last) < p.ProgressInterval {
		return false
	}
	p.lastPublish[pairingID] = now
	return true
}
