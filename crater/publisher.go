package crater

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// CataloguePayload is the message published for a run's craters
type CataloguePayload struct {
	RunID     string   `json:"run_id"`
	Timestamp int64    `json:"timestamp"`
	Craters   []Crater `json:"craters"`
}

// Publisher publishes run summaries and catalogues to MQTT
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
	last          *RunSummary
	mu            sync.RWMutex
}

// NewPublisher creates a publisher. The prefix falls back to
// MQTT_PUBLISH_PREFIX and then "cratermerge".
func NewPublisher(client mqtt.Client, prefix string) *Publisher {
	return &Publisher{
		client:        client,
		publishPrefix: publishPrefix(prefix),
		qos:           0,
		retain:        true, // late subscribers see the latest run
	}
}

// PublishRun publishes the summary to <prefix>/runs/<runID> and
// <prefix>/latest.
func (p *Publisher) PublishRun(summary RunSummary) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshaling run summary: %w", err)
	}

	if err := p.publish(fmt.Sprintf("%s/runs/%s", p.publishPrefix, summary.RunID), payload); err != nil {
		log.Printf("Error publishing run %s: %v", summary.RunID, err)
		return err
	}
	if err := p.publish(p.publishPrefix+"/latest", payload); err != nil {
		log.Printf("Error publishing latest run: %v", err)
		return err
	}

	p.mu.Lock()
	s := summary
	p.last = &s
	p.mu.Unlock()

	log.Printf("Published run %s: %d craters from %d markings", summary.RunID, summary.Craters, summary.Used)
	return nil
}

// PublishCatalogue publishes the craters of a run to <prefix>/catalogue/<runID>
func (p *Publisher) PublishCatalogue(runID string, craters []Crater) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}
	if craters == nil {
		craters = []Crater{}
	}
	payload, err := json.Marshal(CataloguePayload{RunID: runID, Timestamp: time.Now().Unix(), Craters: craters})
	if err != nil {
		return fmt.Errorf("marshaling catalogue: %w", err)
	}
	if err := p.publish(fmt.Sprintf("%s/catalogue/%s", p.publishPrefix, runID), payload); err != nil {
		log.Printf("Error publishing catalogue for run %s: %v", runID, err)
		return err
	}
	return nil
}

// PublishResult publishes the summary and catalogue of a run
func (p *Publisher) PublishResult(res *RunResult) error {
	if err := p.PublishRun(res.Summary()); err != nil {
		return err
	}
	return p.PublishCatalogue(res.RunID, res.Craters)
}

func (p *Publisher) publish(topic string, payload []byte) error {
	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

// LastRun returns the most recently published summary
func (p *Publisher) LastRun() (RunSummary, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.last == nil {
		return RunSummary{}, false
	}
	return *p.last, true
}

// SetQoS sets the publish QoS (0, 1 or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether published messages are retained by the broker
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}
