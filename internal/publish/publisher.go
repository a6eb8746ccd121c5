// Package publish sends accepted detections to an MQTT broker. The
// publisher is optional: the detection loop runs identically whether or
// not a broker is configured, and publish failures are reported to the
// caller for logging rather than stopping the loop.
package publish

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/aerosense-labs/skywatch/internal/lidar/detect"
	"github.com/aerosense-labs/skywatch/internal/monitoring"
)

const (
	// TopicDetections carries one retained message per detection cycle.
	TopicDetections = "skywatch/detections"
	// TopicObjects carries one message per accepted object.
	TopicObjects = "skywatch/detections/objects"

	// DefaultClientID is used when the caller does not supply one.
	DefaultClientID = "skywatch-publisher"

	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
)

// ErrNotConnected is returned when publishing without a live broker
// connection.
var ErrNotConnected = errors.New("mqtt client not connected")

// CycleMessage is the retained per-cycle payload on TopicDetections.
type CycleMessage struct {
	RunID     string                  `json:"run_id,omitempty"`
	ScanID    uint32                  `json:"scan_id"`
	ScanStamp float64                 `json:"scan_stamp"`
	Time      float64                 `json:"time"`
	Count     int                     `json:"count"`
	Targets   int                     `json:"targets"`
	Objects   []detect.DetectedObject `json:"objects"`
}

// ObjectMessage is one accepted object on the TopicObjects stream. The
// object's fields are inlined alongside the cycle context.
type ObjectMessage struct {
	RunID     string  `json:"run_id,omitempty"`
	ScanID    uint32  `json:"scan_id"`
	ScanStamp float64 `json:"scan_stamp"`
	Time      float64 `json:"time"`
	detect.DetectedObject
}

// BuildCycleMessage assembles the per-cycle payload. Objects may be nil;
// the message still carries the counts so consumers see empty cycles.
func BuildCycleMessage(runID string, scanID uint32, scanStamp, now float64, objects []detect.DetectedObject) CycleMessage {
	targets := 0
	for _, obj := range objects {
		if obj.IsTarget {
			targets++
		}
	}
	return CycleMessage{
		RunID:     runID,
		ScanID:    scanID,
		ScanStamp: scanStamp,
		Time:      now,
		Count:     len(objects),
		Targets:   targets,
		Objects:   objects,
	}
}

// Stats reports publisher counters.
type Stats struct {
	Connected bool   `json:"connected"`
	Published uint64 `json:"published"`
	Errors    uint64 `json:"errors"`
}

// Publisher wraps an MQTT client with the skywatch detection topics.
type Publisher struct {
	broker   string
	clientID string
	runID    string
	client   mqtt.Client

	mu        sync.Mutex
	published uint64
	errors    uint64
}

// NewPublisher prepares a publisher for the given broker URL (for
// example "tcp://localhost:1883"). Connect must be called before
// publishing. An empty clientID falls back to DefaultClientID.
func NewPublisher(broker, clientID, runID string) *Publisher {
	if clientID == "" {
		clientID = DefaultClientID
	}
	return &Publisher{
		broker:   broker,
		clientID: clientID,
		runID:    runID,
	}
}

// Connect establishes the broker connection. The client reconnects
// automatically after transient drops; only the initial connect is
// reported to the caller.
func (p *Publisher) Connect() error {
	opts := mqtt.NewClientOptions().
		AddBroker(p.broker).
		SetClientID(p.clientID)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		monitoring.Logf("mqtt connected to %s", p.broker)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		monitoring.Logf("mqtt connection lost: %v (reconnecting)", err)
	}

	p.client = mqtt.NewClient(opts)

	token := p.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("mqtt connect to %s timed out", p.broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect to %s failed: %w", p.broker, err)
	}
	return nil
}

// PublishCycle sends the retained cycle message and one message per
// object. The first failure is returned; remaining objects are skipped.
func (p *Publisher) PublishCycle(scanID uint32, scanStamp, now float64, objects []detect.DetectedObject) error {
	if p.client == nil || !p.client.IsConnected() {
		p.countError()
		return ErrNotConnected
	}

	cycle := BuildCycleMessage(p.runID, scanID, scanStamp, now, objects)
	payload, err := json.Marshal(cycle)
	if err != nil {
		p.countError()
		return fmt.Errorf("failed to marshal cycle message: %w", err)
	}
	if err := p.send(TopicDetections, true, payload); err != nil {
		return err
	}

	for _, obj := range objects {
		msg := ObjectMessage{
			RunID:          p.runID,
			ScanID:         scanID,
			ScanStamp:      scanStamp,
			Time:           now,
			DetectedObject: obj,
		}
		payload, err := json.Marshal(msg)
		if err != nil {
			p.countError()
			return fmt.Errorf("failed to marshal object message: %w", err)
		}
		if err := p.send(TopicObjects, false, payload); err != nil {
			return err
		}
	}
	return nil
}

func (p *Publisher) send(topic string, retained bool, payload []byte) error {
	token := p.client.Publish(topic, 0, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		p.countError()
		return fmt.Errorf("publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		p.countError()
		return fmt.Errorf("publish to %s failed: %w", topic, err)
	}

	p.mu.Lock()
	p.published++
	p.mu.Unlock()
	return nil
}

func (p *Publisher) countError() {
	p.mu.Lock()
	p.errors++
	p.mu.Unlock()
}

// Stats returns the publish counters.
func (p *Publisher) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	connected := p.client != nil && p.client.IsConnected()
	return Stats{
		Connected: connected,
		Published: p.published,
		Errors:    p.errors,
	}
}

// Close disconnects from the broker, allowing in-flight messages a
// short grace period.
func (p *Publisher) Close() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}
