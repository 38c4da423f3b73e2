// Package telemetry bridges the drive engine to an MQTT broker: it publishes
// encoder counts and engine state, and accepts drive, stop and emergency stop
// commands.
//
// Topics, relative to the configured prefix:
//
//	<prefix>/ticks      out  {"front_right":12,...,"average":11}
//	<prefix>/state      out  motion.Status as JSON (retained)
//	<prefix>/event      out  drive results
//	<prefix>/cmd/drive  in   {"motion":"forward","cm":20}
//	<prefix>/cmd/stop   in   any payload
//	<prefix>/cmd/estop  in   "clear" clears the latch, anything else asserts it
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"maps"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/mecabot/mecabot/internal/config"
	"github.com/mecabot/mecabot/internal/debug"
	"github.com/mecabot/mecabot/internal/hw/wheel"
	"github.com/mecabot/mecabot/internal/logic/motion"
	"github.com/mecabot/mecabot/internal/logic/route"
)

// ConnectTimeout bounds the initial broker connection.
const ConnectTimeout = 10 * time.Second

// DefaultInterval is the publish period used when none is given.
const DefaultInterval = 200 * time.Millisecond

// Client is the subset of mqtt.Client the bridge uses.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
}

// Engine is the part of the drive engine the bridge controls.
type Engine interface {
	route.Mover
	Stop() error
	Status() motion.Status
	Latch() *motion.Latch
}

// TickReader exposes the encoder counters.
type TickReader interface {
	Counts() map[wheel.ID]uint64
	Average() uint64
}

// Event is published on <prefix>/event when a remote drive ends.
type Event struct {
	Step  string `json:"step"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Connect dials the broker described by cfg.
func Connect(cfg config.MQTTConfig) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.OnConnect = func(mqtt.Client) {
		log.Printf("connected to MQTT broker %s", cfg.Broker)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Printf("MQTT connection lost: %v", err)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(ConnectTimeout) {
		return nil, fmt.Errorf("connect to %s: timed out after %s", cfg.Broker, ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.Broker, err)
	}
	return client, nil
}

// Bridge publishes engine telemetry and executes remote commands.
type Bridge struct {
	client   Client
	prefix   string
	interval time.Duration
	eng      Engine
	ticks    TickReader

	mu  sync.Mutex
	ctx context.Context
	wg  sync.WaitGroup
}

// NewBridge creates a bridge publishing under prefix every interval.
// Either eng or ticks may be nil; the matching topics are then skipped.
func NewBridge(client Client, prefix string, interval time.Duration, eng Engine, ticks TickReader) *Bridge {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Bridge{
		client:   client,
		prefix:   strings.TrimSuffix(prefix, "/"),
		interval: interval,
		eng:      eng,
		ticks:    ticks,
		ctx:      context.Background(),
	}
}

// Topic returns the full topic name for suffix.
func (b *Bridge) Topic(suffix string) string {
	return b.prefix + "/" + suffix
}

// Run subscribes to the command topics and publishes telemetry until ctx is
// done. Remote drives in flight are cancelled with ctx and waited for.
func (b *Bridge) Run(ctx context.Context) error {
	b.mu.Lock()
	b.ctx = ctx
	b.mu.Unlock()

	cmds := map[string]mqtt.MessageHandler{
		b.Topic("cmd/drive"): b.onDrive,
		b.Topic("cmd/stop"):  b.onStop,
		b.Topic("cmd/estop"): b.onEmergencyStop,
	}
	var topics []string
	for topic, handler := range cmds {
		if err := wait(b.client.Subscribe(topic, 1, handler)); err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		topics = append(topics, topic)
		debug.Verbose("mqtt: subscribed to %s", topic)
	}
	defer func() {
		wait(b.client.Unsubscribe(topics...))
		b.wg.Wait()
	}()

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	var lastState motion.Status
	var lastTicks map[string]uint64
	first := true
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if b.eng != nil {
			st := b.eng.Status()
			if first || st != lastState {
				b.publish("state", true, st)
				lastState = st
			}
		}
		if b.ticks != nil {
			snap := tickSnapshot(b.ticks)
			if first || !maps.Equal(snap, lastTicks) {
				b.publish("ticks", false, snap)
				lastTicks = snap
			}
		}
		first = false
	}
}

func (b *Bridge) publish(suffix string, retained bool, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		debug.Error(fmt.Errorf("mqtt: encode %s: %w", suffix, err))
		return
	}
	// Fire and forget; paho queues while reconnecting.
	b.client.Publish(b.Topic(suffix), 0, retained, data)
}

func (b *Bridge) onDrive(_ mqtt.Client, msg mqtt.Message) {
	var step route.Step
	if err := json.Unmarshal(msg.Payload(), &step); err != nil {
		b.publish("event", false, Event{Error: "invalid JSON: " + err.Error()})
		return
	}
	if err := step.Validate(); err != nil {
		b.publish("event", false, Event{Step: step.String(), Error: err.Error()})
		return
	}
	if b.eng == nil {
		b.publish("event", false, Event{Step: step.String(), Error: "motors not configured"})
		return
	}

	b.mu.Lock()
	ctx := b.ctx
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		rt := &route.Route{Name: "mqtt", Steps: []route.Step{step}}
		err := route.NewRunner(b.eng).Run(ctx, rt)
		evt := Event{Step: step.String(), OK: err == nil}
		if err != nil {
			evt.Error = err.Error()
		}
		b.publish("event", false, evt)
	}()
}

func (b *Bridge) onStop(_ mqtt.Client, _ mqtt.Message) {
	if b.eng == nil {
		return
	}
	if err := b.eng.Stop(); err != nil {
		debug.Error(fmt.Errorf("mqtt stop: %w", err))
	}
}

func (b *Bridge) onEmergencyStop(_ mqtt.Client, msg mqtt.Message) {
	if b.eng == nil || b.eng.Latch() == nil {
		return
	}
	latch := b.eng.Latch()
	if strings.EqualFold(strings.TrimSpace(string(msg.Payload())), "clear") {
		latch.Clear()
		debug.Info("Emergency stop cleared over MQTT")
		return
	}
	latch.Assert()
	if err := b.eng.Stop(); err != nil {
		debug.Error(fmt.Errorf("mqtt estop: %w", err))
	}
	debug.Info("Emergency stop asserted over MQTT")
}

func wait(t mqtt.Token) error {
	if !t.WaitTimeout(ConnectTimeout) {
		return errors.New("timed out")
	}
	return t.Error()
}

func tickSnapshot(t TickReader) map[string]uint64 {
	out := make(map[string]uint64, wheel.Count+1)
	for w, n := range t.Counts() {
		out[w.String()] = n
	}
	out["average"] = t.Average()
	return out
}
