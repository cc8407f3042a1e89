package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alpindale/smi-dashboard/internal/config"
	"github.com/alpindale/smi-dashboard/internal/gpu/base"
	"github.com/alpindale/smi-dashboard/internal/output"
	"github.com/alpindale/smi-dashboard/internal/telemetry"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const (
	connectTimeout  = 10 * time.Second
	disconnectQuiet = 250 // ms
)

// payload published on <topic>/<metric>
type metricPayload struct {
	Time    time.Time   `json:"time"`
	Backend string      `json:"backend"`
	Metric  base.Metric `json:"metric"`
	Unit    string      `json:"unit,omitempty"`
	Values  []*float64  `json:"values"`
	Total   *float64    `json:"total,omitempty"`
}

type message struct {
	topic   string
	payload []byte
}

type MQTTOutput struct {
	client mqtt.Client
	topic  string
	log    *zap.Logger
}

func NewMQTT(cfg config.MQTTConfig, log *zap.Logger) (output.Output, error) {
	if log == nil {
		log = zap.NewNop()
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Server).
		SetClientID(cfg.ClientID).
		SetConnectTimeout(connectTimeout).
		SetAutoReconnect(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn("mqtt connection lost", zap.Error(err))
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}

	log.Info("mqtt connected", zap.String("server", cfg.Server), zap.String("topic", cfg.Topic))
	return &MQTTOutput{client: client, topic: strings.TrimSuffix(cfg.Topic, "/"), log: log}, nil
}

// Publish sends every metric of the snapshot on its own topic. It keeps going
// after a failed publish and returns the joined errors.
func (m *MQTTOutput) Publish(snap telemetry.Snapshot) error {
	msgs, err := encode(m.topic, snap)
	if err != nil {
		return err
	}

	var errs []error
	for _, msg := range msgs {
		token := m.client.Publish(msg.topic, 0, false, msg.payload)
		token.Wait()
		if token.Error() != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", msg.topic, token.Error()))
		}
	}
	return errors.Join(errs...)
}

func (m *MQTTOutput) Close() error {
	if m.client != nil {
		m.client.Disconnect(disconnectQuiet)
	}
	return nil
}

// encode builds one message for the device count and one per polled metric.
// Unavailable samples are null in values.
func encode(topic string, snap telemetry.Snapshot) ([]message, error) {
	msgs := make([]message, 0, len(snap.Readings)+1)

	count := float64(snap.Devices)
	first, err := json.Marshal(metricPayload{
		Time:    snap.Time,
		Backend: snap.Backend,
		Metric:  base.Count,
		Values:  []*float64{&count},
	})
	if err != nil {
		return nil, err
	}
	msgs = append(msgs, message{topic: topic + "/" + base.Count.String(), payload: first})

	for _, metric := range base.DeviceMetrics {
		r, ok := snap.Readings[metric]
		if !ok {
			continue
		}
		p := metricPayload{
			Time:    snap.Time,
			Backend: snap.Backend,
			Metric:  metric,
			Unit:    metric.Unit(),
			Values:  r.Values(),
		}
		if r.Available() > 0 {
			total := r.Sum()
			p.Total = &total
		}
		b, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, message{topic: topic + "/" + metric.String(), payload: b})
	}
	return msgs, nil
}
