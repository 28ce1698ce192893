package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/generalistai/gello-teleop/pkg/teleop"
)

// ControllerState is the published view of one side's handheld
// controller, for recorders and downstream consumers.
type ControllerState struct {
	Side      teleop.Side `json:"side"`
	Q         []float64   `json:"q"`
	Commanded []float64   `json:"commanded,omitempty"`
	Gripper   string      `json:"gripper"`
	Phase     string      `json:"phase"`
	Timestamp int64       `json:"timestamp_ns"`
}

func topicController(side teleop.Side) string {
	return fmt.Sprintf("teleop/%s/controller", side)
}

// Publisher mirrors follow-loop snapshots onto the broker at a reduced
// rate. It shares nothing with the control context; it only consumes
// the snapshot channel.
type Publisher struct {
	client   mqtt.Client
	interval time.Duration
}

// NewPublisher dials the broker. interval bounds the publish rate;
// zero means 20 Hz.
func NewPublisher(broker, clientID string, interval time.Duration) (*Publisher, error) {
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	if clientID == "" {
		clientID = "gello-teleop-publisher"
	}
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(5 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); !token.WaitTimeout(10*time.Second) || token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", broker, token.Error())
	}
	return &Publisher{client: client, interval: interval}, nil
}

// Run forwards snapshots until ctx is canceled or the channel closes.
// Snapshots arriving faster than the interval are dropped, not queued.
func (p *Publisher) Run(ctx context.Context, states <-chan teleop.State) error {
	var last time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case st, ok := <-states:
			if !ok {
				return nil
			}
			if time.Since(last) < p.interval {
				continue
			}
			last = time.Now()
			p.publish(st)
		}
	}
}

func (p *Publisher) publish(st teleop.State) {
	now := st.Timestamp.UnixNano()
	for side, q := range st.Positions {
		msg := ControllerState{
			Side:      side,
			Q:         q,
			Commanded: st.Commanded[side],
			Gripper:   st.Gripper[side].String(),
			Phase:     st.Phase.String(),
			Timestamp: now,
		}
		payload, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		p.client.Publish(topicController(side), 0, false, payload)
	}
}

// Close disconnects from the broker.
func (p *Publisher) Close() error {
	if p.client.IsConnected() {
		p.client.Disconnect(250)
	}
	return nil
}
