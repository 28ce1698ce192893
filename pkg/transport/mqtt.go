// Package transport drives an arm over an MQTT broker instead of a
// direct connection. A bridge process on the robot side subscribes to
// the command topics and relays them to the arm controller; this end
// only sees JSON on the bus. The follow loop cannot tell the
// difference: ArmClient implements the same interface as a direct
// connection.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/generalistai/gello-teleop/pkg/teleop"
)

// Topic layout, one namespace per side.
func topicServo(side teleop.Side) string  { return fmt.Sprintf("teleop/%s/servo", side) }
func topicStop(side teleop.Side) string   { return fmt.Sprintf("teleop/%s/stop", side) }
func topicIO(side teleop.Side) string     { return fmt.Sprintf("teleop/%s/io", side) }
func topicJoints(side teleop.Side) string { return fmt.Sprintf("teleop/%s/joints", side) }
func topicStatus(side teleop.Side) string { return fmt.Sprintf("teleop/%s/status", side) }

// ServoCommand is one streamed position target.
type ServoCommand struct {
	Q            []float64 `json:"q"`
	Velocity     float64   `json:"velocity"`
	Acceleration float64   `json:"acceleration"`
	Dt           float64   `json:"dt"`
	Lookahead    float64   `json:"lookahead"`
	Gain         float64   `json:"gain"`
}

// StopCommand asks the bridge to decelerate to a halt.
type StopCommand struct {
	Deceleration float64 `json:"deceleration"`
}

// IOCommand sets one digital output pin.
type IOCommand struct {
	Pin   int  `json:"pin"`
	Value bool `json:"value"`
}

// JointState is the bridge's feedback message.
type JointState struct {
	Q         []float64 `json:"q"`
	Valid     bool      `json:"valid"`
	Timestamp int64     `json:"timestamp_ns"`
}

// BridgeStatus reports whether the arm-side bridge is accepting
// streamed commands.
type BridgeStatus struct {
	Accepting bool   `json:"accepting"`
	Detail    string `json:"detail,omitempty"`
}

// ArmClientConfig configures one side's bus-driven arm.
type ArmClientConfig struct {
	Broker   string
	ClientID string
	Side     teleop.Side
	// Joint feedback older than this counts as a failed read. Defaults
	// to five control periods at 125 Hz.
	StaleAfter time.Duration
}

// ArmClient implements teleop.ArmController over an MQTT broker.
type ArmClient struct {
	cfg    ArmClientConfig
	client mqtt.Client

	mu        sync.Mutex
	joints    []float64
	updated   time.Time
	accepting bool
	statusAt  time.Time
}

// NewArmClient builds an unconnected client.
func NewArmClient(cfg ArmClientConfig) *ArmClient {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 40 * time.Millisecond
	}
	if cfg.ClientID == "" {
		cfg.ClientID = fmt.Sprintf("gello-teleop-%s", cfg.Side)
	}
	return &ArmClient{cfg: cfg}
}

// Connect dials the broker and subscribes to the side's feedback
// topics.
func (a *ArmClient) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(a.cfg.Broker).
		SetClientID(a.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(5 * time.Second)

	a.client = mqtt.NewClient(opts)
	if token := a.client.Connect(); !token.WaitTimeout(10*time.Second) || token.Error() != nil {
		return fmt.Errorf("mqtt connect %s: %w: %v", a.cfg.Broker, teleop.ErrDeviceUnavailable, token.Error())
	}

	joints := a.client.Subscribe(topicJoints(a.cfg.Side), 0, a.onJoints)
	if joints.Wait(); joints.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", topicJoints(a.cfg.Side), joints.Error())
	}
	status := a.client.Subscribe(topicStatus(a.cfg.Side), 0, a.onStatus)
	if status.Wait(); status.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", topicStatus(a.cfg.Side), status.Error())
	}
	return nil
}

func (a *ArmClient) onJoints(_ mqtt.Client, msg mqtt.Message) {
	var st JointState
	if err := json.Unmarshal(msg.Payload(), &st); err != nil || !st.Valid {
		return
	}
	a.mu.Lock()
	a.joints = st.Q
	a.updated = time.Now()
	a.mu.Unlock()
}

func (a *ArmClient) onStatus(_ mqtt.Client, msg mqtt.Message) {
	var st BridgeStatus
	if err := json.Unmarshal(msg.Payload(), &st); err != nil {
		return
	}
	a.mu.Lock()
	a.accepting = st.Accepting
	a.statusAt = time.Now()
	a.mu.Unlock()
}

// JointPositions returns the last feedback sample. Feedback past the
// staleness window reads as a transient failure, so the loop skips the
// tick rather than acting on an old pose.
func (a *ArmClient) JointPositions(ctx context.Context) ([]float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.joints == nil || time.Since(a.updated) > a.cfg.StaleAfter {
		return nil, fmt.Errorf("%s arm feedback stale: %w", a.cfg.Side, teleop.ErrTransientRead)
	}
	return append([]float64(nil), a.joints...), nil
}

// ServoTo publishes one position target. A bridge that reported it is
// not accepting commands turns this into a rejection, which the loop
// counts toward fatal control loss.
func (a *ArmClient) ServoTo(ctx context.Context, q []float64, velocity, acceleration, dt, lookahead, gain float64) error {
	a.mu.Lock()
	rejected := !a.statusAt.IsZero() && !a.accepting
	a.mu.Unlock()
	if rejected {
		return fmt.Errorf("%s bridge not accepting commands: %w", a.cfg.Side, teleop.ErrControlRejected)
	}

	return a.publish(ctx, topicServo(a.cfg.Side), ServoCommand{
		Q:            q,
		Velocity:     velocity,
		Acceleration: acceleration,
		Dt:           dt,
		Lookahead:    lookahead,
		Gain:         gain,
	})
}

// Stop publishes a deceleration command.
func (a *ArmClient) Stop(ctx context.Context, deceleration float64) error {
	return a.publish(ctx, topicStop(a.cfg.Side), StopCommand{Deceleration: deceleration})
}

// SetDigitalOutput publishes a pin change.
func (a *ArmClient) SetDigitalOutput(ctx context.Context, pin int, value bool) error {
	return a.publish(ctx, topicIO(a.cfg.Side), IOCommand{Pin: pin, Value: value})
}

// EnsureControlReady reports whether the broker link is up, the bridge
// accepts commands, and feedback is fresh.
func (a *ArmClient) EnsureControlReady(ctx context.Context) bool {
	if a.client == nil || !a.client.IsConnected() {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.statusAt.IsZero() || !a.accepting {
		return false
	}
	return a.joints != nil && time.Since(a.updated) <= a.cfg.StaleAfter
}

func (a *ArmClient) publish(ctx context.Context, topic string, v any) error {
	if a.client == nil {
		return fmt.Errorf("publish %s: %w", topic, teleop.ErrDeviceUnavailable)
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", topic, err)
	}

	timeout := 100 * time.Millisecond
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
	}
	token := a.client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("publish %s: timed out", topic)
	}
	if token.Error() != nil {
		return fmt.Errorf("publish %s: %w", topic, token.Error())
	}
	return nil
}

// Close disconnects from the broker.
func (a *ArmClient) Close() error {
	if a.client != nil && a.client.IsConnected() {
		a.client.Disconnect(250)
	}
	return nil
}
