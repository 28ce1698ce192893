package robot

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"time"
)

// DashboardPort is the arm's text-protocol management port.
const DashboardPort = 29999

// ExternalControlProgram is the program the arm must be running before
// it accepts streamed servo commands.
const ExternalControlProgram = "ExternalControl.urp"

// Dashboard talks the arm's line-oriented management protocol: one
// command per line, one response line back. Each call opens a fresh
// connection; the dashboard drops idle sessions anyway.
type Dashboard struct {
	Host    string // host or host:port; bare hosts get DashboardPort
	Timeout time.Duration
}

// NewDashboard returns a client for the given arm host.
func NewDashboard(host string) *Dashboard {
	return &Dashboard{Host: host, Timeout: 2 * time.Second}
}

func (d *Dashboard) addr() string {
	if _, _, err := net.SplitHostPort(d.Host); err == nil {
		return d.Host
	}
	return net.JoinHostPort(d.Host, fmt.Sprint(DashboardPort))
}

// Exec sends commands in sequence on one connection and returns the
// response line for each.
func (d *Dashboard) Exec(ctx context.Context, cmds ...string) ([]string, error) {
	addr := d.addr()
	var dialer net.Dialer
	dctx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()

	conn, err := dialer.DialContext(dctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dashboard %s: %w", d.Host, err)
	}
	defer conn.Close()

	r := bufio.NewReader(conn)
	_ = conn.SetDeadline(time.Now().Add(d.Timeout))
	if _, err := r.ReadString('\n'); err != nil { // banner
		return nil, fmt.Errorf("dashboard %s: banner: %w", d.Host, err)
	}

	out := make([]string, 0, len(cmds))
	for _, cmd := range cmds {
		_ = conn.SetDeadline(time.Now().Add(d.Timeout))
		if _, err := fmt.Fprintf(conn, "%s\n", cmd); err != nil {
			return out, fmt.Errorf("dashboard %s: send %q: %w", d.Host, cmd, err)
		}
		line, err := r.ReadString('\n')
		if err != nil {
			return out, fmt.Errorf("dashboard %s: response to %q: %w", d.Host, cmd, err)
		}
		out = append(out, strings.TrimSpace(line))
	}
	return out, nil
}

// ProgramState returns the normalized program state, e.g. "STOPPED" or
// "PLAYING EXTERNALCONTROL.URP".
func (d *Dashboard) ProgramState(ctx context.Context) (string, error) {
	resp, err := d.Exec(ctx, "programState")
	if err != nil {
		return "", err
	}
	return strings.ToUpper(resp[0]), nil
}

// ExternalControlActive reports whether the external-control program
// is currently playing.
func (d *Dashboard) ExternalControlActive(ctx context.Context) bool {
	state, err := d.ProgramState(ctx)
	if err != nil {
		return false
	}
	return strings.HasPrefix(state, "PLAYING") &&
		strings.Contains(state, strings.ToUpper(strings.TrimSuffix(ExternalControlProgram, ".urp")))
}

// Play walks the arm out of whatever popup or protective stop it is
// sitting in and presses play.
func (d *Dashboard) Play(ctx context.Context) error {
	return d.run(ctx,
		"stop",
		"close safety popup",
		"unlock protective stop",
		"power on",
		"brake release",
		"play",
	)
}

// LoadAndPlay loads a program by name and starts it.
func (d *Dashboard) LoadAndPlay(ctx context.Context, program string) error {
	return d.run(ctx,
		"stop",
		"close safety popup",
		"unlock protective stop",
		"power on",
		"brake release",
		"load "+program,
		"play",
	)
}

func (d *Dashboard) run(ctx context.Context, cmds ...string) error {
	resp, err := d.Exec(ctx, cmds...)
	if err != nil {
		return err
	}
	for i, line := range resp {
		if strings.Contains(line, "Error") || strings.Contains(line, "File not found") {
			return fmt.Errorf("dashboard %s: %q: %s", d.Host, cmds[i], line)
		}
	}
	return nil
}
