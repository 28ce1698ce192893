package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/generalistai/gello-teleop/pkg/pedal"
	"github.com/generalistai/gello-teleop/pkg/robot"
	"github.com/generalistai/gello-teleop/pkg/teleop"
	"github.com/generalistai/gello-teleop/pkg/transport"
)

type RunCommand struct {
	Config      string `long:"config" short:"c" description:"Config file path" default:"teleop.json"`
	TestMode    bool   `long:"test-mode" description:"Arm the loop automatically when no pedal is present"`
	StartDelay  int    `long:"start-delay" default:"2" description:"Seconds between synthesized prepare and start in test mode"`
	NoDashboard bool   `long:"no-dashboard" description:"Skip the dashboard prepare sequence"`
}

// rig is everything a running deployment holds: the loop, its intent
// channel, and the pedal when one is present.
type rig struct {
	cfg     *robot.Config
	loop    *teleop.Loop
	intents chan teleop.Intent
	pedal   *pedal.Monitor
}

func openRig(configPath string) (*rig, error) {
	cfg, err := robot.LoadConfigFrom(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w (create one or pass --config)", configPath, err)
	}
	if cfg.Broker == "" {
		return nil, fmt.Errorf("config: broker is required; arms are driven through the robot-side bridge")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	gentle, full := cfg.Profiles(robot.ArmJointCount)
	loopCfg := teleop.Config{
		Hz:     cfg.Hz(),
		Joints: robot.ArmJointCount,
		Gentle: gentle,
		Full:   full,
	}

	for _, sc := range []struct {
		side teleop.Side
		cfg  robot.SideConfig
	}{
		{teleop.SideLeft, cfg.Left},
		{teleop.SideRight, cfg.Right},
	} {
		if !sc.cfg.Enabled() {
			continue
		}
		ctrl, err := robot.NewController(robot.ControllerConfig{
			Port:        sc.cfg.ControllerPort,
			Calibration: sc.cfg.Calibration,
			CacheWindow: time.Duration(float64(time.Second) / cfg.Hz()),
		})
		if err != nil {
			return nil, fmt.Errorf("%s controller: %w", sc.side, err)
		}
		if err := ctrl.Connect(ctx); err != nil {
			return nil, fmt.Errorf("%s controller: %w", sc.side, err)
		}
		// The handheld stays passive; the operator moves it by hand.
		if err := ctrl.SetTorque(ctx, false); err != nil {
			log.Printf("%s controller: torque off failed: %v", sc.side, err)
		}

		arm := transport.NewArmClient(transport.ArmClientConfig{
			Broker: cfg.Broker,
			Side:   sc.side,
		})
		if err := arm.Connect(ctx); err != nil {
			return nil, fmt.Errorf("%s arm: %w", sc.side, err)
		}

		loopCfg.Sides = append(loopCfg.Sides, teleop.SideConfig{
			Side:       sc.side,
			Controller: ctrl,
			Arm:        arm,
			GripperPin: sc.cfg.GripperPin,
			Gripper:    cfg.GripperThresholds(),
		})
	}
	if len(loopCfg.Sides) == 0 {
		return nil, fmt.Errorf("config: no sides enabled")
	}

	loop, err := teleop.NewLoop(loopCfg)
	if err != nil {
		return nil, err
	}

	r := &rig{
		cfg:     cfg,
		loop:    loop,
		intents: make(chan teleop.Intent, 8),
	}

	if dev, err := openPedal(cfg); err != nil {
		log.Printf("pedal: %v", err)
	} else {
		r.pedal = pedal.NewMonitor(dev, r.intents, pedal.Config{})
	}
	return r, nil
}

func openPedal(cfg *robot.Config) (pedal.Device, error) {
	vendor, product := cfg.Pedal.VendorID, cfg.Pedal.ProductID
	if vendor == 0 {
		vendor = pedal.DefaultVendorID
	}
	if product == 0 {
		product = pedal.DefaultProductID
	}
	return pedal.FindPedal(vendor, product)
}

// prepareDashboards loads the external-control program on every
// configured arm so the bridge has something to talk to.
func (r *rig) prepareDashboards(ctx context.Context) {
	for _, sc := range []robot.SideConfig{r.cfg.Left, r.cfg.Right} {
		if !sc.Enabled() || sc.ArmHost == "" {
			continue
		}
		dash := robot.NewDashboard(sc.ArmHost)
		if dash.ExternalControlActive(ctx) {
			continue
		}
		log.Printf("dashboard %s: loading %s", sc.ArmHost, robot.ExternalControlProgram)
		if err := dash.LoadAndPlay(ctx, robot.ExternalControlProgram); err != nil {
			log.Printf("dashboard %s: %v", sc.ArmHost, err)
		}
	}
}

func (r *rig) Close() {
	if err := r.loop.Close(); err != nil {
		log.Printf("close: %v", err)
	}
}

func (c *RunCommand) Execute(args []string) error {
	r, err := openRig(c.Config)
	if err != nil {
		return err
	}
	defer r.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !c.NoDashboard {
		r.prepareDashboards(ctx)
	}

	// Loop diagnostics go straight to the process log in daemon mode.
	go func() {
		for line := range r.loop.Logs() {
			log.Print(line)
		}
	}()

	// Snapshots go to the broker for recorders; without a publisher
	// they still need a consumer so stale ones get replaced.
	if pub, err := transport.NewPublisher(r.cfg.Broker, "", 0); err != nil {
		log.Printf("publisher: %v", err)
		go func() {
			for range r.loop.States() {
			}
		}()
	} else {
		defer pub.Close()
		go func() {
			if err := pub.Run(ctx, r.loop.States()); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("publisher: %v", err)
			}
		}()
	}

	switch {
	case r.pedal != nil:
		r.pedal.SetLogger(log.Printf)
		go func() {
			if err := r.pedal.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("pedal: %v", err)
			}
		}()
		log.Printf("pedal armed: left=interrupt, center=prepare/start, right=stop")
	case c.TestMode:
		log.Printf("test mode: arming in %ds", c.StartDelay)
		go func() {
			delay := time.Duration(c.StartDelay) * time.Second
			if err := pedal.AutoStart(ctx, r.intents, delay); err != nil {
				return
			}
		}()
	default:
		log.Printf("no pedal found; loop stays idle (use --test-mode to auto-arm)")
	}

	log.Printf("control loop at %.0f Hz, broker %s", r.loop.Hz(), r.cfg.Broker)
	err = r.loop.Run(ctx, r.intents)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
