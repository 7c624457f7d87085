package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/haptic-bridge/haptic-go/pkg/haptic"
)

// Wave timing.
const (
	waveStep = 100 * time.Millisecond
	waveFlip = 2 * time.Second
)

// console executes shell commands against a device.
type console struct {
	dev   haptic.Device
	stamp func() haptic.Stamp
	out   io.Writer

	step time.Duration
	flip time.Duration
}

func newConsole(dev haptic.Device, stamp func() haptic.Stamp, out io.Writer) *console {
	return &console{dev: dev, stamp: stamp, out: out, step: waveStep, flip: waveFlip}
}

// exec runs one command line. It reports whether the shell should exit.
func (c *console) exec(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	var err error
	switch cmd {
	case "help", "?":
		c.printHelp()
	case "pos", "p":
		err = c.printVector(c.dev.Position)
	case "ori", "o":
		err = c.printVector(c.dev.Orientation)
	case "buttons", "b":
		err = c.cmdButtons()
	case "stamp":
		s := c.stamp()
		fmt.Fprintf(c.out, "seq=%d time=%s\n", s.Seq, s.Time.Format(time.RFC3339Nano))
	case "mode", "m":
		err = c.cmdMode(args)
	case "max":
		err = c.printVector(c.dev.MaxFeedback)
	case "force", "f":
		err = c.cmdForce(args)
	case "stop", "s":
		err = c.dev.StopFeedback()
	case "transform", "t":
		err = c.cmdTransform(args)
	case "wave":
		err = c.cmdWave(ctx, args)
	case "quit", "exit", "q":
		return true
	default:
		fmt.Fprintf(c.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
		return false
	}
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
	}
	return false
}

func (c *console) printHelp() {
	fmt.Fprintln(c.out, `
Haptic Console Commands:
  State:
    pos                - Show position
    ori                - Show orientation
    buttons            - Show button states
    stamp              - Show the last frame stamp

  Control:
    mode [cart|joint]  - Show or set the feedback mode
    max                - Show the feedback ceiling
    force <x> <y> <z>  - Send a feedback vector
    stop               - Zero feedback
    transform [16 v]   - Show or set the 4x4 transform (row-major)
    wave [seconds]     - Push max/3 along x, flipping sign every 2s

  Other:
    help               - Show this help
    quit               - Exit`)
}

func (c *console) printVector(get func() (haptic.Vector3, error)) error {
	v, err := get()
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%.6f %.6f %.6f\n", v[0], v[1], v[2])
	return nil
}

func (c *console) cmdButtons() error {
	b, err := c.dev.Buttons()
	if err != nil {
		return err
	}
	states := make([]string, len(b))
	for i := range b {
		if b.Pressed(i) {
			states[i] = "1"
		} else {
			states[i] = "0"
		}
	}
	fmt.Fprintf(c.out, "[%s]\n", strings.Join(states, " "))
	return nil
}

func (c *console) cmdMode(args []string) error {
	if len(args) == 0 {
		on, err := c.dev.IsCartesianForceModeEnabled()
		if err != nil {
			return err
		}
		mode := haptic.ModeJointTorque
		if on {
			mode = haptic.ModeCartesianForce
		}
		fmt.Fprintln(c.out, mode)
		return nil
	}
	switch strings.ToLower(args[0]) {
	case "cart", "cartesian":
		return c.dev.SetCartesianForceMode()
	case "joint":
		return c.dev.SetJointTorqueMode()
	default:
		return fmt.Errorf("unknown mode %q (cart or joint)", args[0])
	}
}

func parseFloats(args []string) ([]float64, error) {
	out := make([]float64, len(args))
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %q", a)
		}
		out[i] = v
	}
	return out, nil
}

func (c *console) cmdForce(args []string) error {
	v, err := parseFloats(args)
	if err != nil {
		return err
	}
	return c.dev.SetFeedback(v)
}

func (c *console) cmdTransform(args []string) error {
	if len(args) == 0 {
		t, err := c.dev.Transformation()
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "%v\n", mat.Formatted(t))
		return nil
	}
	v, err := parseFloats(args)
	if err != nil {
		return err
	}
	if len(v) != 16 {
		return fmt.Errorf("transform needs 16 values, got %d", len(v))
	}
	return c.dev.SetTransformation(mat.NewDense(4, 4, v))
}

// cmdWave pushes a third of the ceiling along x, flipping the sign every
// flip interval, then stops feedback.
func (c *console) cmdWave(ctx context.Context, args []string) error {
	duration := 10 * time.Second
	if len(args) > 0 {
		secs, err := strconv.ParseFloat(args[0], 64)
		if err != nil || secs <= 0 {
			return fmt.Errorf("bad duration %q", args[0])
		}
		duration = time.Duration(secs * float64(time.Second))
	}

	ceiling, err := c.dev.MaxFeedback()
	if err != nil {
		return err
	}
	amplitude := ceiling[0] / 3

	ticker := time.NewTicker(c.step)
	defer ticker.Stop()
	start := time.Now()
	deadline := time.NewTimer(duration)
	defer deadline.Stop()

	fmt.Fprintf(c.out, "wave: %.3f along x for %s\n", amplitude, duration)
	for {
		sign := 1.0
		if (time.Since(start)/c.flip)%2 == 1 {
			sign = -1
		}
		if err := c.dev.SetFeedback([]float64{sign * amplitude, 0, 0}); err != nil {
			_ = c.dev.StopFeedback()
			return err
		}
		select {
		case <-ctx.Done():
			return c.dev.StopFeedback()
		case <-deadline.C:
			return c.dev.StopFeedback()
		case <-ticker.C:
		}
	}
}
