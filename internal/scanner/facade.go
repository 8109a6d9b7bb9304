package scanner

import (
	"context"
	"fmt"
	"slices"

	"github.com/banshee-data/barcode.scanner/internal/monitoring"
)

// Apply validates opcode/value against the property table and sends it.
// Baud rate changes go through SetBaudRate so the transport follows.
func (s *Session) Apply(ctx context.Context, opcode, value string) error {
	if err := ValidateCommand(opcode, value); err != nil {
		return err
	}
	if opcode == OpBaudRate {
		bps, _ := BaudFromCode(value)
		return s.SetBaudRate(ctx, bps)
	}
	if opcode == OpGetVersion {
		return s.QueryVersion(ctx)
	}
	return s.SendCommand(ctx, opcode, value)
}

func (s *Session) StartScan(ctx context.Context) error {
	return s.SendCommand(ctx, OpStartScan, "")
}

func (s *Session) StopScan(ctx context.Context) error {
	return s.SendCommand(ctx, OpStopScan, "")
}

// FactoryDefault restores the factory configuration, including the baud rate.
func (s *Session) FactoryDefault(ctx context.Context) error {
	return s.SendCommand(ctx, OpFactoryDefault, "")
}

// QueryVersion sends the firmware version query with the longer version timeout.
func (s *Session) QueryVersion(ctx context.Context) error {
	return s.sendWithTimeout(ctx, NewCommand(OpGetVersion, ""), s.opts.VersionTimeout)
}

// ChangeBuzzerTone selects the buzzer drive mode, 0 (active) to 3 (passive high).
func (s *Session) ChangeBuzzerTone(ctx context.Context, mode int) error {
	if mode < 0 || mode > 3 {
		return fmt.Errorf("%w: buzzer mode %d", ErrInvalidArgument, mode)
	}
	return s.SendCommand(ctx, OpBuzzerFrequency, intArg(mode))
}

func (s *Session) EnableDecodeBeep(ctx context.Context) error {
	return s.SendCommand(ctx, OpDecodeBeep, "1")
}

func (s *Session) DisableDecodeBeep(ctx context.Context) error {
	return s.SendCommand(ctx, OpDecodeBeep, "0")
}

func (s *Session) EnableBootBeep(ctx context.Context) error {
	return s.SendCommand(ctx, OpBootBeep, "1")
}

func (s *Session) DisableBootBeep(ctx context.Context) error {
	return s.SendCommand(ctx, OpBootBeep, "0")
}

func (s *Session) LightOn(ctx context.Context) error {
	return s.SendCommand(ctx, OpFlashLight, "1")
}

func (s *Session) LightOff(ctx context.Context) error {
	return s.SendCommand(ctx, OpFlashLight, "0")
}

func (s *Session) ReticleOn(ctx context.Context) error {
	return s.SendCommand(ctx, OpAimLight, "1")
}

func (s *Session) ReticleOff(ctx context.Context) error {
	return s.SendCommand(ctx, OpAimLight, "0")
}

// ChangeReadingArea limits decoding to the central percent of the image:
// 100, 80, 60, 40 or 20.
func (s *Session) ChangeReadingArea(ctx context.Context, percent int) error {
	code, ok := readingAreaCodes[percent]
	if !ok {
		return fmt.Errorf("%w: reading area %d%%", ErrInvalidArgument, percent)
	}
	return s.SendCommand(ctx, OpReadingArea, code)
}

func (s *Session) EnableImageFlipping(ctx context.Context) error {
	return s.SendCommand(ctx, OpMirrorFlip, "1")
}

func (s *Session) DisableImageFlipping(ctx context.Context) error {
	return s.SendCommand(ctx, OpMirrorFlip, "0")
}

// SetBaudRate tells the peripheral to switch to bps. On Ack the transport is
// reconfigured to match and bps becomes the target rate for IsConnected.
func (s *Session) SetBaudRate(ctx context.Context, bps int) error {
	code, ok := BaudCode(bps)
	if !ok {
		return fmt.Errorf("%w: baud rate %d", ErrInvalidArgument, bps)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.sendLocked(ctx, NewCommand(OpBaudRate, code), s.opts.CommandTimeout); err != nil {
		return err
	}
	if err := s.transport.SetBaudRate(bps); err != nil {
		return fmt.Errorf("reconfigure transport to %d bps: %w", bps, err)
	}
	s.targetBaud = bps
	monitoring.Logf("scanner baud rate set to %d bps", bps)
	return nil
}

func (s *Session) EnableManualTrigger(ctx context.Context) error {
	return s.SendCommand(ctx, OpReadingMode, ReadingModeManual)
}

// EnableContinuousRead switches to continuous reading with the given output
// interval: 0 once, 1 no interval, 2 every 0.5s, 3 every 1s.
func (s *Session) EnableContinuousRead(ctx context.Context, interval int) error {
	if interval < 0 || interval > 3 {
		return fmt.Errorf("%w: continuous interval %d", ErrInvalidArgument, interval)
	}
	if err := s.SendCommand(ctx, OpReadingMode, ReadingModeContinuous); err != nil {
		return err
	}
	return s.SendCommand(ctx, OpContinuousInterval, intArg(interval))
}

// EnableMotionSense switches to motion-triggered reading. Lower sensitivity
// values react to smaller changes: 15, 20, 30, 50 or 100.
func (s *Session) EnableMotionSense(ctx context.Context, sensitivity int) error {
	if !slices.Contains(motionSensitivities, sensitivity) {
		return fmt.Errorf("%w: motion sensitivity %d", ErrInvalidArgument, sensitivity)
	}
	if err := s.SendCommand(ctx, OpReadingMode, ReadingModeMotion); err != nil {
		return err
	}
	return s.SendCommand(ctx, OpMotionSensitivity, intArg(sensitivity))
}

// DisableMotionSense returns to manual trigger mode.
func (s *Session) DisableMotionSense(ctx context.Context) error {
	return s.EnableManualTrigger(ctx)
}

func (s *Session) EnableTransferCodeID(ctx context.Context) error {
	return s.SendCommand(ctx, OpTransferCodeID, "1")
}

func (s *Session) DisableTransferCodeID(ctx context.Context) error {
	return s.SendCommand(ctx, OpTransferCodeID, "0")
}

func (s *Session) EnableAll1D(ctx context.Context) error {
	return s.SendCommand(ctx, OpEnableAll1D, "")
}

func (s *Session) DisableAll1D(ctx context.Context) error {
	return s.SendCommand(ctx, OpDisableAll1D, "")
}

func (s *Session) EnableAll2D(ctx context.Context) error {
	return s.SendCommand(ctx, OpEnableAll2D, "")
}

func (s *Session) DisableAll2D(ctx context.Context) error {
	return s.SendCommand(ctx, OpDisableAll2D, "")
}
