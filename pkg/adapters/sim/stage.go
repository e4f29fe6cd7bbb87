package sim

import (
	"context"
	"maps"
	"math"
	"sync"
	"time"

	"github.com/labrig/labrig-go/pkg/device"
	"github.com/labrig/labrig-go/pkg/model"
)

// SettingSpeed is the stage travel speed in units per second.
const SettingSpeed = "speed"

// StageConfig configures a simulated stage.
type StageConfig struct {
	// Axes defaults to x and y in [-25000, 25000] µm and z in [-5000, 5000] µm.
	Axes []model.AxisInfo

	// Travel makes moves take distance/speed instead of completing at once.
	Travel bool
}

// Stage is a simulated multi-axis stage.
type Stage struct {
	device.NoAcquisition

	cfg StageConfig

	mu        sync.Mutex
	online    bool
	speed     float64
	positions map[string]float64
}

var (
	_ device.Adapter   = (*Stage)(nil)
	_ device.AxisMover = (*Stage)(nil)
)

// NewStage creates a simulated stage with every axis at 0.
func NewStage(cfg StageConfig) *Stage {
	if len(cfg.Axes) == 0 {
		cfg.Axes = []model.AxisInfo{
			{Name: "x", Lower: -25000, Upper: 25000, Unit: "um"},
			{Name: "y", Lower: -25000, Upper: 25000, Unit: "um"},
			{Name: "z", Lower: -5000, Upper: 5000, Unit: "um"},
		}
	}
	positions := make(map[string]float64, len(cfg.Axes))
	for _, a := range cfg.Axes {
		positions[a.Name] = 0
	}
	return &Stage{cfg: cfg, online: true, speed: 1000, positions: positions}
}

// Describe reports the axes and the speed setting.
func (s *Stage) Describe() model.Description {
	lo, hi := model.Range(1, 100000)
	return model.Description{
		Kind:         "sim-stage",
		Vendor:       "labrig",
		Model:        "SimStage",
		Capabilities: model.CapSettings | model.CapMovableAxis,
		Settings: []model.SettingMetadata{
			{Name: SettingSpeed, Type: model.DataTypeFloat, Min: lo, Max: hi, Unit: "um/s", Default: 1000.0},
		},
		Axes: append([]model.AxisInfo(nil), s.cfg.Axes...),
	}
}

func (s *Stage) Initialize(context.Context, device.Sink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.online {
		return ErrOffline
	}
	return nil
}

func (s *Stage) Shutdown(context.Context) error { return nil }

func (s *Stage) ReadSetting(_ context.Context, name string) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.online {
		return nil, ErrOffline
	}
	if name != SettingSpeed {
		return nil, model.NewError(model.KindUnknownSetting, "unknown setting %q", name)
	}
	return s.speed, nil
}

func (s *Stage) WriteSetting(_ context.Context, name string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.online {
		return ErrOffline
	}
	if name != SettingSpeed {
		return model.NewError(model.KindUnknownSetting, "unknown setting %q", name)
	}
	s.speed = value.(float64)
	return nil
}

// MoveTo moves all named axes at once and returns when the longest move
// has finished. A canceled move leaves the axes where they were.
func (s *Stage) MoveTo(ctx context.Context, targets map[string]float64) error {
	s.mu.Lock()
	if !s.online {
		s.mu.Unlock()
		return ErrOffline
	}
	var longest float64
	for name, target := range targets {
		pos, ok := s.positions[name]
		if !ok {
			s.mu.Unlock()
			return model.NewError(model.KindInvalidValue, "unknown axis %q", name)
		}
		longest = math.Max(longest, math.Abs(target-pos))
	}
	travel := time.Duration(longest / s.speed * float64(time.Second))
	s.mu.Unlock()

	if s.cfg.Travel && travel > 0 {
		t := time.NewTimer(travel)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return model.FromContext(ctx.Err(), "move")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	maps.Copy(s.positions, targets)
	return nil
}

func (s *Stage) Positions(context.Context) (map[string]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.online {
		return nil, ErrOffline
	}
	return maps.Clone(s.positions), nil
}

// SetOnline simulates losing and regaining the connection to the stage.
func (s *Stage) SetOnline(online bool) {
	s.mu.Lock()
	s.online = online
	s.mu.Unlock()
}
