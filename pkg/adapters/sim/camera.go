package sim

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/labrig/labrig-go/pkg/device"
	"github.com/labrig/labrig-go/pkg/model"
)

// Camera setting names.
const (
	SettingExposure    = "exposure time"
	SettingGain        = "gain"
	SettingTriggerType = "trigger type"
	SettingPattern     = "pattern"
	SettingTemperature = "sensor temperature"
)

// Trigger types. In software mode the camera streams frames once
// triggered; in the edge modes it captures one frame per Pulse.
const (
	TriggerSoftware    = "software"
	TriggerRisingEdge  = "rising edge"
	TriggerFallingEdge = "falling edge"
)

// Image patterns.
const (
	PatternGradient     = "gradient"
	PatternCheckerboard = "checkerboard"
	PatternNoise        = "noise"
	PatternBlank        = "blank"
)

// ErrOffline is returned by every call while the camera is offline.
var ErrOffline = errors.New("sim: device not responding")

// CameraConfig configures a simulated camera.
type CameraConfig struct {
	Width  int
	Height int

	// FrameInterval is the time between streamed frames. Zero uses the
	// exposure time.
	FrameInterval time.Duration

	SerialNumber string
}

// Camera is a simulated camera producing synthetic images.
type Camera struct {
	cfg CameraConfig

	mu          sync.Mutex
	sink        device.Sink
	online      bool
	exposure    float64
	gain        int64
	triggerType string
	pattern     string
	sent        uint64
	acquiring   bool
	stop        chan struct{}
	pulses      chan struct{}
	wg          sync.WaitGroup
}

var _ device.Adapter = (*Camera)(nil)

// NewCamera creates a simulated camera.
func NewCamera(cfg CameraConfig) *Camera {
	if cfg.Width <= 0 {
		cfg.Width = 64
	}
	if cfg.Height <= 0 {
		cfg.Height = 48
	}
	return &Camera{
		cfg:         cfg,
		online:      true,
		exposure:    0.01,
		triggerType: TriggerSoftware,
		pattern:     PatternGradient,
	}
}

// Describe reports the camera capabilities and settings.
func (c *Camera) Describe() model.Description {
	expMin, expMax := model.Range(0.001, 10)
	gainMin, gainMax := model.Range(0, 100)
	return model.Description{
		Kind:         "sim-camera",
		Vendor:       "labrig",
		Model:        "SimCam",
		SerialNumber: c.cfg.SerialNumber,
		Capabilities: model.CapCamera,
		Settings: []model.SettingMetadata{
			{Name: SettingExposure, Type: model.DataTypeFloat, Min: expMin, Max: expMax, Unit: "s", Default: 0.01},
			{Name: SettingGain, Type: model.DataTypeInt, Min: gainMin, Max: gainMax, Default: int64(0)},
			{Name: SettingTriggerType, Type: model.DataTypeEnum, Values: []string{TriggerSoftware, TriggerRisingEdge, TriggerFallingEdge}, Default: TriggerSoftware},
			{Name: SettingPattern, Type: model.DataTypeEnum, Values: []string{PatternGradient, PatternCheckerboard, PatternNoise, PatternBlank}, Default: PatternGradient},
			{Name: SettingTemperature, Type: model.DataTypeFloat, ReadOnly: true, Unit: "C"},
		},
	}
}

func (c *Camera) Initialize(_ context.Context, sink device.Sink) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.online {
		return ErrOffline
	}
	c.sink = sink
	c.sent = 0
	return nil
}

func (c *Camera) Shutdown(context.Context) error {
	c.stopStream()
	c.mu.Lock()
	c.sink = nil
	c.mu.Unlock()
	return nil
}

func (c *Camera) ReadSetting(_ context.Context, name string) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.online {
		return nil, ErrOffline
	}
	switch name {
	case SettingExposure:
		return c.exposure, nil
	case SettingGain:
		return c.gain, nil
	case SettingTriggerType:
		return c.triggerType, nil
	case SettingPattern:
		return c.pattern, nil
	case SettingTemperature:
		return 20 + float64(c.gain)/20, nil
	}
	return nil, model.NewError(model.KindUnknownSetting, "unknown setting %q", name)
}

func (c *Camera) WriteSetting(_ context.Context, name string, value any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.online {
		return ErrOffline
	}
	switch name {
	case SettingExposure:
		c.exposure = value.(float64)
	case SettingGain:
		c.gain = value.(int64)
	case SettingTriggerType:
		c.triggerType = value.(string)
	case SettingPattern:
		c.pattern = value.(string)
	default:
		return model.NewError(model.KindUnknownSetting, "unknown setting %q", name)
	}
	return nil
}

func (c *Camera) PrepareAcquisition(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.online {
		return ErrOffline
	}
	return nil
}

// StartAcquisition starts the capture goroutine.
func (c *Camera) StartAcquisition(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.online {
		return ErrOffline
	}
	if c.acquiring {
		return nil
	}
	c.acquiring = true
	c.stop = make(chan struct{})
	c.pulses = make(chan struct{}, 16)

	interval := c.cfg.FrameInterval
	if interval <= 0 {
		interval = time.Duration(c.exposure * float64(time.Second))
	}
	streaming := c.triggerType == TriggerSoftware

	c.wg.Add(1)
	go c.capture(c.stop, c.pulses, streaming, interval)
	return nil
}

func (c *Camera) StopAcquisition(context.Context) error {
	c.stopStream()
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.online {
		return ErrOffline
	}
	return nil
}

// Pulse simulates a hardware trigger edge. It returns false unless the
// camera is acquiring in one of the edge modes.
func (c *Camera) Pulse() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.acquiring || c.triggerType == TriggerSoftware {
		return false
	}
	select {
	case c.pulses <- struct{}{}:
		return true
	default:
		return false
	}
}

// SetOnline simulates losing and regaining the connection to the camera.
// While offline every adapter call fails and no frames are produced.
func (c *Camera) SetOnline(online bool) {
	c.mu.Lock()
	c.online = online
	c.mu.Unlock()
}

// InjectFault reports an unrecoverable hardware error to the device.
func (c *Camera) InjectFault(cause error) {
	c.mu.Lock()
	sink := c.sink
	c.mu.Unlock()
	if sink != nil {
		sink.OnFault(cause)
	}
}

func (c *Camera) stopStream() {
	c.mu.Lock()
	if !c.acquiring {
		c.mu.Unlock()
		return
	}
	c.acquiring = false
	close(c.stop)
	c.mu.Unlock()
	c.wg.Wait()
}

func (c *Camera) capture(stop <-chan struct{}, pulses <-chan struct{}, streaming bool, interval time.Duration) {
	defer c.wg.Done()

	var tick <-chan time.Time
	if streaming {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-stop:
			return
		case <-tick:
		case <-pulses:
		}
		c.emit()
	}
}

func (c *Camera) emit() {
	c.mu.Lock()
	if !c.online || c.sink == nil {
		c.mu.Unlock()
		return
	}
	sink, pattern, index := c.sink, c.pattern, c.sent
	c.sent++
	c.mu.Unlock()

	sink.OnFrameReady(render(pattern, c.cfg.Width, c.cfg.Height, index), time.Now(), true)
}

// render draws one 8-bit grayscale image. index moves the pattern between
// frames so consecutive frames differ.
func render(pattern string, width, height int, index uint64) []byte {
	img := make([]byte, width*height)
	shift := int(index % 256)
	switch pattern {
	case PatternGradient:
		for y := range height {
			for x := range width {
				img[y*width+x] = byte((x + y + shift) % 256)
			}
		}
	case PatternCheckerboard:
		const square = 8
		for y := range height {
			for x := range width {
				if ((x+shift)/square+y/square)%2 == 0 {
					img[y*width+x] = 255
				}
			}
		}
	case PatternNoise:
		r := rand.New(rand.NewPCG(index, 0x6c616272))
		for i := range img {
			img[i] = byte(r.UintN(256))
		}
	}
	return img
}
