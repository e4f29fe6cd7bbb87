package sim

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/labrig/labrig-go/pkg/device"
	"github.com/labrig/labrig-go/pkg/model"
)

// Value logger setting names.
const (
	SettingUpdatePeriod = "update period"
	SettingSensors      = "sensors"
)

// ValueLoggerConfig configures a simulated value logger.
type ValueLoggerConfig struct {
	// Sensors defaults to 1.
	Sensors int

	// UpdatePeriod is the initial time between readings (default 1s).
	UpdatePeriod time.Duration
}

// ValueLogger simulates a bank of temperature sensors. While acquiring it
// delivers one frame per update period holding one reading per sensor in
// degrees Celsius; decode it with DecodeReadings.
type ValueLogger struct {
	cfg ValueLoggerConfig

	mu        sync.Mutex
	sink      device.Sink
	online    bool
	period    float64
	rng       *rand.Rand
	acquiring bool
	stop      chan struct{}
	wg        sync.WaitGroup
}

var _ device.Adapter = (*ValueLogger)(nil)

func NewValueLogger(cfg ValueLoggerConfig) *ValueLogger {
	if cfg.Sensors <= 0 {
		cfg.Sensors = 1
	}
	if cfg.UpdatePeriod <= 0 {
		cfg.UpdatePeriod = time.Second
	}
	return &ValueLogger{
		cfg:    cfg,
		online: true,
		period: cfg.UpdatePeriod.Seconds(),
		rng:    rand.New(rand.NewPCG(uint64(cfg.Sensors), 0x76616c75)),
	}
}

func (v *ValueLogger) Describe() model.Description {
	lo, hi := model.Range(0.001, 3600)
	return model.Description{
		Kind:         "sim-valuelogger",
		Vendor:       "labrig",
		Model:        "SimThermo",
		Capabilities: model.CapSettings | model.CapTrigger | model.CapAcquisition,
		Settings: []model.SettingMetadata{
			{Name: SettingUpdatePeriod, Type: model.DataTypeFloat, Min: lo, Max: hi, Unit: "s", Default: v.cfg.UpdatePeriod.Seconds()},
			{Name: SettingSensors, Type: model.DataTypeInt, ReadOnly: true},
		},
	}
}

func (v *ValueLogger) Initialize(_ context.Context, sink device.Sink) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.online {
		return ErrOffline
	}
	v.sink = sink
	return nil
}

func (v *ValueLogger) Shutdown(context.Context) error {
	v.stopLogging()
	v.mu.Lock()
	v.sink = nil
	v.mu.Unlock()
	return nil
}

func (v *ValueLogger) ReadSetting(_ context.Context, name string) (any, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.online {
		return nil, ErrOffline
	}
	switch name {
	case SettingUpdatePeriod:
		return v.period, nil
	case SettingSensors:
		return int64(v.cfg.Sensors), nil
	}
	return nil, model.NewError(model.KindUnknownSetting, "unknown setting %q", name)
}

func (v *ValueLogger) WriteSetting(_ context.Context, name string, value any) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.online {
		return ErrOffline
	}
	if name != SettingUpdatePeriod {
		return model.NewError(model.KindUnknownSetting, "unknown setting %q", name)
	}
	v.period = value.(float64)
	return nil
}

func (v *ValueLogger) PrepareAcquisition(context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.online {
		return ErrOffline
	}
	return nil
}

// StartAcquisition starts the sampling goroutine.
func (v *ValueLogger) StartAcquisition(context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.online {
		return ErrOffline
	}
	if v.acquiring {
		return nil
	}
	v.acquiring = true
	v.stop = make(chan struct{})
	period := time.Duration(v.period * float64(time.Second))

	v.wg.Add(1)
	go v.sample(v.stop, period)
	return nil
}

func (v *ValueLogger) StopAcquisition(context.Context) error {
	v.stopLogging()
	return nil
}

// SetOnline simulates losing and regaining the sensor bus.
func (v *ValueLogger) SetOnline(online bool) {
	v.mu.Lock()
	v.online = online
	v.mu.Unlock()
}

func (v *ValueLogger) stopLogging() {
	v.mu.Lock()
	if !v.acquiring {
		v.mu.Unlock()
		return
	}
	v.acquiring = false
	close(v.stop)
	v.mu.Unlock()
	v.wg.Wait()
}

func (v *ValueLogger) sample(stop <-chan struct{}, period time.Duration) {
	defer v.wg.Done()
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			v.emit(now)
		}
	}
}

func (v *ValueLogger) emit(now time.Time) {
	v.mu.Lock()
	sink, online := v.sink, v.online
	readings := make([]float64, v.cfg.Sensors)
	for i := range readings {
		readings[i] = 19.5 + float64(i) + 5*math.Sin(float64(now.Unix())/100) + v.rng.Float64()
	}
	v.mu.Unlock()

	if sink == nil {
		return
	}
	if !online {
		sink.OnFault(ErrOffline)
		return
	}
	payload, err := cbor.Marshal(readings)
	if err != nil {
		sink.OnFault(fmt.Errorf("encode readings: %w", err))
		return
	}
	sink.OnFrameReady(payload, now, true)
}

// DecodeReadings decodes a value logger frame payload.
func DecodeReadings(payload []byte) ([]float64, error) {
	var readings []float64
	if err := cbor.Unmarshal(payload, &readings); err != nil {
		return nil, fmt.Errorf("decode readings: %w", err)
	}
	return readings, nil
}
