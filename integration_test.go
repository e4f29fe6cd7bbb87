package labrig_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"io"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labrig/labrig-go/pkg/adapters/sim"
	"github.com/labrig/labrig-go/pkg/config"
	"github.com/labrig/labrig-go/pkg/device"
	"github.com/labrig/labrig-go/pkg/discovery"
	"github.com/labrig/labrig-go/pkg/host"
	"github.com/labrig/labrig-go/pkg/log"
	"github.com/labrig/labrig-go/pkg/model"
	"github.com/labrig/labrig-go/pkg/proxy"
	"github.com/labrig/labrig-go/pkg/registry"
	"github.com/labrig/labrig-go/pkg/transport"
	"github.com/labrig/labrig-go/pkg/trigger"
)

// bench is a host serving one simulated camera and stage.
type bench struct {
	host *host.Host
	cam  *sim.Camera
}

func startBench(t *testing.T, cfg *config.Config, plog log.Logger) *bench {
	t.Helper()
	b := &bench{}

	reg := registry.Builtin()
	require.NoError(t, reg.Register("test-camera", func(string, config.Params) (device.Adapter, error) {
		b.cam = sim.NewCamera(sim.CameraConfig{Width: 8, Height: 8, FrameInterval: 5 * time.Millisecond})
		return b.cam, nil
	}))

	cfg.Server.Listen = "127.0.0.1:0"
	cfg.Status.Enabled = false
	cfg.MQTT.Enabled = false
	cfg.Devices = []config.DeviceConfig{
		{ID: "cam0", Kind: "test-camera", BufferCapacity: 4},
		{ID: "stage0", Kind: registry.KindSimStage},
	}

	h, err := host.New(host.Options{Config: cfg, Registry: reg, ProtocolLogger: plog})
	require.NoError(t, err)
	require.NoError(t, h.Start(context.Background()))
	t.Cleanup(func() { h.Stop(context.Background()) })
	b.host = h
	return b
}

func plainConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.ID = "e2e"
	cfg.Discovery.Enabled = false
	return cfg
}

func dial(t *testing.T, b *bench, cfg proxy.Config) *proxy.Client {
	t.Helper()
	c, err := proxy.Dial(context.Background(), b.host.Server().Addr().String(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

// TestE2E_TLSAndCapture runs a TLS host configured from PEM files and
// checks the protocol capture it writes.
func TestE2E_TLSAndCapture(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := writeSelfSigned(t, dir)

	capturePath := filepath.Join(dir, "server.lrlog")
	capture, err := log.NewFileLogger(capturePath)
	require.NoError(t, err)

	cfg := plainConfig()
	cfg.Server.TLS = config.TLSConfig{CertFile: certFile, KeyFile: keyFile}
	b := startBench(t, cfg, capture)
	require.True(t, b.host.Server().TLSEnabled())

	clientTLS, err := transport.LoadTLSConfig("", "", certFile)
	require.NoError(t, err)
	clientTLS.ServerName = "localhost"
	c := dial(t, b, proxy.Config{ClientName: "e2e", TLS: clientTLS})

	ctx := context.Background()
	stage, err := c.Device("stage0")
	require.NoError(t, err)
	require.NoError(t, stage.MoveTo(ctx, map[string]float64{"x": 10}))
	pos, err := stage.Positions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10.0, pos["x"])

	require.NoError(t, c.Close())
	require.NoError(t, b.host.Stop(ctx))
	require.NoError(t, capture.Close())

	r, err := log.OpenReader(capturePath, log.Filter{DeviceID: "stage0"})
	require.NoError(t, err)
	defer r.Close()
	var n int
	for {
		_, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		n++
	}
	assert.Positive(t, n, "stage requests captured")
}

// TestE2E_UntrustedServerRejected checks that a client without the
// server's CA cannot connect.
func TestE2E_UntrustedServerRejected(t *testing.T) {
	certFile, keyFile := writeSelfSigned(t, t.TempDir())
	cfg := plainConfig()
	cfg.Server.TLS = config.TLSConfig{CertFile: certFile, KeyFile: keyFile}
	b := startBench(t, cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := proxy.Dial(ctx, b.host.Server().Addr().String(), proxy.Config{
		TLS: &transport.TLSConfig{ServerName: "localhost"},
	})
	assert.Error(t, err)
}

// TestE2E_SharedDevice drives one camera from two clients.
func TestE2E_SharedDevice(t *testing.T) {
	b := startBench(t, plainConfig(), nil)
	ctx := context.Background()

	alice, err := dial(t, b, proxy.Config{ClientName: "alice"}).Device("cam0")
	require.NoError(t, err)
	bob, err := dial(t, b, proxy.Config{ClientName: "bob"}).Device("cam0")
	require.NoError(t, err)

	require.NoError(t, alice.SetSetting(ctx, sim.SettingGain, 12))
	v, err := bob.GetSetting(ctx, sim.SettingGain)
	require.NoError(t, err)
	assert.Equal(t, int64(12), v)

	require.NoError(t, alice.Arm(ctx))
	assert.ErrorIs(t, bob.Arm(ctx), model.ErrAlreadyArmed)
	status, err := bob.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, trigger.StateArmed, status.State)

	require.NoError(t, bob.Trigger(ctx))
	f, err := alice.FetchFrame(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Len(t, f.Payload, 64)

	require.NoError(t, bob.Abort(ctx))
	status, err = alice.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, trigger.StateIdle, status.State)

	assert.Len(t, b.host.Server().Sessions(), 2)
}

// TestE2E_FaultAndReset loses the camera mid-acquisition and recovers it
// from a remote client.
func TestE2E_FaultAndReset(t *testing.T) {
	b := startBench(t, plainConfig(), nil)
	ctx := context.Background()

	cam, err := dial(t, b, proxy.Config{}).Device("cam0")
	require.NoError(t, err)
	require.NoError(t, cam.Arm(ctx))
	require.NoError(t, cam.Trigger(ctx))

	b.cam.InjectFault(sim.ErrOffline)
	require.Eventually(t, func() bool {
		s, err := cam.State(ctx)
		return err == nil && s.State == trigger.StateFaulted
	}, 2*time.Second, 10*time.Millisecond)

	assert.ErrorIs(t, cam.Arm(ctx), model.ErrDeviceFaulted)

	b.cam.SetOnline(false)
	assert.ErrorIs(t, cam.Reset(ctx), model.ErrResetFailed)

	b.cam.SetOnline(true)
	require.NoError(t, cam.Reset(ctx))
	require.NoError(t, cam.Arm(ctx))
}

// TestE2E_Discovery finds a host over mDNS and connects to it.
func TestE2E_Discovery(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping mDNS test in short mode")
	}
	cfg := plainConfig()
	cfg.Server.ID = "e2e-discovery"
	cfg.Discovery.Enabled = true
	b := startBench(t, cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	browser := discovery.NewMDNSBrowser(discovery.DefaultConfig())
	svc, err := browser.Find(ctx, "e2e-discovery")
	require.NoError(t, err)
	assert.Equal(t, []string{"cam0", "stage0"}, svc.Devices)
	assert.False(t, svc.TLS)

	_, port, err := net.SplitHostPort(b.host.Server().Addr().String())
	require.NoError(t, err)
	assert.Equal(t, port, portOf(t, svc.Address()))
}

func portOf(t *testing.T, addr string) string {
	t.Helper()
	_, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	return port
}

func writeSelfSigned(t *testing.T, dir string) (certFile, keyFile string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(7),
		Subject:               pkix.Name{CommonName: "labrig-e2e"},
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	certFile = filepath.Join(dir, "server.pem")
	keyFile = filepath.Join(dir, "server.key")
	require.NoError(t, os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))
	return certFile, keyFile
}
