package discovery

import (
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerTXTRoundTrip(t *testing.T) {
	info := &ServerInfo{ServerID: "bench-1", Devices: []string{"cam0", "stage0"}, TLS: true, Version: 1}

	strs := TXTRecordsToStrings(EncodeServerTXT(info))
	assert.Equal(t, []string{"devices=cam0,stage0", "id=bench-1", "tls=1", "ver=1"}, strs)

	got, err := DecodeServerTXT(StringsToTXTRecords(strs))
	require.NoError(t, err)
	assert.Equal(t, info, got)
}

func TestEncodeServerTXTTruncatesDevices(t *testing.T) {
	var devices []string
	for range 40 {
		devices = append(devices, "camera-"+strings.Repeat("x", 3))
	}
	txt := EncodeServerTXT(&ServerInfo{ServerID: "s", Devices: devices})

	entry := TXTKeyDevices + "=" + txt[TXTKeyDevices]
	assert.LessOrEqual(t, len(entry), maxTXTLen)
	assert.True(t, strings.HasPrefix(txt[TXTKeyDevices], "camera-xxx,camera-xxx"))
	assert.False(t, strings.HasSuffix(txt[TXTKeyDevices], ","))
}

func TestDecodeServerTXTErrors(t *testing.T) {
	tests := []struct {
		name    string
		txt     TXTRecordMap
		wantErr error
	}{
		{"missing id", TXTRecordMap{"devices": "a"}, ErrMissingRequired},
		{"empty id", TXTRecordMap{"id": ""}, ErrMissingRequired},
		{"bad tls", TXTRecordMap{"id": "s", "tls": "yes"}, ErrInvalidTXTRecord},
		{"bad version", TXTRecordMap{"id": "s", "ver": "300"}, ErrInvalidTXTRecord},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeServerTXT(tt.txt)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestStringsToTXTRecords(t *testing.T) {
	txt := StringsToTXTRecords([]string{"id=a=b", "flag", "", "=x"})
	assert.Equal(t, TXTRecordMap{"id": "a=b", "flag": ""}, txt)
}

func TestInstanceName(t *testing.T) {
	assert.Equal(t, "bench-1", InstanceName("bench-1"))
	assert.Len(t, InstanceName(strings.Repeat("a", 80)), MaxInstanceNameLen)
}

func TestNewService(t *testing.T) {
	svc := newService("bench-1", "bench.local.", 7421,
		[]string{"id=bench-1", "devices=cam0", "tls=0"},
		[]net.IP{net.ParseIP("192.168.1.20"), net.ParseIP("fe80::1")})
	require.NotNil(t, svc)
	assert.Equal(t, "bench-1", svc.ServerID)
	assert.Equal(t, []string{"cam0"}, svc.Devices)
	assert.Equal(t, uint16(7421), svc.ServerInfo.Port)
	assert.Equal(t, []string{"192.168.1.20", "fe80::1"}, svc.Addresses)
	assert.Equal(t, "192.168.1.20:7421", svc.Address())

	svc.Addresses = nil
	assert.Equal(t, "bench.local:7421", svc.Address())

	assert.Nil(t, newService("x", "h", 1, []string{"devices=a"}, nil), "no id")
}

func TestMergeAddresses(t *testing.T) {
	got := mergeAddresses([]string{"10.0.0.1"}, []string{"10.0.0.1", "10.0.0.2"})
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, got)
}
