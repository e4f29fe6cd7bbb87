package discovery

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// EncodeServerTXT creates the TXT records of a device server. The device
// list is cut at the last handle that still fits one TXT string.
func EncodeServerTXT(info *ServerInfo) TXTRecordMap {
	txt := TXTRecordMap{
		TXTKeyServerID: info.ServerID,
		TXTKeyTLS:      "0",
	}
	if info.TLS {
		txt[TXTKeyTLS] = "1"
	}
	if info.Version > 0 {
		txt[TXTKeyVersion] = strconv.FormatUint(uint64(info.Version), 10)
	}

	budget := maxTXTLen - len(TXTKeyDevices) - 1
	var devices []string
	for _, id := range info.Devices {
		need := len(id)
		if len(devices) > 0 {
			need++
		}
		if need > budget {
			break
		}
		budget -= need
		devices = append(devices, id)
	}
	txt[TXTKeyDevices] = strings.Join(devices, ",")
	return txt
}

// DecodeServerTXT parses the TXT records of a device server.
func DecodeServerTXT(txt TXTRecordMap) (*ServerInfo, error) {
	info := &ServerInfo{}

	var ok bool
	info.ServerID, ok = txt[TXTKeyServerID]
	if !ok || info.ServerID == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyServerID)
	}

	switch txt[TXTKeyTLS] {
	case "", "0":
	case "1":
		info.TLS = true
	default:
		return nil, fmt.Errorf("%w: tls=%q", ErrInvalidTXTRecord, txt[TXTKeyTLS])
	}

	if v, ok := txt[TXTKeyVersion]; ok {
		n, err := strconv.ParseUint(v, 10, 8)
		if err != nil {
			return nil, fmt.Errorf("%w: ver=%q", ErrInvalidTXTRecord, v)
		}
		info.Version = uint8(n)
	}

	for _, id := range strings.Split(txt[TXTKeyDevices], ",") {
		if id = strings.TrimSpace(id); id != "" {
			info.Devices = append(info.Devices, id)
		}
	}
	return info, nil
}

// TXTRecordsToStrings converts a TXTRecordMap to sorted "key=value" strings.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	result := make([]string, 0, len(txt))
	for k, v := range txt {
		result = append(result, k+"="+v)
	}
	sort.Strings(result)
	return result
}

// StringsToTXTRecords parses "key=value" strings into a TXTRecordMap.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap)
	for _, s := range strs {
		k, v, _ := strings.Cut(s, "=")
		if k != "" {
			txt[k] = v
		}
	}
	return txt
}

// InstanceName returns the mDNS instance name for a server ID.
func InstanceName(serverID string) string {
	if len(serverID) > MaxInstanceNameLen {
		return serverID[:MaxInstanceNameLen]
	}
	return serverID
}

func joinHostPort(host string, port uint16) string {
	return net.JoinHostPort(strings.TrimSuffix(host, "."), strconv.Itoa(int(port)))
}
