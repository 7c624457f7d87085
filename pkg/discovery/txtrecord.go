package discovery

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// EncodeServerTXT builds the TXT records advertised by a control server.
func EncodeServerTXT(info ServerInfo) TXTRecordMap {
	txt := TXTRecordMap{
		TXTKeyVersion: ProtocolVersion,
		TXTKeyState:   info.StateChannel,
		TXTKeyRPC:     info.RPCChannel,
	}
	if info.FeedbackChannel != "" {
		txt[TXTKeyFeedback] = info.FeedbackChannel
	}
	if info.Period > 0 {
		txt[TXTKeyPeriod] = strconv.FormatInt(info.Period.Milliseconds(), 10)
	}
	return txt
}

// DecodeServerTXT parses TXT records advertised by a control server.
func DecodeServerTXT(txt TXTRecordMap) (ServerInfo, error) {
	var info ServerInfo
	var ok bool

	if _, ok = txt[TXTKeyVersion]; !ok {
		return info, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyVersion)
	}
	if info.StateChannel, ok = txt[TXTKeyState]; !ok {
		return info, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyState)
	}
	if info.RPCChannel, ok = txt[TXTKeyRPC]; !ok {
		return info, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyRPC)
	}
	info.FeedbackChannel = txt[TXTKeyFeedback]

	if per, ok := txt[TXTKeyPeriod]; ok {
		ms, err := strconv.ParseUint(per, 10, 32)
		if err != nil {
			return info, fmt.Errorf("%w: period %q", ErrInvalidTXTRecord, per)
		}
		info.Period = time.Duration(ms) * time.Millisecond
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

// StringsToTXTRecords parses "key=value" strings. A bare key maps to "".
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap, len(strs))
	for _, s := range strs {
		k, v, found := strings.Cut(s, "=")
		if k == "" {
			continue
		}
		if found {
			txt[k] = v
		} else {
			txt[k] = ""
		}
	}
	return txt
}

// InstanceName turns a server name such as "/hapticdevice" into an mDNS instance name.
func InstanceName(name string) (string, error) {
	inst := strings.Trim(name, "/")
	if inst == "" {
		return "", fmt.Errorf("%w: empty name", ErrInstanceNameTooLong)
	}
	if len(inst) > MaxInstanceNameLen {
		return "", fmt.Errorf("%w: %d > %d", ErrInstanceNameTooLong, len(inst), MaxInstanceNameLen)
	}
	return inst, nil
}
