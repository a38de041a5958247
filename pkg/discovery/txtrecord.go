package discovery

import (
	"fmt"
	"strconv"
	"strings"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// EncodeAdapterTXT creates TXT records for an adapter advertisement.
func EncodeAdapterTXT(info *AdapterInfo) TXTRecordMap {
	txt := make(TXTRecordMap)

	txt[TXTKeyAdapterID] = info.ID
	txt[TXTKeyChannels] = strconv.Itoa(info.Channels)
	txt[TXTKeyProfile] = info.Profile

	if info.Description != "" {
		txt[TXTKeyDescription] = info.Description
	}

	return txt
}

// DecodeAdapterTXT parses the TXT records of an adapter advertisement.
func DecodeAdapterTXT(txt TXTRecordMap) (*AdapterInfo, error) {
	info := &AdapterInfo{}

	var ok bool
	info.ID, ok = txt[TXTKeyAdapterID]
	if !ok || info.ID == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyAdapterID)
	}

	chStr, ok := txt[TXTKeyChannels]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyChannels)
	}
	ch, err := strconv.Atoi(chStr)
	if err != nil || ch < 1 {
		return nil, fmt.Errorf("%w: bad channel count %q", ErrInvalidTXTRecord, chStr)
	}
	info.Channels = ch

	info.Profile, ok = txt[TXTKeyProfile]
	if !ok || info.Profile == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyProfile)
	}

	info.Description = txt[TXTKeyDescription]

	return info, nil
}

// TXTRecordsToStrings converts a record map to "key=value" strings.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	out := make([]string, 0, len(txt))
	for k, v := range txt {
		out = append(out, k+"="+v)
	}
	return out
}

// StringsToTXTRecords parses "key=value" strings into a record map.
// Entries without a '=' are ignored.
func StringsToTXTRecords(records []string) TXTRecordMap {
	txt := make(TXTRecordMap, len(records))
	for _, r := range records {
		k, v, found := strings.Cut(r, "=")
		if !found || k == "" {
			continue
		}
		txt[k] = v
	}
	return txt
}
