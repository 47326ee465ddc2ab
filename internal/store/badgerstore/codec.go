package badgerstore

import (
	"encoding/json"
	"fmt"
	"strconv"
)

func marshal(v any) ([]byte, error) { return json.Marshal(v) }

func unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode value: %w", err)
	}
	return nil
}

func encodeVersion(v uint32) []byte { return strconv.AppendUint(nil, uint64(v), 10) }

func decodeVersion(b []byte) (uint32, error) {
	n, err := strconv.ParseUint(string(b), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("decode stream version %q: %w", b, err)
	}
	return uint32(n), nil
}
