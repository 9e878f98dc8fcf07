package btcpeg

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// MarshalJSON encodes an Address as a hex string rather than a JSON
// array of 33 numbers.
func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(a[:]))
}

func (a *Address) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	if len(raw) != 33 {
		return fmt.Errorf("btcpeg: address must be 33 bytes, got %d", len(raw))
	}
	copy(a[:], raw)
	return nil
}

// MarshalJSON encodes a Signature as a hex string.
func (s Signature) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(s[:]))
}

func (s *Signature) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return err
	}
	raw, err := hex.DecodeString(str)
	if err != nil {
		return err
	}
	if len(raw) != 64 {
		return fmt.Errorf("btcpeg: signature must be 64 bytes, got %d", len(raw))
	}
	copy(s[:], raw)
	return nil
}
