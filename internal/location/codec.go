package location

import (
	"encoding/json"
	"fmt"
)

// Encode validates u and serializes it for the broker.
func Encode(u Update) ([]byte, error) {
	if err := u.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(u)
	if err != nil {
		return nil, fmt.Errorf("marshal location update: %w", err)
	}
	return data, nil
}

// Decode parses a broker payload and validates the result.
func Decode(data []byte) (Update, error) {
	var u Update
	if err := json.Unmarshal(data, &u); err != nil {
		return Update{}, fmt.Errorf("unmarshal location update: %w", err)
	}
	if err := u.Validate(); err != nil {
		return Update{}, err
	}
	return u, nil
}
