package chat

import (
	"encoding/json"
	"fmt"
)

// DecodeSessions parses the persisted sessions blob, an object keyed by
// session id. Records that fail validation are dropped and reported in
// rejected; only a blob that is not a JSON object returns err.
func DecodeSessions(data []byte) (sessions map[string]Session, rejected []error, err error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("decode sessions: %w", err)
	}

	sessions = make(map[string]Session, len(raw))
	for key, blob := range raw {
		var s Session
		if err := json.Unmarshal(blob, &s); err != nil {
			rejected = append(rejected, fmt.Errorf("%w: %s: %v", ErrInvalidSession, key, err))
			continue
		}
		if s.ID != key {
			rejected = append(rejected, fmt.Errorf("%w: key %q does not match id %q", ErrInvalidSession, key, s.ID))
			continue
		}
		if err := s.Validate(); err != nil {
			rejected = append(rejected, fmt.Errorf("%s: %w", key, err))
			continue
		}
		if s.Messages == nil {
			s.Messages = []Message{}
		}
		sessions[key] = s
	}
	return sessions, rejected, nil
}

// EncodeSessions writes sessions as an object keyed by id.
func EncodeSessions(sessions []Session) ([]byte, error) {
	byID := make(map[string]Session, len(sessions))
	for _, s := range sessions {
		byID[s.ID] = s
	}
	return json.Marshal(byID)
}
