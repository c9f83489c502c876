package store

import "github.com/zhouzirui/abby/backend/internal/model/chat"

// MergeSessions combines local and remote sessions by id. The newer
// timestamp wins and remote wins ties. The result is most recent first.
func MergeSessions(local, remote []chat.Session) []chat.Session {
	byID := make(map[string]chat.Session, len(local)+len(remote))
	for _, s := range local {
		byID[s.ID] = s.Clone()
	}
	for _, s := range remote {
		if cur, ok := byID[s.ID]; ok && cur.Timestamp > s.Timestamp {
			continue
		}
		byID[s.ID] = s.Clone()
	}

	out := make([]chat.Session, 0, len(byID))
	for _, s := range byID {
		out = append(out, s)
	}
	chat.SortSessions(out)
	return out
}
