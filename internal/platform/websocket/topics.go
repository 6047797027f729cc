package websocket

import "strings"

// TopicFloor carries every flow event on the floor.
const TopicFloor = "floor"

const (
	departmentPrefix = "department:"
	patientPrefix    = "patient:"
)

// DepartmentTopic is the topic for events in one clinical zone.
func DepartmentTopic(dept string) string { return departmentPrefix + dept }

// PatientTopic is the topic a patient's tracking page listens on. Tokens are
// matched case-insensitively.
func PatientTopic(token string) string { return patientPrefix + strings.ToUpper(token) }

// NormalizeTopic canonicalizes a topic requested by a client. It reports
// false for names outside the floor, department and patient families.
func NormalizeTopic(raw string) (string, bool) {
	t := strings.TrimSpace(raw)
	switch {
	case strings.EqualFold(t, TopicFloor):
		return TopicFloor, true
	case hasPrefixFold(t, departmentPrefix):
		dept := strings.TrimSpace(t[len(departmentPrefix):])
		if dept == "" {
			return "", false
		}
		return DepartmentTopic(titleCase(dept)), true
	case hasPrefixFold(t, patientPrefix):
		token := strings.TrimSpace(t[len(patientPrefix):])
		if token == "" {
			return "", false
		}
		return PatientTopic(token), true
	}
	return "", false
}

// retained reports whether the hub keeps the last event of topic for late
// subscribers. Tracking pages need the current state as soon as they connect.
func retained(topic string) bool {
	return strings.HasPrefix(topic, patientPrefix)
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

// titleCase matches the department names published by the flow service,
// e.g. "dilation" -> "Dilation".
func titleCase(s string) string {
	s = strings.ToLower(s)
	return strings.ToUpper(s[:1]) + s[1:]
}

func parseTopics(raw []string) (valid, rejected []string) {
	seen := make(map[string]bool, len(raw))
	for _, r := range raw {
		t, ok := NormalizeTopic(r)
		if !ok {
			if strings.TrimSpace(r) != "" {
				rejected = append(rejected, r)
			}
			continue
		}
		if !seen[t] {
			seen[t] = true
			valid = append(valid, t)
		}
	}
	return valid, rejected
}
