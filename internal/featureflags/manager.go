// Package featureflags evaluates FEATURE_FLAGS for a user.
package featureflags

import (
	"hash/fnv"
	"strconv"
	"strings"
)

// Known flags.
const (
	// MediaUpload gates POST /api/messages/upload.
	MediaUpload = "media_upload"
)

// defaults apply when FEATURE_FLAGS does not mention a known flag.
var defaults = map[string]string{
	MediaUpload: "on",
}

// Manager evaluates feature flags defined in a key=value list, e.g.
// "media_upload=on,new_composer=25%,legacy_ui=off".
type Manager struct {
	flags map[string]string
}

// NewManager parses raw, layering it over the built-in defaults. Malformed
// entries are skipped.
func NewManager(raw string) *Manager {
	out := make(map[string]string, len(defaults))
	for k, v := range defaults {
		out[k] = v
	}

	for _, pair := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		key, value = normalize(key), normalize(value)
		if key == "" || value == "" {
			continue
		}
		out[key] = value
	}

	return &Manager{flags: out}
}

// Enabled reports whether name is on for userID. Values are on/true/1,
// off/false/0, or N% for a stable per-user rollout. Unknown flags are off.
func (m *Manager) Enabled(name string, userID uint) bool {
	if m == nil {
		return false
	}

	value, ok := m.flags[normalize(name)]
	if !ok {
		return false
	}

	switch value {
	case "on", "true", "1":
		return true
	case "off", "false", "0":
		return false
	}

	pct, ok := parsePercent(value)
	switch {
	case !ok || pct <= 0:
		return false
	case pct >= 100:
		return true
	case userID == 0:
		return false
	}
	return rolloutBucket(name, userID) < pct
}

func parsePercent(value string) (int, bool) {
	raw, ok := strings.CutSuffix(value, "%")
	if !ok {
		return 0, false
	}
	pct, err := strconv.Atoi(raw)
	return pct, err == nil
}

// Raw returns a copy of the effective flag values.
func (m *Manager) Raw() map[string]string {
	out := make(map[string]string, len(m.flags))
	for k, v := range m.flags {
		out[k] = v
	}
	return out
}

// Snapshot returns evaluated flag status for one user.
func (m *Manager) Snapshot(userID uint) map[string]bool {
	out := make(map[string]bool, len(m.flags))
	for name := range m.flags {
		out[name] = m.Enabled(name, userID)
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func rolloutBucket(name string, userID uint) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(normalize(name) + ":" + strconv.FormatUint(uint64(userID), 10)))
	return int(h.Sum32() % 100)
}
