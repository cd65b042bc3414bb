package commands

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/hay-kot/courier/internal/core/conversation"
	"github.com/hay-kot/courier/internal/core/message"
	"github.com/hay-kot/courier/internal/courier"
)

// describePart renders a message part as a single line of text.
func describePart(part message.Part) string {
	switch part.MIMEType {
	case message.MIMEText:
		return string(part.Data)
	case message.MIMELocation:
		coord, _, err := courier.DecodeLocation(part)
		if err != nil {
			return "[invalid location]"
		}
		return fmt.Sprintf("[location %g,%g]", coord.Lat, coord.Lon)
	case message.MIMEDate:
		var t time.Time
		if err := t.UnmarshalText(part.Data); err != nil {
			return "[invalid date]"
		}
		return "[date " + t.Format(time.RFC3339) + "]"
	default:
		return fmt.Sprintf("[%s, %d bytes]", part.MIMEType, len(part.Data))
	}
}

// describeMessage joins the rendered parts of msg.
func describeMessage(msg message.Message) string {
	parts := make([]string, 0, len(msg.Parts))
	for _, p := range msg.Parts {
		parts = append(parts, describePart(p))
	}
	return strings.Join(parts, " ")
}

// parseCoordinate parses "lat,lon".
func parseCoordinate(s string) (courier.Coordinate, error) {
	latStr, lonStr, ok := strings.Cut(s, ",")
	if !ok {
		return courier.Coordinate{}, fmt.Errorf("invalid location %q, expected lat,lon", s)
	}

	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return courier.Coordinate{}, fmt.Errorf("invalid latitude %q: %w", latStr, err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(lonStr), 64)
	if err != nil {
		return courier.Coordinate{}, fmt.Errorf("invalid longitude %q: %w", lonStr, err)
	}

	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return courier.Coordinate{}, fmt.Errorf("location %q out of range", s)
	}
	return courier.Coordinate{Lat: lat, Lon: lon}, nil
}

// parseDate parses an RFC 3339 timestamp or the literal "now".
func parseDate(s string, now time.Time) (time.Time, error) {
	if s == "now" {
		return now, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected RFC 3339 or \"now\": %w", s, err)
	}
	return t, nil
}

// parseMetadata parses key=value pairs.
func parseMetadata(pairs []string) (map[string]string, error) {
	meta := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid metadata %q, expected key=value", pair)
		}
		meta[key] = value
	}
	return meta, nil
}

// matchParticipants reports whether any participant matches pattern. An
// empty pattern matches everything.
func matchParticipants(pattern string, participants conversation.Participants) (bool, error) {
	if pattern == "" {
		return true, nil
	}
	if !doublestar.ValidatePattern(pattern) {
		return false, fmt.Errorf("invalid match pattern %q", pattern)
	}

	for _, p := range participants {
		if ok, _ := doublestar.Match(pattern, p); ok {
			return true, nil
		}
	}
	return false, nil
}

// shortTime formats t for tables, or "-" when unset.
func shortTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}
