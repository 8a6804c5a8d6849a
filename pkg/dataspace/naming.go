package dataspace

import (
	"cmp"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"
)

// EventTimeLayout is the fixed-width UTC timestamp used in event resource
// names. Fixed width keeps lexicographic and chronological order equal.
const EventTimeLayout = "2006-01-02T15:04:05.000000000Z"

// EventExtension is the file extension of event resources.
const EventExtension = ".json"

// containerMarker is written when a log container is established.
const containerMarker = ".container"

// EventResourceName returns the resource name for an event written at t.
// attempt 0 yields the plain timestamp; later attempts add a zero-padded
// disambiguator.
func EventResourceName(container string, t time.Time, attempt int) string {
	name := t.UTC().Format(EventTimeLayout)
	if attempt > 0 {
		name = fmt.Sprintf("%s-%03d", name, attempt)
	}
	return strings.TrimSuffix(container, "/") + "/" + name + EventExtension
}

// ParseEventName extracts the timestamp from an event resource name.
func ParseEventName(resource string) (time.Time, bool) {
	t, _, ok := parseEventName(resource)
	return t, ok
}

// parseEventName returns the timestamp and collision attempt encoded in an
// event resource name. The plain name is attempt 0.
func parseEventName(resource string) (time.Time, int, bool) {
	base := strings.TrimSuffix(path.Base(resource), EventExtension)
	if len(base) < len(EventTimeLayout) {
		return time.Time{}, 0, false
	}
	t, err := time.Parse(EventTimeLayout, base[:len(EventTimeLayout)])
	if err != nil {
		return time.Time{}, 0, false
	}
	rest := base[len(EventTimeLayout):]
	if rest == "" {
		return t, 0, true
	}
	if rest[0] != '-' {
		return time.Time{}, 0, false
	}
	attempt, err := strconv.Atoi(rest[1:])
	if err != nil || attempt <= 0 {
		return time.Time{}, 0, false
	}
	return t, attempt, true
}

// CompareEventNames orders event resource names by timestamp, then by
// collision attempt. A suffixed name sorts after the plain name it collided
// with. Names that do not parse fall back to byte order.
func CompareEventNames(a, b string) int {
	ta, na, okA := parseEventName(a)
	tb, nb, okB := parseEventName(b)
	if !okA || !okB {
		return strings.Compare(a, b)
	}
	if c := ta.Compare(tb); c != 0 {
		return c
	}
	return cmp.Compare(na, nb)
}

// isEventResource reports whether resource is an event directly inside container.
func isEventResource(container, resource string) bool {
	prefix := strings.TrimSuffix(container, "/") + "/"
	if !strings.HasPrefix(resource, prefix) || !strings.HasSuffix(resource, EventExtension) {
		return false
	}
	if strings.Contains(resource[len(prefix):], "/") {
		return false
	}
	_, ok := ParseEventName(resource)
	return ok
}
