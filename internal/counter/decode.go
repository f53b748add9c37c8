package counter

import (
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/bhandras/livecount/internal/protocol/wire"
)

// DecodeCount extracts the count carried by a change event.
//
// Only the first application event is looked at. Its data is a list of
// character codes forming a base-10 integer; text that does not parse yields
// 0. ok is false when the event has no application events or the first one
// does not carry an array, in which case the event is not applied.
func DecodeCount(ev wire.NodeEvent) (count int64, ok bool) {
	count, ok, _ = decodeEvent(ev)
	return count, ok
}

// decodeEvent is DecodeCount that also reports why a payload was coerced.
func decodeEvent(ev wire.NodeEvent) (int64, bool, error) {
	events := ev.Events()
	if len(events) == 0 {
		return 0, false, nil
	}
	codes, ok := events[0].CharCodes()
	if !ok {
		return 0, false, nil
	}
	n, err := parseCount(string(utf16.Decode(codes)))
	if err != nil {
		return 0, true, err
	}
	return n, true, nil
}

func parseCount(text string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(text), 10, 64)
}
