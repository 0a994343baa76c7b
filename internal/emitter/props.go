package emitter

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/okian/trackbridge/pkg/tracking"
)

// ErrBadProp reports a -prop value that is not key=value.
var ErrBadProp = errors.New("prop must be key=value")

// PropFlag collects repeated -prop flags.
type PropFlag []string

func (p *PropFlag) String() string { return strings.Join(*p, ",") }

func (p *PropFlag) Set(v string) error {
	*p = append(*p, v)
	return nil
}

// ParseProps turns key=value pairs into Properties. Values that parse as
// finite numbers become numbers unless stringOnly is set. No pairs yields nil
// props, so the event is sent without a props field.
func ParseProps(pairs []string, stringOnly bool) (tracking.Properties, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	props := make(tracking.Properties, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: %q", ErrBadProp, pair)
		}
		props[key] = parseValue(raw, stringOnly)
	}
	return props, nil
}

func parseValue(raw string, stringOnly bool) tracking.Value {
	if stringOnly {
		return tracking.String(raw)
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return tracking.String(raw)
	}
	return tracking.Number(f)
}
