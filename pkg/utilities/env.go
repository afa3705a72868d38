package utilities

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// ParseEnv fills the `env`-tagged fields of v. Durations also accept a day
// suffix (`7d`, `30d`). Malformed values are returned as errors instead of
// falling back to the default.
func ParseEnv(v any) error {
	return env.ParseWithOptions(v, env.Options{
		FuncMap: map[reflect.Type]env.ParserFunc{
			reflect.TypeOf(time.Duration(0)): func(s string) (any, error) {
				return ParseDuration(s)
			},
		},
	})
}

// ParseDuration is time.ParseDuration plus whole days (`1d`).
func ParseDuration(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}
