package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Result is the closed outcome vocabulary of a checker operation. It travels on
// the wire as its integer code.
type Result int

const (
	ResultOK            Result = 101
	ResultCorrupt       Result = 102
	ResultMumble        Result = 103
	ResultDown          Result = 104
	ResultInternalError Result = 110
)

var resultKeys = map[Result]string{
	ResultOK:            "OK",
	ResultCorrupt:       "CORRUPT",
	ResultMumble:        "MUMBLE",
	ResultDown:          "DOWN",
	ResultInternalError: "INTERNAL_ERROR",
}

// Results lists every known code in ascending order.
func Results() []Result {
	return []Result{ResultOK, ResultCorrupt, ResultMumble, ResultDown, ResultInternalError}
}

// Key returns the stable name of the result. Unknown codes map to
// UNKNOWN_<code>.
func (r Result) Key() string {
	if k, ok := resultKeys[r]; ok {
		return k
	}
	return "UNKNOWN_" + strconv.Itoa(int(r))
}

func (r Result) String() string { return r.Key() }

// Valid reports whether r belongs to the vocabulary.
func (r Result) Valid() bool {
	_, ok := resultKeys[r]
	return ok
}

// ParseResult accepts a key ("OK", "down") or a numeric code ("104").
func ParseResult(s string) (Result, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for r, k := range resultKeys {
		if k == s {
			return r, nil
		}
	}
	if n, err := strconv.Atoi(s); err == nil && Result(n).Valid() {
		return Result(n), nil
	}
	return 0, fmt.Errorf("unknown result %q", s)
}

func (r Result) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Itoa(int(r))), nil
}

func (r *Result) UnmarshalJSON(b []byte) error {
	var n int
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("result: %w", err)
	}
	*r = Result(n)
	return nil
}
