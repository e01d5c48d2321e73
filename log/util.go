package log

import (
	"runtime"
	"strconv"
)

// LazyEval defers evaluation of a log argument until the level check passed.
type LazyEval func() string

func (l LazyEval) String() string {
	return l()
}

// SkipCaller returns the caller's location, skipping the given number of
// frames, to help debug slow or failing storage commits.
func SkipCaller(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "?"
	}
	return file + ":" + strconv.Itoa(line)
}
