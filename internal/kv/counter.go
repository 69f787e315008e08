package kv

import (
	"fmt"
	"strconv"
)

func parseCounter(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("kv: hash value %q is not an integer", s)
	}
	return n, nil
}

func formatCounter(n int64) string { return strconv.FormatInt(n, 10) }

// IncrCounter applies delta to a decimal counter value held as a string.
func IncrCounter(current string, delta int64) (string, int64, error) {
	n, err := parseCounter(current)
	if err != nil {
		return current, 0, err
	}
	n += delta
	return formatCounter(n), n, nil
}
