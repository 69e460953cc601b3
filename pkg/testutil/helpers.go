package testutil

import "time"

// StrPtr returns a pointer to the given string
func StrPtr(s string) *string {
	return &s
}

// IntPtr returns a pointer to the given int
func IntPtr(i int) *int {
	return &i
}

// TimePtr returns a pointer to the given time
func TimePtr(t time.Time) *time.Time {
	return &t
}

// Days returns a duration of n days
func Days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}
