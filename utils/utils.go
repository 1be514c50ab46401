package utils

import "fmt"

// Pointer returns a pointer to the given value
func Pointer[T any](v T) *T {
	return &v
}

// GenerateRateLimitKey creates a unique key for rate limiting
func GenerateRateLimitKey(userID uint, sequenceID, path string) string {
	return fmt.Sprintf("rl:%d:%s:%s", userID, sequenceID, path)
}
