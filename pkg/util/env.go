package util

import "os"

// GetEnv returns the value of the environment variable or the fallback if unset.
func GetEnv(name, fallback string) string {
	if value, ok := os.LookupEnv(name); ok {
		return value
	}
	return fallback
}
