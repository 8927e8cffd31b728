package config

import "encoding/base64"

func decodeSecret(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

// DecodeSecret exposes decodeSecret for callers (the CPO and PO runtimes)
// that need the raw secret bytes once validation has already passed.
func DecodeSecret(s string) ([]byte, error) {
	return decodeSecret(s)
}
