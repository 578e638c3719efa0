package rediskey

import "fmt"

// License keys (global convention across services)
const (
	LicensePrefix      = "license"
	ActivateRatePrefix = "license:rl:activate"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildActivateRateKey returns "license:rl:activate:{ip}"
func BuildActivateRateKey(ip string) string {
	return NamespaceKey(ActivateRatePrefix, ip)
}
