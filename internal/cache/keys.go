package cache

import "fmt"

const keyPrefix = "milha-alerta:"

// StatsKey is the key holding an owner's dashboard counters.
func StatsKey(ownerID string) string {
	return fmt.Sprintf("%sstats:%s", keyPrefix, ownerID)
}

// SessionKey is the key holding a resolved session, by token digest.
func SessionKey(tokenDigest string) string {
	return fmt.Sprintf("%ssession:%s", keyPrefix, tokenDigest)
}
