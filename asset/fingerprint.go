package asset

const (
	fnvOffsetBasis64 uint64 = 14695981039346656037
	fnvPrime64       uint64 = 1099511628211
)

// Fingerprint returns the 64-bit FNV-1a hash of s.
// It is a dispatch key only, never a content identifier.
func Fingerprint(s string) uint64 {
	hash := fnvOffsetBasis64
	for i := 0; i < len(s); i++ {
		hash ^= uint64(s[i])
		hash *= fnvPrime64
	}
	return hash
}
