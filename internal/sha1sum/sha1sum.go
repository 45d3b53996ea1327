// Package sha1sum wraps the SHA-1 primitive the rest of the client treats
// as an external, pure byte-in/byte-out collaborator.
package sha1sum

import "crypto/sha1"

// Size is the length in bytes of a SHA-1 digest.
const Size = sha1.Size

// Sum returns the SHA-1 digest of data.
func Sum(data []byte) [Size]byte {
	return sha1.Sum(data)
}
