// Package ident derives a stable per-host instance tag so that alerts and
// status responses from concurrent deployments can be told apart.
package ident

import (
	"crypto/sha256"
	"encoding/hex"
	"os"

	"github.com/denisbrodbeck/machineid"
)

const appID = "apex-core"

// InstanceTag returns a short identifier stable across restarts on the same
// host. Falls back to a hostname hash when the machine ID is unavailable.
func InstanceTag() string {
	id, err := machineid.ProtectedID(appID)
	if err != nil {
		host, herr := os.Hostname()
		if herr != nil {
			return "unknown"
		}
		sum := sha256.Sum256([]byte(appID + host))
		id = hex.EncodeToString(sum[:])
	}
	if len(id) > 12 {
		id = id[:12]
	}
	return id
}
