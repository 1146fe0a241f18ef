// Package runtime provides environment/runtime detection helpers shared across the service layer.
package runtime

import (
	"os"
	"strings"
	"sync"
)

// strictIdentityModeOnce caches the strict identity mode check at startup.
var (
	strictIdentityModeOnce  sync.Once
	strictIdentityModeValue bool
)

// ResetStrictIdentityModeCache resets the cached strict identity mode value.
// This should only be used in tests.
func ResetStrictIdentityModeCache() {
	strictIdentityModeOnce = sync.Once{}
	strictIdentityModeValue = false
}

// StrictIdentityMode returns true when the service should fail closed on identity/security
// boundaries (e.g. only trust identity headers protected by verified mTLS).
//
// Production always runs strict; ASPECTRT_STRICT_IDENTITY=true forces strict mode in any
// environment so a mis-set ASPECTRT_ENV cannot silently weaken trust boundaries.
func StrictIdentityMode() bool {
	strictIdentityModeOnce.Do(func() {
		env := Env()
		forced := strings.EqualFold(strings.TrimSpace(os.Getenv("ASPECTRT_STRICT_IDENTITY")), "true")
		strictIdentityModeValue = env == Production || forced
	})
	return strictIdentityModeValue
}
