package validator

import (
	"crypto/sha256"
	"errors"
)

var (
	errNoManifest    = errors.New("validator: no valid manifest found")
	errNoCRL         = errors.New("validator: no valid CRL found")
	errStaleManifest = errors.New("validator: manifest is stale")
	errStaleCRL      = errors.New("validator: CRL is stale")
	errRevokedEE     = errors.New("validator: manifest EE certificate is revoked")
	errObjectMissing = errors.New("validator: manifest-listed object missing or hash mismatch")
	errUnknownObject = errors.New("validator: unknown object type")
	errOverclaim     = errors.New("validator: object resources not encompassed by issuing CA")
	errBadVRP        = errors.New("validator: VRP maxLength out of range for prefix")
	errASPAOverclaim = errors.New("validator: ASPA customer ASN not held by issuing CA")
	errTooManyProviders = errors.New("validator: ASPA provider set exceeds aspa-provider-limit")
	errBadRouterSKI     = errors.New("validator: router certificate SKI is not 20 bytes")
)

func sha256Of(data []byte) [32]byte { return sha256.Sum256(data) }
