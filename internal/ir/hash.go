package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Domain prefixes for content-addressed identity.
// The version suffix allows the printed form to change without collisions.
const (
	DomainFunction = "meminstrument/function/v1"
	DomainModule   = "meminstrument/module/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Fingerprint returns a content hash of f's printed form. Two functions with
// identical text share a fingerprint, so reports from separate runs can be
// matched even when the module was rebuilt.
func Fingerprint(f *Function) string {
	return hashWithDomain(DomainFunction, []byte(FunctionText(f)))
}

// ModuleFingerprint returns a content hash of m's printed form.
func ModuleFingerprint(m *Module) string {
	var sb strings.Builder
	_ = Print(&sb, m)
	return hashWithDomain(DomainModule, []byte(sb.String()))
}
