// Package naming derives resource names for tenant infrastructure. It
// expands logical name templates and generates length-bounded physical
// names with a collision-avoiding random suffix.
package naming

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"regexp"
	"strings"
)

// TenantToken is the placeholder substituted by Template.
const TenantToken = "{{tenant_id}}"

// prettyChars is the encoding alphabet for random suffixes. Visually
// ambiguous characters (g/q, i/j/l, p, y) are excluded.
const prettyChars = "abcdefhkmnorstuvwxz"

// suffixLength is the length of the random portion appended by Physical.
const suffixLength = 8

var nonAlnum = regexp.MustCompile(`[^a-zA-Z0-9]`)

// Template substitutes the tenant id into a name template. A template
// without the placeholder token is returned unchanged.
func Template(nameTemplate, tenantID string) string {
	return strings.ReplaceAll(nameTemplate, TenantToken, tenantID)
}

// Namer builds physical names scoped to an app and stage.
type Namer struct {
	App   string
	Stage string
}

// Prefix cleans name of non-alphanumeric characters and prepends app and
// stage context, degrading to shorter forms as max tightens: full
// "app-stage-name", then "stage-name", then the bare truncated name.
func (n Namer) Prefix(max int, name string) string {
	name = nonAlnum.ReplaceAllString(name, "")

	if max <= 0 {
		return ""
	}

	stageLen := len(n.Stage)
	nameLen := len(name)

	switch {
	case nameLen+1 >= max:
		if nameLen > max {
			return name[:max]
		}
		return name
	case nameLen+stageLen+2 >= max:
		return n.Stage[:min(stageLen, max-nameLen-1)] + "-" + name
	default:
		appMax := max - stageLen - nameLen - 2
		app := n.App
		if len(app) > appMax {
			app = app[:appMax]
		}
		return app + "-" + n.Stage + "-" + name
	}
}

// Physical produces a provider-ready name no longer than max: the
// deterministic Prefix portion, a dash, an 8-character pretty-encoded
// random suffix, and the caller-supplied suffix last. The random portion
// changes on every call; callers mint a physical name once per resource
// creation and reuse it across reconciliations.
func (n Namer) Physical(max int, name, suffix string) string {
	main := n.Prefix(max-suffixLength-1-len(suffix), name)

	entropy := make([]byte, 8)
	if _, err := rand.Read(entropy); err != nil {
		// crypto/rand never fails on supported platforms
		panic(err)
	}

	return main + "-" + hashStringToPretty(hex.EncodeToString(entropy), suffixLength) + suffix
}

// hashNumberToPretty encodes a number in base-20 using the pretty
// alphabet, left-padded with 's' and truncated to length.
func hashNumberToPretty(number uint64, length int) string {
	base := uint64(len(prettyChars))

	var b strings.Builder
	for number > 0 {
		b.WriteByte(prettyChars[number%base])
		number /= base
	}

	// Digits were appended least-significant first.
	encoded := reverse(b.String())
	if len(encoded) > length {
		encoded = encoded[:length]
	}
	for len(encoded) < length {
		encoded = "s" + encoded
	}
	return encoded
}

// hashStringToPretty hashes s with SHA-256 and pretty-encodes the first
// eight bytes of the digest.
func hashStringToPretty(s string, length int) string {
	sum := sha256.Sum256([]byte(s))
	return hashNumberToPretty(binary.BigEndian.Uint64(sum[:8]), length)
}

func reverse(s string) string {
	b := []byte(s)
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return string(b)
}
