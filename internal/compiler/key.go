package compiler

import (
	"encoding/base64"
	"encoding/binary"

	"github.com/cespare/xxhash/v2"

	"github.com/mattjoyce/couchgo/pkg/abi"
)

// Key identifies a compiled fragment: mod_<base64url of the 64-bit hash>.
type Key string

// String implements fmt.Stringer.
func (k Key) String() string { return string(k) }

// HashWithVersion hashes the fragment text, the toolchain params and an
// interface version. Changing any of them yields a different key.
func HashWithVersion(code, params, version string) Key {
	d := xxhash.New()
	_, _ = d.WriteString(code)
	_, _ = d.WriteString(params)
	_, _ = d.WriteString(version)

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], d.Sum64())
	return Key("mod_" + base64.RawURLEncoding.EncodeToString(buf[:]))
}

// Hash returns the key of code under the given params and the current ABI.
func Hash(code, params string) Key {
	return HashWithVersion(code, params, abi.InterfaceVersion)
}
