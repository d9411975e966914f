package claimsend

import (
	"bytes"
	"crypto/sha512"
	"encoding/base32"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/iov-one/claimsend/errors"
)

const (
	// AddressLength is the length in bytes of every ledger address.
	AddressLength = 32

	checksumLength = 4
)

var (
	// it must have (?s) flags, otherwise it errors when last section contains 0x20 (newline)
	perm = regexp.MustCompile(`(?s)^([a-zA-Z0-9_\-]{2,8})/([a-zA-Z0-9_\-]{2,8})/(.+)$`)

	addrEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)
)

// Condition is a specially formatted array, containing
// information on who can authorize an action.
// It is of the format:
//
//   sprintf("%s/%s/%s", extension, type, data)
//
// Accounts that are not backed by a private key (holding accounts) are
// addressed by the digest of the condition that controls them.
type Condition []byte

// NewCondition builds a condition from its three sections.
func NewCondition(ext, typ string, data []byte) Condition {
	pre := fmt.Sprintf("%s/%s/", ext, typ)
	return append([]byte(pre), data...)
}

// Parse will extract the sections from the Condition bytes
// and verify it is properly formatted
func (c Condition) Parse() (string, string, []byte, error) {
	chunks := perm.FindSubmatch(c)
	if len(chunks) == 0 {
		return "", "", nil, errors.Wrapf(errors.ErrInvalidInput, "condition: %X", []byte(c))
	}
	// returns [all, match1, match2, match3]
	return string(chunks[1]), string(chunks[2]), chunks[3], nil
}

// Address will convert a Condition into an Address
func (c Condition) Address() Address {
	if len(c) == 0 {
		return nil
	}
	h := sha512.Sum512_256(c)
	return Address(h[:])
}

// Equals checks if two conditions are the same
func (c Condition) Equals(b Condition) bool {
	return bytes.Equal(c, b)
}

// String returns a human readable string.
// We keep the extension and type in ascii and
// hex-encode the binary data
func (c Condition) String() string {
	ext, typ, data, err := c.Parse()
	if err != nil {
		return fmt.Sprintf("Invalid Condition: %X", []byte(c))
	}
	return fmt.Sprintf("%s/%s/%X", ext, typ, data)
}

// Validate returns an error if the Condition is not the proper format
func (c Condition) Validate() error {
	if !perm.Match(c) {
		return errors.Wrapf(errors.ErrInvalidInput, "condition: %X", []byte(c))
	}
	return nil
}

// Address is a 32 byte ledger account identity. It is either an ed25519
// public key or the digest of a Condition.
type Address []byte

// ParseAddress decodes the text form produced by Address.String. The
// checksum is verified.
func ParseAddress(s string) (Address, error) {
	if s == "" {
		return nil, errors.Wrap(errors.ErrInvalidIdentity, "empty address")
	}
	raw, err := addrEncoding.DecodeString(strings.ToUpper(s))
	if err != nil {
		return nil, errors.Wrapf(errors.ErrInvalidIdentity, "address %q: %s", s, err)
	}
	if len(raw) != AddressLength+checksumLength {
		return nil, errors.Wrapf(errors.ErrInvalidIdentity, "address %q: invalid length", s)
	}
	addr := Address(raw[:AddressLength])
	if !bytes.Equal(addr.checksum(), raw[AddressLength:]) {
		return nil, errors.Wrapf(errors.ErrInvalidIdentity, "address %q: checksum mismatch", s)
	}
	return addr, nil
}

// MustParseAddress is like ParseAddress but panics on failure. Use it only
// for constants.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Address) checksum() []byte {
	h := sha512.Sum512_256(a)
	return h[len(h)-checksumLength:]
}

// Equals checks if two addresses are the same
func (a Address) Equals(b Address) bool {
	return bytes.Equal(a, b)
}

// Clone returns an independent copy of the address.
func (a Address) Clone() Address {
	if a == nil {
		return nil
	}
	c := make(Address, len(a))
	copy(c, a)
	return c
}

// IsEmpty returns true for the zero address.
func (a Address) IsEmpty() bool {
	return len(a) == 0
}

// String returns the checksummed base32 representation.
func (a Address) String() string {
	if len(a) == 0 {
		return ""
	}
	buf := make([]byte, 0, len(a)+checksumLength)
	buf = append(buf, a...)
	buf = append(buf, a.checksum()...)
	return addrEncoding.EncodeToString(buf)
}

// Validate returns an error if the address is not the valid size
func (a Address) Validate() error {
	if len(a) != AddressLength {
		return errors.Wrapf(errors.ErrInvalidIdentity, "address length %d", len(a))
	}
	return nil
}

// MarshalJSON provides the checksummed text representation for JSON, to
// override the standard base64 []byte encoding
func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

func (a *Address) UnmarshalJSON(raw []byte) error {
	var enc string
	if err := json.Unmarshal(raw, &enc); err != nil {
		return errors.Wrap(err, "cannot decode json")
	}
	// No value zero the address.
	if enc == "" {
		*a = nil
		return nil
	}
	addr, err := ParseAddress(enc)
	if err != nil {
		return err
	}
	*a = addr
	return nil
}

// Set updates the value of this address. It implements flag.Value.
func (a *Address) Set(encoded string) error {
	addr, err := ParseAddress(encoded)
	if err != nil {
		return err
	}
	*a = addr
	return nil
}
