package envelope

import (
	"errors"
	"strings"
)

// ErrInvalidAddress is returned by ValidateAddress for a malformed
// address.
var ErrInvalidAddress = errors.New("envelope: address must be \"poName.mailboxName\" with non-empty, dot-free parts")

// POPart returns the post office name prefix of a "poName.mailboxName"
// address.
func POPart(addr string) string {
	if i := strings.IndexByte(addr, '.'); i >= 0 {
		return addr[:i]
	}
	return addr
}

// MailboxPart returns the mailbox name suffix of a "poName.mailboxName"
// address.
func MailboxPart(addr string) string {
	if i := strings.IndexByte(addr, '.'); i >= 0 {
		return addr[i+1:]
	}
	return ""
}

// SplitType splits a "major" or "major.minor" type string.
func SplitType(t string) (major, minor string) {
	if i := strings.LastIndexByte(t, '.'); i >= 0 {
		return t[:i], t[i+1:]
	}
	return t, ""
}

// ValidateAddress checks that addr is "poName.mailboxName" with both parts
// non-empty and neither containing an extra '.' beyond the one separator.
func ValidateAddress(addr string) error {
	parts := strings.Split(addr, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return ErrInvalidAddress
	}
	return nil
}
