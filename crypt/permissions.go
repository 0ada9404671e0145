package crypt

import (
	"fmt"
	"strings"
)

// Permissions are the user access bits of the /P entry.
type Permissions uint32

const (
	PermissionPrint            Permissions = 1 << 2
	PermissionModify           Permissions = 1 << 3
	PermissionCopy             Permissions = 1 << 4
	PermissionAnnotate         Permissions = 1 << 5
	PermissionFillForms        Permissions = 1 << 8
	PermissionExtract          Permissions = 1 << 9
	PermissionAssemble         Permissions = 1 << 10
	PermissionPrintHighQuality Permissions = 1 << 11

	PermissionAll = PermissionPrint | PermissionModify | PermissionCopy | PermissionAnnotate |
		PermissionFillForms | PermissionExtract | PermissionAssemble | PermissionPrintHighQuality
)

// reserved bits 7, 8 and 13-32 must be set, bits 1 and 2 cleared.
const reservedBits = 0xFFFFF0C0

var permissionNames = map[string]Permissions{
	"print":              PermissionPrint,
	"modify":             PermissionModify,
	"copy":               PermissionCopy,
	"annotate":           PermissionAnnotate,
	"fill":               PermissionFillForms,
	"fill-forms":         PermissionFillForms,
	"extract":            PermissionExtract,
	"assemble":           PermissionAssemble,
	"print-hq":           PermissionPrintHighQuality,
	"print-high-quality": PermissionPrintHighQuality,
}

// Value returns the signed 32-bit /P value.
func (p Permissions) Value() int32 {
	return int32(uint32(p&PermissionAll) | reservedBits)
}

// Has reports whether all bits of q are granted.
func (p Permissions) Has(q Permissions) bool {
	return p&q == q
}

// ParsePermissions parses a comma separated list such as "print,copy".
// The words "none" and "all" are accepted as well.
func ParsePermissions(s string) (Permissions, error) {
	var p Permissions
	for _, word := range strings.Split(s, ",") {
		word = strings.ToLower(strings.TrimSpace(word))
		switch word {
		case "", "none":
			continue
		case "all":
			p |= PermissionAll
			continue
		}
		bit, ok := permissionNames[word]
		if !ok {
			return 0, fmt.Errorf("%w: unknown permission %q", ErrInvalidParameter, word)
		}
		p |= bit
	}
	return p, nil
}
