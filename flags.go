package ipcf

import "strings"

// EncryptFlags modify encryption behavior.
type EncryptFlags uint32

const (
	EncryptFlagDefault              EncryptFlags = 0x00000000
	EncryptFlagUpdateLicenseBlocked EncryptFlags = 0x00000001
	EncryptFlagKeyNoPersist         EncryptFlags = 0x00000002
	EncryptFlagKeyNoPersistDisk     EncryptFlags = 0x00000004
	EncryptFlagKeyNoPersistLicense  EncryptFlags = 0x00000008
)

var encryptFlagNames = []struct {
	flag EncryptFlags
	name string
}{
	{EncryptFlagUpdateLicenseBlocked, "update-license-blocked"},
	{EncryptFlagKeyNoPersist, "key-no-persist"},
	{EncryptFlagKeyNoPersistDisk, "key-no-persist-disk"},
	{EncryptFlagKeyNoPersistLicense, "key-no-persist-license"},
}

func (f EncryptFlags) String() string {
	if f == EncryptFlagDefault {
		return "default"
	}
	var parts []string
	for _, n := range encryptFlagNames {
		if f&n.flag != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// ParseEncryptFlag maps a flag name (as printed by String) to its value.
func ParseEncryptFlag(name string) (EncryptFlags, bool) {
	if name == "default" {
		return EncryptFlagDefault, true
	}
	for _, n := range encryptFlagNames {
		if n.name == name {
			return n.flag, true
		}
	}
	return 0, false
}

// DecryptFlags modify decryption behavior.
type DecryptFlags uint32

const (
	DecryptFlagDefault        DecryptFlags = 0x00000000
	DecryptFlagOpenAsRMSAware DecryptFlags = 0x00000001
)

func (f DecryptFlags) String() string {
	if f&DecryptFlagOpenAsRMSAware != 0 {
		return "open-as-rms-aware"
	}
	return "default"
}

// FileStatus is the protection state reported for a file.
type FileStatus uint32

const (
	FileStatusDecrypted       FileStatus = 0
	FileStatusEncryptedCustom FileStatus = 1
	FileStatusEncrypted       FileStatus = 2
)

// Encrypted reports whether s is any protected state.
func (s FileStatus) Encrypted() bool {
	return s != FileStatusDecrypted
}

func (s FileStatus) String() string {
	switch s {
	case FileStatusDecrypted:
		return "decrypted"
	case FileStatusEncryptedCustom:
		return "encrypted-custom"
	case FileStatusEncrypted:
		return "encrypted"
	default:
		return "unknown"
	}
}
