package ipcf

// LicenseInfoType tells the engine how to interpret the license argument.
type LicenseInfoType uint32

const (
	// LicenseInfoTemplateID passes a template identifier string by value.
	LicenseInfoTemplateID LicenseInfoType = 0
	// LicenseInfoHandle passes an engine license handle by reference.
	LicenseInfoHandle LicenseInfoType = 1
)

func (t LicenseInfoType) String() string {
	switch t {
	case LicenseInfoTemplateID:
		return "template-id"
	case LicenseInfoHandle:
		return "license-handle"
	default:
		return "unknown"
	}
}

// License selects the protection policy for an encrypt call.
// It is implemented by TemplateID and LicenseHandle only.
type License interface {
	InfoType() LicenseInfoType
	license()
}

// TemplateID identifies a rights policy template known to the engine.
type TemplateID string

// InfoType returns LicenseInfoTemplateID.
func (TemplateID) InfoType() LicenseInfoType { return LicenseInfoTemplateID }

func (TemplateID) license() {}

// LicenseHandle is an opaque license object owned by the engine.
type LicenseHandle uint64

// InfoType returns LicenseInfoHandle.
func (LicenseHandle) InfoType() LicenseInfoType { return LicenseInfoHandle }

func (LicenseHandle) license() {}
