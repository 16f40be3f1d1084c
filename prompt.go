package ipcf

// Prompt context flags as understood by the engine.
const (
	PromptFlagSilent         uint32 = 0x1
	PromptFlagOffline        uint32 = 0x2
	PromptFlagHasUserConsent uint32 = 0x4
)

// PromptParams describes how the engine may interact with the user during a
// call.
type PromptParams struct {
	// SymmetricKey, when set, is attached as the call's credential.
	SymmetricKey *SymmetricKey

	// ParentWindow is a native window handle used to parent engine dialogs.
	// Zero means no parent.
	ParentWindow uintptr

	SuppressUI     bool
	Offline        bool
	HasUserConsent bool
}

// Flags returns the engine flag word for p.
func (p PromptParams) Flags() uint32 {
	var f uint32
	if p.SuppressUI {
		f |= PromptFlagSilent
	}
	if p.Offline {
		f |= PromptFlagOffline
	}
	if p.HasUserConsent {
		f |= PromptFlagHasUserConsent
	}
	return f
}

// SymmetricKey is a service principal credential for unattended use.
type SymmetricKey struct {
	Base64Key      string
	AppPrincipalID string
	TenantID       string
}
