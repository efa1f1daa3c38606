package domain

// Settings is the user preferences record persisted alongside the rule list.
type Settings struct {
	Mode                string `json:"mode"`
	ConfirmBeforeDelete bool   `json:"confirmBeforeDelete"`
	ShowNotifications   bool   `json:"showNotifications"`
	EnablePassword      bool   `json:"enablePassword"`
	PasswordHash        string `json:"passwordHash,omitempty"`
}

// ModeStrict gates rule deletion behind the delayed-confirmation flow.
const (
	ModeNormal = "normal"
	ModeStrict = "strict"
)

// DefaultSettings mirrors the first-run preferences.
func DefaultSettings() Settings {
	return Settings{
		Mode:              ModeNormal,
		ShowNotifications: true,
	}
}

// IsStrict reports whether deletions require the confirmation workflow.
func (s Settings) IsStrict() bool {
	return s.Mode == ModeStrict
}
