package access

// UserInfo contains information about an authenticated user.
type UserInfo struct {
	Name          string
	IsAdmin       bool
	PublicKeyFP   string // SSH public key fingerprint
	IsAnonymous   bool
	AnonymousName string // Generated name for anonymous users (e.g., "azure-tiger-42")
	RemoteAddr    string
}

// LocalUser is the user of a console started from the local terminal.
func LocalUser() *UserInfo {
	return &UserInfo{Name: "local", IsAdmin: true}
}

// DisplayName returns the name to display for the user.
func (u *UserInfo) DisplayName() string {
	if u == nil {
		return "unknown"
	}
	if u.IsAnonymous {
		return u.AnonymousName
	}
	return u.Name
}
