package domain

// Profile decorates a conversation with counterpart identity data.
// A lookup failure degrades to PlaceholderProfile, never blocks the flow.
type Profile struct {
	UserID      string
	DisplayName string
	AvatarRef   string
}

func PlaceholderProfile(userID string) Profile {
	return Profile{UserID: userID, DisplayName: "Utilisateur"}
}
