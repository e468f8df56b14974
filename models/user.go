package models

// Profile is the editable part of a user.
type Profile struct {
	Identity    string `json:"identity"`
	DisplayName string `json:"display_name"`
	PushToken   string `json:"push_token,omitempty"`
}

// OnlineStatus is a presence point read.
type OnlineStatus struct {
	Identity string `json:"identity"`
	Online   bool   `json:"online"`
}

// Friends lists the caller's friends.
type Friends struct {
	Friends []string `json:"friends"`
}

// Error is the body of every non-2xx response.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
