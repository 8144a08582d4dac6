package models

type Player struct {
	ID               string `json:"id"`
	DisplayName      string `json:"displayName"`
	ExternalUsername string `json:"externalUsername,omitempty"`
}
