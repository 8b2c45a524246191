package model

type Class struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Description    *string `json:"description"`
	InvitationCode *string `json:"-"`
}

type ClassWithMembers struct {
	Class
	Teachers []UserPublicInfo `json:"teachers"`
	Students []UserPublicInfo `json:"students"`
}
