package model

import (
	"time"
)

type UserRole string

const (
	RoleStudent UserRole = "student"
	RoleTeacher UserRole = "teacher"
)

func (r UserRole) Valid() bool {
	return r == RoleStudent || r == RoleTeacher
}

type User struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Role           UserRole  `json:"role"`
	PhoneNumber    string    `json:"phone_number"`
	HashedPassword string    `json:"-"`
	SubjectID      *string   `json:"subject_id,omitempty"` // teachers
	ClassID        *string   `json:"class_id,omitempty"`   // students
	CreatedAt      time.Time `json:"created_at"`
}

func (u *User) Public() UserPublic {
	return UserPublic{ID: u.ID, Name: u.Name, Role: u.Role}
}

// UserPublic is the minimal view embedded in problems and listings.
type UserPublic struct {
	ID   string   `json:"id"`
	Name string   `json:"name"`
	Role UserRole `json:"role"`
}

// UserPublicInfo is how class members are listed.
type UserPublicInfo struct {
	UserPublic
	PhoneNumber string   `json:"phone_number"`
	Subject     *Subject `json:"subject"`
}

type UserMe struct {
	UserPublic
	PhoneNumber  string   `json:"phone_number"`
	OwnedClasses []Class  `json:"owned_classes"`
	Class        *Class   `json:"class_"`
	Subject      *Subject `json:"subject"`
}
