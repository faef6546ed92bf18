package model

import (
	"strconv"
	"strings"
)

type Gender string

const (
	GenderMale    Gender = "male"
	GenderFemale  Gender = "female"
	GenderUnknown Gender = "unknown"
)

// NormalizeGender maps anything unrecognised to unknown.
func NormalizeGender(s string) Gender {
	switch g := Gender(strings.ToLower(strings.TrimSpace(s))); g {
	case GenderMale, GenderFemale:
		return g
	default:
		return GenderUnknown
	}
}

type User struct {
	UserID     int64   `json:"userId"`
	Nickname   string  `json:"nickname"`
	Age        int     `json:"age"`
	Gender     Gender  `json:"gender"`
	FriendList []int64 `json:"friendList"`
	GroupList  []int64 `json:"groupList"`
}

// Guest is the identity of an unbound connection.
func Guest() *User {
	return &User{
		UserID:     GuestUserID,
		Nickname:   "Guest",
		Gender:     GenderUnknown,
		FriendList: []int64{},
		GroupList:  []int64{},
	}
}

func DefaultNickname(userID int64) string {
	return "User " + strconv.FormatInt(userID, 10)
}
