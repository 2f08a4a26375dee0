package handler

import (
	"errors"
	"regexp"

	"github.com/goevery/chatrelay/internal/ierr"
)

type RoomIdValidator struct {
	roomIdRegex *regexp.Regexp
}

func NewRoomIdValidator() *RoomIdValidator {
	return &RoomIdValidator{
		roomIdRegex: regexp.MustCompile(`^([\w-]+:?)*\w$`),
	}
}

func (v *RoomIdValidator) Validate(roomId string) error {
	valid := v.roomIdRegex.MatchString(roomId)
	if !valid {
		return ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("invalid roomId"))
	}

	return nil
}
