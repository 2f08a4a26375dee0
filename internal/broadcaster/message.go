package broadcaster

import "time"

// Message is a chat message that has already been persisted by the storage
// layer. The broadcaster forwards it untouched.
type Message struct {
	Id               string    `json:"id"`
	RoomId           string    `json:"roomId"`
	SenderIdentityId string    `json:"senderIdentityId"`
	Content          string    `json:"content"`
	CreateTime       time.Time `json:"createTime"`
}
