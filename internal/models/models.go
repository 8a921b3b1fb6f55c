package models

import "time"

// Room types
const (
	RoomTypePublic  = "public"
	RoomTypePrivate = "private"
	RoomTypeDirect  = "direct"
)

// Member roles
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Message types
const (
	MessageTypeText   = "text"
	MessageTypeImage  = "image"
	MessageTypeFile   = "file"
	MessageTypeSystem = "system"
)

// MaxContentLength bounds message content size.
const MaxContentLength = 2000

type User struct {
	ID        string    `bson:"_id" json:"id"`
	Name      string    `bson:"name" json:"name"`
	Email     string    `bson:"email" json:"email"`
	AvatarURL string    `bson:"avatar_url,omitempty" json:"avatarUrl,omitempty"`
	Active    bool      `bson:"active" json:"active"`
	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
}

type RoomMember struct {
	UserID     string    `bson:"user_id" json:"userId"`
	Role       string    `bson:"role" json:"role"`
	JoinedAt   time.Time `bson:"joined_at" json:"joinedAt"`
	LastSeenAt time.Time `bson:"last_seen_at" json:"lastSeenAt"`
}

type RoomSettings struct {
	MaxMembers    int `bson:"max_members" json:"maxMembers"`
	RetentionDays int `bson:"retention_days,omitempty" json:"retentionDays,omitempty"`
}

type Room struct {
	ID           string       `bson:"_id" json:"id"`
	Name         string       `bson:"name" json:"name"`
	Type         string       `bson:"type" json:"type"`
	Members      []RoomMember `bson:"members" json:"members"`
	Settings     RoomSettings `bson:"settings" json:"settings"`
	Active       bool         `bson:"active" json:"active"`
	MessageCount int64        `bson:"message_count" json:"messageCount"`
	LastActiveAt time.Time    `bson:"last_active_at" json:"lastActiveAt"`
	CreatedBy    string       `bson:"created_by" json:"createdBy"`
	CreatedAt    time.Time    `bson:"created_at" json:"createdAt"`
}

// Member returns the membership entry for userID, if present.
func (r *Room) Member(userID string) (RoomMember, bool) {
	for _, m := range r.Members {
		if m.UserID == userID {
			return m, true
		}
	}
	return RoomMember{}, false
}

type Attachment struct {
	URL      string `bson:"url" json:"url"`
	Name     string `bson:"name,omitempty" json:"name,omitempty"`
	MimeType string `bson:"mime_type,omitempty" json:"mimeType,omitempty"`
	Size     int64  `bson:"size,omitempty" json:"size,omitempty"`
}

// Reaction holds one identity's emoji on a message. At most one entry per
// identity; a second reaction from the same identity replaces the first.
type Reaction struct {
	UserID string    `bson:"user_id" json:"userId"`
	Emoji  string    `bson:"emoji" json:"emoji"`
	At     time.Time `bson:"at" json:"at"`
}

// ReadReceipt records that an identity has read up to this message. At most
// one entry per identity.
type ReadReceipt struct {
	UserID string    `bson:"user_id" json:"userId"`
	At     time.Time `bson:"at" json:"at"`
}

type Message struct {
	ID          string        `bson:"_id" json:"id"`
	RoomID      string        `bson:"room_id" json:"roomId"`
	SenderID    string        `bson:"sender_id" json:"senderId"`
	SenderName  string        `bson:"sender_name,omitempty" json:"senderName,omitempty"`
	Type        string        `bson:"type" json:"type"`
	Content     string        `bson:"content" json:"content"`
	Attachments []Attachment  `bson:"attachments,omitempty" json:"attachments,omitempty"`
	Mentions    []string      `bson:"mentions,omitempty" json:"mentions,omitempty"`
	ReplyTo     string        `bson:"reply_to,omitempty" json:"replyTo,omitempty"`
	Reactions   []Reaction    `bson:"reactions,omitempty" json:"reactions,omitempty"`
	ReadBy      []ReadReceipt `bson:"read_by,omitempty" json:"readBy,omitempty"`
	Edited      bool          `bson:"edited" json:"edited"`
	EditedAt    *time.Time    `bson:"edited_at,omitempty" json:"editedAt,omitempty"`
	Deleted     bool          `bson:"deleted" json:"deleted"`
	DeletedAt   *time.Time    `bson:"deleted_at,omitempty" json:"deletedAt,omitempty"`
	DeletedBy   string        `bson:"deleted_by,omitempty" json:"deletedBy,omitempty"`
	CreatedAt   time.Time     `bson:"created_at" json:"createdAt"`
}
