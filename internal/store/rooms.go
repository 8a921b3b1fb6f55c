package store

import (
	"context"
	"time"

	"rtchat/internal/config"
	"rtchat/internal/errs"
	"rtchat/internal/models"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type RoomStore struct {
	coll *mongo.Collection
}

func NewRoomStore(db *mongo.Database) *RoomStore {
	return &RoomStore{coll: db.Collection(roomsCollection)}
}

// Create inserts a new room with the creator as owner. The member cap is
// clamped into the configured bounds.
func (s *RoomStore) Create(ctx context.Context, name, roomType, creatorID string, maxMembers int) (*models.Room, error) {
	now := time.Now().UTC()
	room := &models.Room{
		ID:   uuid.NewString(),
		Name: name,
		Type: roomType,
		Members: []models.RoomMember{{
			UserID:     creatorID,
			Role:       models.RoleOwner,
			JoinedAt:   now,
			LastSeenAt: now,
		}},
		Settings:     models.RoomSettings{MaxMembers: config.ClampMaxMembers(maxMembers)},
		Active:       true,
		LastActiveAt: now,
		CreatedBy:    creatorID,
		CreatedAt:    now,
	}
	if _, err := s.coll.InsertOne(ctx, room); err != nil {
		return nil, errors.Wrap(err, "insert room")
	}
	return room, nil
}

// Get returns an active room by ID.
func (s *RoomStore) Get(ctx context.Context, id string) (*models.Room, error) {
	var room models.Room
	err := s.coll.FindOne(ctx, bson.M{"_id": id, "active": true}).Decode(&room)
	if err == mongo.ErrNoDocuments {
		return nil, errs.Newf(errs.KindValidation, "room %s not found", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get room %s", id)
	}
	return &room, nil
}

// ListForUser returns the active rooms the identity is a member of, most
// recently active first.
func (s *RoomStore) ListForUser(ctx context.Context, userID string) ([]models.Room, error) {
	filter := bson.M{"active": true, "members.user_id": userID}
	opts := options.Find().SetSort(bson.D{{Key: "last_active_at", Value: -1}})
	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Wrap(err, "list rooms")
	}
	defer cur.Close(ctx)

	rooms := []models.Room{}
	if err := cur.All(ctx, &rooms); err != nil {
		return nil, errors.Wrap(err, "decode rooms")
	}
	return rooms, nil
}

// UpdateSettings renames the room and/or adjusts its member cap.
func (s *RoomStore) UpdateSettings(ctx context.Context, id, name string, maxMembers int) error {
	set := bson.M{}
	if name != "" {
		set["name"] = name
	}
	if maxMembers != 0 {
		set["settings.max_members"] = config.ClampMaxMembers(maxMembers)
	}
	if len(set) == 0 {
		return nil
	}
	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": id, "active": true}, bson.M{"$set": set})
	if err != nil {
		return errors.Wrapf(err, "update room %s", id)
	}
	if res.MatchedCount == 0 {
		return errs.Newf(errs.KindValidation, "room %s not found", id)
	}
	return nil
}

// Deactivate soft-deletes the room. Normal flows never hard-delete.
func (s *RoomStore) Deactivate(ctx context.Context, id string) error {
	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": id, "active": true}, bson.M{"$set": bson.M{"active": false}})
	if err != nil {
		return errors.Wrapf(err, "deactivate room %s", id)
	}
	if res.MatchedCount == 0 {
		return errs.Newf(errs.KindValidation, "room %s not found", id)
	}
	return nil
}

// AddMember adds the identity to the room's member list if the room is under
// its cap and the identity is not already present. The capacity check and the
// push are one conditional update, so concurrent joins cannot exceed the cap.
// Joining a room the identity already belongs to is a successful no-op.
func (s *RoomStore) AddMember(ctx context.Context, roomID, userID string) error {
	now := time.Now().UTC()
	member := models.RoomMember{
		UserID:     userID,
		Role:       models.RoleMember,
		JoinedAt:   now,
		LastSeenAt: now,
	}

	filter := bson.M{
		"_id":             roomID,
		"active":          true,
		"members.user_id": bson.M{"$ne": userID},
		"$expr":           bson.M{"$lt": bson.A{bson.M{"$size": "$members"}, "$settings.max_members"}},
	}
	res, err := s.coll.UpdateOne(ctx, filter, bson.M{"$push": bson.M{"members": member}})
	if err != nil {
		return errors.Wrapf(err, "add member to room %s", roomID)
	}
	if res.ModifiedCount == 1 {
		return nil
	}

	// The conditional update matched nothing: figure out which condition
	// failed so the caller gets a precise classification.
	room, err := s.Get(ctx, roomID)
	if err != nil {
		return err
	}
	if _, ok := room.Member(userID); ok {
		return nil
	}
	return errs.Newf(errs.KindValidation, "room %s is full", roomID)
}

// RemoveMember pulls the identity from the member list. Idempotent.
func (s *RoomStore) RemoveMember(ctx context.Context, roomID, userID string) error {
	_, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": roomID},
		bson.M{"$pull": bson.M{"members": bson.M{"user_id": userID}}},
	)
	if err != nil {
		return errors.Wrapf(err, "remove member from room %s", roomID)
	}
	return nil
}

// SetMemberRole changes a member's role.
func (s *RoomStore) SetMemberRole(ctx context.Context, roomID, userID, role string) error {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": roomID, "members.user_id": userID},
		bson.M{"$set": bson.M{"members.$.role": role}},
	)
	if err != nil {
		return errors.Wrapf(err, "set role in room %s", roomID)
	}
	if res.MatchedCount == 0 {
		return errs.Newf(errs.KindValidation, "user %s is not a member of room %s", userID, roomID)
	}
	return nil
}

// BumpActivity increments the message counter and refreshes the activity
// timestamp after a send.
func (s *RoomStore) BumpActivity(ctx context.Context, roomID string) error {
	_, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": roomID},
		bson.M{
			"$inc": bson.M{"message_count": 1},
			"$set": bson.M{"last_active_at": time.Now().UTC()},
		},
	)
	return errors.Wrapf(err, "bump activity for room %s", roomID)
}

// TouchLastSeen refreshes the member's last-seen timestamp.
func (s *RoomStore) TouchLastSeen(ctx context.Context, roomID, userID string) error {
	_, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": roomID, "members.user_id": userID},
		bson.M{"$set": bson.M{"members.$.last_seen_at": time.Now().UTC()}},
	)
	return errors.Wrapf(err, "touch last seen in room %s", roomID)
}
