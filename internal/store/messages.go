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

type MessageStore struct {
	coll *mongo.Collection
}

func NewMessageStore(db *mongo.Database) *MessageStore {
	return &MessageStore{coll: db.Collection(messagesCollection)}
}

// Insert persists a new message, assigning its ID and creation timestamp.
func (s *MessageStore) Insert(ctx context.Context, msg *models.Message) (*models.Message, error) {
	if len(msg.Content) > models.MaxContentLength {
		return nil, errs.Newf(errs.KindValidation, "content exceeds %d characters", models.MaxContentLength)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Type == "" {
		msg.Type = models.MessageTypeText
	}
	msg.CreatedAt = time.Now().UTC()
	if _, err := s.coll.InsertOne(ctx, msg); err != nil {
		return nil, errors.Wrap(err, "insert message")
	}
	return msg, nil
}

// Get returns a message by ID, including soft-deleted ones; callers that
// serve room reads should use ListPage instead.
func (s *MessageStore) Get(ctx context.Context, id string) (*models.Message, error) {
	var msg models.Message
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&msg)
	if err == mongo.ErrNoDocuments {
		return nil, errs.Newf(errs.KindValidation, "message %s not found", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get message %s", id)
	}
	return &msg, nil
}

// ListPage returns one page of a room's messages, newest first. Soft-deleted
// messages are excluded. The creation timestamp is the authoritative order
// for history, regardless of broadcast arrival order.
func (s *MessageStore) ListPage(ctx context.Context, roomID string, page, limit int) ([]models.Message, error) {
	if page < 1 {
		page = 1
	}
	limit = config.ClampPageLimit(limit)

	filter := bson.M{"room_id": roomID, "deleted": false}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip(int64((page - 1) * limit)).
		SetLimit(int64(limit))

	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "list messages for room %s", roomID)
	}
	defer cur.Close(ctx)

	msgs := []models.Message{}
	if err := cur.All(ctx, &msgs); err != nil {
		return nil, errors.Wrap(err, "decode messages")
	}
	return msgs, nil
}

// Edit replaces a message's content. Only the sender may edit.
func (s *MessageStore) Edit(ctx context.Context, id, userID, content string) (*models.Message, error) {
	if len(content) > models.MaxContentLength {
		return nil, errs.Newf(errs.KindValidation, "content exceeds %d characters", models.MaxContentLength)
	}

	msg, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != userID {
		return nil, errs.New(errs.KindAuthorization, "only the sender may edit a message")
	}
	if msg.Deleted {
		return nil, errs.Newf(errs.KindValidation, "message %s is deleted", id)
	}

	now := time.Now().UTC()
	_, err = s.coll.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"content": content, "edited": true, "edited_at": now}},
	)
	if err != nil {
		return nil, errors.Wrapf(err, "edit message %s", id)
	}
	msg.Content = content
	msg.Edited = true
	msg.EditedAt = &now
	return msg, nil
}

// SoftDelete marks a message deleted without removing it. Only the sender may
// delete. Deleted messages drop out of ListPage but remain retrievable by ID.
func (s *MessageStore) SoftDelete(ctx context.Context, id, userID string) error {
	msg, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if msg.SenderID != userID {
		return errs.New(errs.KindAuthorization, "only the sender may delete a message")
	}

	_, err = s.coll.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"deleted": true, "deleted_at": time.Now().UTC(), "deleted_by": userID}},
	)
	return errors.Wrapf(err, "delete message %s", id)
}

// SetReaction records the identity's reaction, replacing any previous one
// (at most one reaction per identity).
func (s *MessageStore) SetReaction(ctx context.Context, id, userID, emoji string) (*models.Message, error) {
	// Pull-then-push keeps one entry per identity. The two updates are not
	// atomic together, but the worst interleaving leaves a single entry.
	if _, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$pull": bson.M{"reactions": bson.M{"user_id": userID}}},
	); err != nil {
		return nil, errors.Wrapf(err, "clear reaction on message %s", id)
	}

	reaction := models.Reaction{UserID: userID, Emoji: emoji, At: time.Now().UTC()}
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": id, "deleted": false},
		bson.M{"$push": bson.M{"reactions": reaction}},
	)
	if err != nil {
		return nil, errors.Wrapf(err, "set reaction on message %s", id)
	}
	if res.MatchedCount == 0 {
		return nil, errs.Newf(errs.KindValidation, "message %s not found", id)
	}
	return s.Get(ctx, id)
}

// RemoveReaction clears the identity's reaction, if any.
func (s *MessageStore) RemoveReaction(ctx context.Context, id, userID string) (*models.Message, error) {
	_, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$pull": bson.M{"reactions": bson.M{"user_id": userID}}},
	)
	if err != nil {
		return nil, errors.Wrapf(err, "remove reaction on message %s", id)
	}
	return s.Get(ctx, id)
}

// MarkRead adds a read receipt for the identity to every message in the room
// created at or before the given time that the identity has not already read.
func (s *MessageStore) MarkRead(ctx context.Context, roomID, userID string, until time.Time) error {
	receipt := models.ReadReceipt{UserID: userID, At: time.Now().UTC()}
	_, err := s.coll.UpdateMany(ctx,
		bson.M{
			"room_id":         roomID,
			"deleted":         false,
			"created_at":      bson.M{"$lte": until},
			"read_by.user_id": bson.M{"$ne": userID},
		},
		bson.M{"$push": bson.M{"read_by": receipt}},
	)
	return errors.Wrapf(err, "mark read in room %s", roomID)
}
