package mongodb

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/goevery/chatrelay/internal/broadcaster"
	"github.com/goevery/chatrelay/internal/ierr"
	"github.com/goevery/chatrelay/internal/persistence"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const messageRetention = 30 * 24 * time.Hour

type Message struct {
	Id               bson.ObjectID `bson:"_id"`
	CreateTime       time.Time     `bson:"createTime"`
	RoomId           string        `bson:"roomId"`
	SenderIdentityId string        `bson:"senderIdentityId"`
	Content          string        `bson:"content"`
}

func (m Message) toMessage() broadcaster.Message {
	return broadcaster.Message{
		Id:               m.Id.Hex(),
		RoomId:           m.RoomId,
		SenderIdentityId: m.SenderIdentityId,
		Content:          m.Content,
		CreateTime:       m.CreateTime,
	}
}

type PersistenceEngine struct {
	collection *mongo.Collection
}

func NewPersistenceEngine(client *mongo.Client, databaseName string) *PersistenceEngine {
	database := client.Database(databaseName)
	collection := database.Collection("messages")

	return &PersistenceEngine{
		collection,
	}
}

func (e *PersistenceEngine) Setup(ctx context.Context) error {
	ttlIndexModel := mongo.IndexModel{
		Keys:    bson.D{{Key: "createTime", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(int32(messageRetention.Seconds())),
	}

	roomIndexModel := mongo.IndexModel{
		Keys: bson.D{
			{Key: "roomId", Value: 1},
			{Key: "_id", Value: -1},
		},
	}

	_, err := e.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{ttlIndexModel, roomIndexModel})

	return err
}

func (e *PersistenceEngine) Save(ctx context.Context, request persistence.SaveRequest) (broadcaster.Message, error) {
	message := Message{
		Id:               bson.NewObjectID(),
		CreateTime:       time.Now().UTC().Truncate(time.Millisecond),
		RoomId:           request.RoomId,
		SenderIdentityId: request.SenderIdentityId,
		Content:          request.Content,
	}

	_, err := e.collection.InsertOne(ctx, message)
	if err != nil {
		return broadcaster.Message{}, err
	}

	return message.toMessage(), nil
}

// List returns up to persistence.ListLimit messages of a room in creation
// order. With an empty afterId it returns the most recent ones.
func (e *PersistenceEngine) List(ctx context.Context, roomId string, afterId string) ([]broadcaster.Message, error) {
	filter := bson.M{"roomId": roomId}
	opts := options.Find().SetLimit(persistence.ListLimit)

	if afterId == "" {
		opts.SetSort(bson.D{{Key: "_id", Value: -1}})
	} else {
		afterObjectId, err := bson.ObjectIDFromHex(afterId)
		if err != nil {
			return nil, ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("invalid message id: "+afterId))
		}

		filter["_id"] = bson.M{"$gt": afterObjectId}
		opts.SetSort(bson.D{{Key: "_id", Value: 1}})
	}

	cursor, err := e.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}

	var mongoMessages []Message
	err = cursor.All(ctx, &mongoMessages)
	if err != nil {
		return nil, err
	}

	if afterId == "" {
		slices.Reverse(mongoMessages)
	}

	return lo.Map(mongoMessages, func(m Message, _ int) broadcaster.Message {
		return m.toMessage()
	}), nil
}
