package mongostore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/iot-for-tillgenglighet/api-accessmap/internal/pkg/database"
	"github.com/iot-for-tillgenglighet/api-accessmap/pkg/domain"
)

const (
	pinsCollection  = "pins"
	usersCollection = "users"

	opTimeout = 10 * time.Second
)

type pinDocument struct {
	ID                string    `bson:"_id"`
	Lat               float64   `bson:"lat"`
	Lng               float64   `bson:"lng"`
	Category          string    `bson:"category"`
	ProblemID         string    `bson:"problemId"`
	ProblemLabel      string    `bson:"problemLabel"`
	Glyph             string    `bson:"glyph"`
	Severity          string    `bson:"severity,omitempty"`
	Comment           string    `bson:"comment"`
	AuthorID          string    `bson:"authorId"`
	AuthorDisplayName string    `bson:"authorDisplayName"`
	CreatedAt         time.Time `bson:"createdAt"`
}

type userDocument struct {
	ID           string    `bson:"_id"`
	DisplayName  string    `bson:"name"`
	Email        string    `bson:"email"`
	PasswordHash string    `bson:"password"`
	CreatedAt    time.Time `bson:"createdAt"`
}

type store struct {
	client *mongo.Client
	pins   *mongo.Collection
	users  *mongo.Collection
}

//Connect dials MongoDB, verifies the connection and makes sure the indexes we query on exist
func Connect(ctx context.Context, uri, dbname string) (database.Datastore, func(context.Context) error, error) {
	start := time.Now()
	log.Infof("mongo: connecting uri=%s db=%s", redactURI(uri), dbname)

	dctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	client, err := mongo.Connect(dctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("mongo connect: %w", err)
	}

	if err = client.Ping(dctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("mongo ping: %w", err)
	}

	db := client.Database(dbname)
	s := &store{client: client, pins: db.Collection(pinsCollection), users: db.Collection(usersCollection)}

	if err := s.createIndexes(ctx); err != nil {
		log.Errorf("mongo: index creation warnings: %v", err)
	}

	log.Infof("mongo: connected ok in %s", time.Since(start).Round(time.Millisecond))

	return s, client.Disconnect, nil
}

func (s *store) createIndexes(ctx context.Context) error {
	ictx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var errs []string

	if _, err := s.pins.Indexes().CreateOne(ictx, mongo.IndexModel{
		Keys: bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}},
	}); err != nil {
		errs = append(errs, "createdAt: "+err.Error())
	}
	if _, err := s.pins.Indexes().CreateOne(ictx, mongo.IndexModel{
		Keys: bson.D{{Key: "authorId", Value: 1}},
	}); err != nil {
		errs = append(errs, "authorId: "+err.Error())
	}
	if _, err := s.users.Indexes().CreateOne(ictx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		errs = append(errs, "email: "+err.Error())
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func (s *store) CreatePin(pin domain.Pin) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := s.pins.InsertOne(ctx, fromDomainPin(pin))
	return err
}

func (s *store) GetPinByID(id string) (domain.Pin, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	doc := pinDocument{}
	err := s.pins.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Pin{}, fmt.Errorf("no pin with id %s in datastore: %w", id, domain.ErrNotFound)
		}
		return domain.Pin{}, err
	}

	return doc.toDomain(), nil
}

func (s *store) GetPins(query domain.PinQuery) ([]domain.Pin, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	filter := bson.M{}
	if query.AuthorID != "" {
		filter["authorId"] = query.AuthorID
	}

	findOptions := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}})

	cursor, err := s.pins.Find(ctx, filter, findOptions)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	docs := []pinDocument{}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	pins := make([]domain.Pin, 0, len(docs))
	for _, doc := range docs {
		pins = append(pins, doc.toDomain())
	}

	return pins, nil
}

func (s *store) GetPinCount() int {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	count, err := s.pins.CountDocuments(ctx, bson.M{})
	if err != nil {
		log.Errorf("mongo: failed to count pins: %s", err.Error())
		return 0
	}
	return int(count)
}

func (s *store) GetNewestPinTime() (time.Time, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	doc := pinDocument{}
	findOptions := options.FindOne().SetSort(bson.D{{Key: "createdAt", Value: -1}})

	err := s.pins.FindOne(ctx, bson.M{}, findOptions).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}

	return doc.CreatedAt.UTC(), nil
}

func (s *store) DeletePin(id string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	result, err := s.pins.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}

	if result.DeletedCount == 0 {
		return fmt.Errorf("unable to delete non existing pin %s: %w", id, domain.ErrNotFound)
	}

	return nil
}

func (s *store) CreateUser(user database.User) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := s.users.InsertOne(ctx, userDocument{
		ID:           user.ID,
		DisplayName:  user.DisplayName,
		Email:        user.Email,
		PasswordHash: user.PasswordHash,
		CreatedAt:    time.Now().UTC(),
	})
	return err
}

func (s *store) GetUserByEmail(email string) (database.User, error) {
	return s.findUser(bson.M{"email": email})
}

func (s *store) GetUserByID(id string) (database.User, error) {
	return s.findUser(bson.M{"_id": id})
}

func (s *store) findUser(filter bson.M) (database.User, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	doc := userDocument{}
	err := s.users.FindOne(ctx, filter).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return database.User{}, fmt.Errorf("no such user: %w", domain.ErrNotFound)
		}
		return database.User{}, err
	}

	return database.User{
		ID:           doc.ID,
		DisplayName:  doc.DisplayName,
		Email:        doc.Email,
		PasswordHash: doc.PasswordHash,
	}, nil
}

func fromDomainPin(pin domain.Pin) pinDocument {
	return pinDocument{
		ID:                pin.ID,
		Lat:               pin.Lat,
		Lng:               pin.Lng,
		Category:          pin.Category,
		ProblemID:         pin.ProblemID,
		ProblemLabel:      pin.ProblemLabel,
		Glyph:             pin.Glyph,
		Severity:          string(pin.Severity),
		Comment:           pin.Comment,
		AuthorID:          pin.AuthorID,
		AuthorDisplayName: pin.AuthorDisplayName,
		CreatedAt:         pin.CreatedAt.UTC(),
	}
}

func (doc pinDocument) toDomain() domain.Pin {
	return domain.Pin{
		ID:                doc.ID,
		Lat:               doc.Lat,
		Lng:               doc.Lng,
		Category:          doc.Category,
		ProblemID:         doc.ProblemID,
		ProblemLabel:      doc.ProblemLabel,
		Glyph:             doc.Glyph,
		Severity:          domain.Severity(doc.Severity),
		Comment:           doc.Comment,
		AuthorID:          doc.AuthorID,
		AuthorDisplayName: doc.AuthorDisplayName,
		CreatedAt:         doc.CreatedAt.UTC(),
	}
}

func redactURI(raw string) string {
	if raw == "" || !strings.Contains(raw, "://") {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	u.User = url.UserPassword("****", "****")
	return u.String()
}
