// Package directory reads the user and farm directory the scheduler iterates
// over. Users and farms live in two separate MongoDB deployments; the
// repository joins them and normalizes every farm into a types.Farm.
package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"

	"weatheringest/internal/types"
)

const (
	usersCollection = "users"
	farmsCollection = "farms"
)

// Config holds the two database locations.
type Config struct {
	UsersURI       string
	FarmsURI       string
	ConnectTimeout time.Duration
	Logger         *slog.Logger
}

// userStore and farmStore isolate the driver calls from the mapping logic.
type userStore interface {
	allUsers(ctx context.Context) ([]mongoUser, error)
}

type farmStore interface {
	farmsByUser(ctx context.Context, userID string) ([]mongoFarm, error)
}

// MongoRepository implements the directory lookup over MongoDB.
type MongoRepository struct {
	users       userStore
	farms       farmStore
	usersClient *mongo.Client
	farmsClient *mongo.Client
	logger      *slog.Logger
}

// Connect opens clients for both databases. The driver connects lazily, so an
// unreachable server surfaces on the first query or Ping rather than here.
// The database name is taken from each URI path.
func Connect(ctx context.Context, cfg Config) (*MongoRepository, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	usersClient, usersDB, err := connect(ctx, cfg.UsersURI, "usersdb", timeout)
	if err != nil {
		return nil, fmt.Errorf("users database: %w", err)
	}
	farmsClient, farmsDB, err := connect(ctx, cfg.FarmsURI, "farmsdb", timeout)
	if err != nil {
		_ = usersClient.Disconnect(ctx)
		return nil, fmt.Errorf("farms database: %w", err)
	}

	return &MongoRepository{
		users:       &mongoUserStore{coll: usersClient.Database(usersDB).Collection(usersCollection)},
		farms:       &mongoFarmStore{coll: farmsClient.Database(farmsDB).Collection(farmsCollection)},
		usersClient: usersClient,
		farmsClient: farmsClient,
		logger:      logger,
	}, nil
}

func connect(ctx context.Context, uri, fallbackDB string, timeout time.Duration) (*mongo.Client, string, error) {
	cs, err := connstring.ParseAndValidate(uri)
	if err != nil {
		return nil, "", fmt.Errorf("invalid mongo uri: %w", err)
	}
	dbName := cs.Database
	if dbName == "" {
		dbName = fallbackDB
	}

	client, err := mongo.Connect(ctx, options.Client().
		ApplyURI(uri).
		SetConnectTimeout(timeout).
		SetServerSelectionTimeout(timeout))
	if err != nil {
		return nil, "", fmt.Errorf("could not connect to mongoDB: %w", err)
	}
	return client, dbName, nil
}

// GetAllUsersWithFarms returns every user, in directory order, with their
// farms. Only planted fields with a seed type are included.
func (r *MongoRepository) GetAllUsersWithFarms(ctx context.Context) ([]types.User, error) {
	docs, err := r.users.allUsers(ctx)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDirectory, "failed to list users", err)
	}

	users := make([]types.User, 0, len(docs))
	for _, doc := range docs {
		user := doc.toUser()
		farmDocs, err := r.farms.farmsByUser(ctx, user.ID)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDirectory, "failed to list farms", err).
				WithDetails(map[string]any{"user_id": user.ID})
		}
		user.Farms = make([]types.Farm, 0, len(farmDocs))
		for _, fd := range farmDocs {
			user.Farms = append(user.Farms, fd.toFarm())
		}
		users = append(users, user)
	}

	r.logger.Debug("directory loaded", "users", len(users))
	return users, nil
}

// Ping checks both databases.
func (r *MongoRepository) Ping(ctx context.Context) error {
	if r.usersClient == nil || r.farmsClient == nil {
		return errors.New("directory not connected")
	}
	if err := r.usersClient.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("users database: %w", err)
	}
	if err := r.farmsClient.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("farms database: %w", err)
	}
	return nil
}

// Close disconnects both clients.
func (r *MongoRepository) Close(ctx context.Context) error {
	var errs []error
	if r.usersClient != nil {
		errs = append(errs, r.usersClient.Disconnect(ctx))
	}
	if r.farmsClient != nil {
		errs = append(errs, r.farmsClient.Disconnect(ctx))
	}
	return errors.Join(errs...)
}

type mongoUserStore struct {
	coll *mongo.Collection
}

func (s *mongoUserStore) allUsers(ctx context.Context) ([]mongoUser, error) {
	cur, err := s.coll.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	var out []mongoUser
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

type mongoFarmStore struct {
	coll *mongo.Collection
}

func (s *mongoFarmStore) farmsByUser(ctx context.Context, userID string) ([]mongoFarm, error) {
	cur, err := s.coll.Find(ctx, bson.M{"userId": userID})
	if err != nil {
		return nil, err
	}
	var out []mongoFarm
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
