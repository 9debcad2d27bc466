package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ukydev/vehicle-care/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection names used by the service.
const (
	VehiclesCollection       = "vehicles"
	ServiceRecordsCollection = "service_records"
	UsersCollection          = "users"
)

var errNilCollection = errors.New("mongo collection is nil")

// ConnectMongo connects to MongoDB and verifies the connection with a ping.
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo.Connect error: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo.Ping error: %w", err)
	}
	return client, nil
}

// EnsureIndexes creates the indexes the collections rely on.
func EnsureIndexes(ctx context.Context, database *mongo.Database) error {
	if _, err := database.Collection(VehiclesCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "owner_id", Value: 1}},
	}); err != nil {
		return fmt.Errorf("vehicles index: %w", err)
	}
	if _, err := database.Collection(ServiceRecordsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "reg_no", Value: 1}, {Key: "date", Value: -1}},
	}); err != nil {
		return fmt.Errorf("service_records index: %w", err)
	}
	users := database.Collection(UsersCollection)
	if _, err := users.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
	}); err != nil {
		return fmt.Errorf("users index: %w", err)
	}
	return nil
}

// MongoVehicleCollection stores vehicles with the registration number as _id.
type MongoVehicleCollection struct {
	Collection *mongo.Collection
}

// InsertVehicle inserts a vehicle record into the collection.
func (c *MongoVehicleCollection) InsertVehicle(ctx context.Context, vehicle models.Vehicle) error {
	if c.Collection == nil {
		return errNilCollection
	}
	_, err := c.Collection.InsertOne(ctx, vehicle)
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("vehicle %s: %w", vehicle.RegNo, ErrDuplicate)
	}
	return err
}

// FindVehicles lists vehicles, optionally restricted to one owner.
func (c *MongoVehicleCollection) FindVehicles(ctx context.Context, ownerID string) ([]models.Vehicle, error) {
	if c.Collection == nil {
		return nil, errNilCollection
	}

	filter := bson.M{}
	if ownerID != "" {
		filter["owner_id"] = ownerID
	}
	cursor, err := c.Collection.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	vehicles := []models.Vehicle{}
	if err := cursor.All(ctx, &vehicles); err != nil {
		return nil, err
	}
	return vehicles, nil
}

// FindVehicleByRegNo finds a vehicle by its registration number.
func (c *MongoVehicleCollection) FindVehicleByRegNo(ctx context.Context, regNo string) (*models.Vehicle, error) {
	if c.Collection == nil {
		return nil, errNilCollection
	}

	var vehicle models.Vehicle
	err := c.Collection.FindOne(ctx, bson.M{"_id": regNo}).Decode(&vehicle)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("vehicle %s: %w", regNo, ErrNotFound)
		}
		return nil, err
	}
	return &vehicle, nil
}

// UpdateVehicle replaces the stored vehicle; the registration number is kept.
func (c *MongoVehicleCollection) UpdateVehicle(ctx context.Context, regNo string, vehicle models.Vehicle) error {
	if c.Collection == nil {
		return errNilCollection
	}

	vehicle.RegNo = regNo
	result, err := c.Collection.ReplaceOne(ctx, bson.M{"_id": regNo}, vehicle)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("vehicle %s: %w", regNo, ErrNotFound)
	}
	return nil
}

// DeleteVehicle deletes a vehicle by its registration number.
func (c *MongoVehicleCollection) DeleteVehicle(ctx context.Context, regNo string) error {
	if c.Collection == nil {
		return errNilCollection
	}

	result, err := c.Collection.DeleteOne(ctx, bson.M{"_id": regNo})
	if err != nil {
		return err
	}
	if result.DeletedCount == 0 {
		return fmt.Errorf("vehicle %s: %w", regNo, ErrNotFound)
	}
	return nil
}

// MongoServiceRecordCollection stores the service history log.
type MongoServiceRecordCollection struct {
	Collection *mongo.Collection
}

// InsertServiceRecord inserts a service record into the collection.
func (c *MongoServiceRecordCollection) InsertServiceRecord(ctx context.Context, record models.ServiceRecord) error {
	if c.Collection == nil {
		return errNilCollection
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	_, err := c.Collection.InsertOne(ctx, record)
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("service record %s: %w", record.ID, ErrDuplicate)
	}
	return err
}

// FindServiceRecords returns the history of one vehicle, newest first.
func (c *MongoServiceRecordCollection) FindServiceRecords(ctx context.Context, regNo string) ([]models.ServiceRecord, error) {
	if c.Collection == nil {
		return nil, errNilCollection
	}

	opts := options.Find().SetSort(bson.D{{Key: "date", Value: -1}, {Key: "created_at", Value: -1}})
	cursor, err := c.Collection.Find(ctx, bson.M{"reg_no": regNo}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	records := []models.ServiceRecord{}
	if err := cursor.All(ctx, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// DeleteServiceRecords removes the history of one vehicle.
func (c *MongoServiceRecordCollection) DeleteServiceRecords(ctx context.Context, regNo string) error {
	if c.Collection == nil {
		return errNilCollection
	}
	_, err := c.Collection.DeleteMany(ctx, bson.M{"reg_no": regNo})
	return err
}
