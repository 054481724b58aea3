package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/example/shego/internal/booking/domain"
)

const bookingsCollection = "bookings"

// NewMongoClient connects and pings the deployment.
func NewMongoClient(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx2, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx2, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("%w: mongo connect: %v", domain.ErrStore, err)
	}
	if err := client.Ping(ctx2, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("%w: mongo ping: %v", domain.ErrStore, err)
	}
	return client, nil
}

type geoJSONPoint struct {
	Type        string    `bson:"type"`
	Coordinates []float64 `bson:"coordinates"`
	Address     string    `bson:"address"`
}

func toGeoJSON(p domain.GeoPoint) geoJSONPoint {
	return geoJSONPoint{Type: "Point", Coordinates: []float64{p.Longitude, p.Latitude}, Address: p.Address}
}

func (g geoJSONPoint) point() domain.GeoPoint {
	p := domain.GeoPoint{Address: g.Address}
	if len(g.Coordinates) == 2 {
		p.Longitude, p.Latitude = g.Coordinates[0], g.Coordinates[1]
	}
	return p
}

type mongoDriver struct {
	Name    string `bson:"name"`
	Vehicle string `bson:"vehicle"`
	Plate   string `bson:"plate"`
	Phone   string `bson:"phone"`
}

type mongoBooking struct {
	ID              primitive.ObjectID `bson:"_id,omitempty"`
	PassengerID     string             `bson:"passengerId"`
	DriverID        string             `bson:"driverId,omitempty"`
	Driver          *mongoDriver       `bson:"driver,omitempty"`
	PickupLocation  geoJSONPoint       `bson:"pickupLocation"`
	DropoffLocation geoJSONPoint       `bson:"dropoffLocation"`
	Fare            float64            `bson:"fare"`
	Status          string             `bson:"status"`
	PaymentMethod   string             `bson:"paymentMethod"`
	RequestedAt     time.Time          `bson:"requestedAt"`
	StartedAt       *time.Time         `bson:"startedAt,omitempty"`
	CompletedAt     *time.Time         `bson:"completedAt,omitempty"`
	CancelledAt     *time.Time         `bson:"cancelledAt,omitempty"`
	DistanceKm      float64            `bson:"distanceKm"`
	DurationMinutes float64            `bson:"durationMinutes"`
	UpdatedAt       time.Time          `bson:"updatedAt"`
	Version         int64              `bson:"version"`
}

func toMongoBooking(b domain.Booking) mongoBooking {
	doc := mongoBooking{
		PassengerID:     b.PassengerID,
		DriverID:        b.DriverID,
		PickupLocation:  toGeoJSON(b.Pickup),
		DropoffLocation: toGeoJSON(b.Dropoff),
		Fare:            b.Fare,
		Status:          string(b.Status),
		PaymentMethod:   string(b.PaymentMethod),
		RequestedAt:     b.RequestedAt,
		StartedAt:       b.StartedAt,
		CompletedAt:     b.CompletedAt,
		CancelledAt:     b.CancelledAt,
		DistanceKm:      b.DistanceKm,
		DurationMinutes: b.DurationMinutes,
		UpdatedAt:       b.UpdatedAt,
		Version:         b.Version,
	}
	if id, err := primitive.ObjectIDFromHex(b.ID); err == nil {
		doc.ID = id
	}
	if b.Driver != nil {
		doc.Driver = &mongoDriver{Name: b.Driver.Name, Vehicle: b.Driver.Vehicle, Plate: b.Driver.Plate, Phone: b.Driver.Phone}
	}
	return doc
}

// Mongo stores datetimes with millisecond precision and no zone; results are
// normalized to UTC.
func (d mongoBooking) booking() domain.Booking {
	b := domain.Booking{
		ID:              d.ID.Hex(),
		PassengerID:     d.PassengerID,
		DriverID:        d.DriverID,
		Pickup:          d.PickupLocation.point(),
		Dropoff:         d.DropoffLocation.point(),
		Fare:            d.Fare,
		Status:          domain.Status(d.Status),
		PaymentMethod:   domain.PaymentMethod(d.PaymentMethod),
		RequestedAt:     d.RequestedAt.UTC(),
		StartedAt:       utcPtr(d.StartedAt),
		CompletedAt:     utcPtr(d.CompletedAt),
		CancelledAt:     utcPtr(d.CancelledAt),
		DistanceKm:      d.DistanceKm,
		DurationMinutes: d.DurationMinutes,
		UpdatedAt:       d.UpdatedAt.UTC(),
		Version:         d.Version,
	}
	if d.Driver != nil {
		b.Driver = &domain.DriverInfo{Name: d.Driver.Name, Vehicle: d.Driver.Vehicle, Plate: d.Driver.Plate, Phone: d.Driver.Phone}
	}
	return b
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

// MongoRepository is the durable Booking Store. Ids are ObjectIDs generated by
// the driver; updates are compare-and-swap on the version field.
type MongoRepository struct {
	col        *mongo.Collection
	maxRetries int
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{col: db.Collection(bookingsCollection), maxRetries: defaultUpdateRetries}
}

// EnsureIndexes creates the geospatial and status indexes.
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "pickupLocation", Value: "2dsphere"}}},
		{Keys: bson.D{{Key: "dropoffLocation", Value: "2dsphere"}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("%w: mongo create indexes: %v", domain.ErrStore, err)
	}
	return nil
}

func (r *MongoRepository) CreateBooking(ctx context.Context, booking domain.Booking) (domain.Booking, error) {
	if err := booking.CheckInvariants(); err != nil {
		return domain.Booking{}, err
	}
	booking.ID = primitive.NewObjectID().Hex()
	booking.Version = 1
	// BSON dates hold milliseconds; return what a later read will see.
	booking.RequestedAt = booking.RequestedAt.UTC().Truncate(time.Millisecond)
	if booking.UpdatedAt.IsZero() {
		booking.UpdatedAt = booking.RequestedAt
	}
	booking.UpdatedAt = booking.UpdatedAt.UTC().Truncate(time.Millisecond)
	if _, err := r.col.InsertOne(ctx, toMongoBooking(booking)); err != nil {
		return domain.Booking{}, fmt.Errorf("%w: mongo insert: %v", domain.ErrStore, err)
	}
	return booking, nil
}

func (r *MongoRepository) GetBookingByID(ctx context.Context, id string) (domain.Booking, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return domain.Booking{}, domain.ErrNotFound
	}
	var doc mongoBooking
	err = r.col.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Booking{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Booking{}, fmt.Errorf("%w: mongo find: %v", domain.ErrStore, err)
	}
	return doc.booking(), nil
}

// UpdateBooking replaces the document only if its version is unchanged since
// the read, retrying on a lost race.
func (r *MongoRepository) UpdateBooking(ctx context.Context, id string, mutate func(domain.Booking) (domain.Booking, error)) (domain.Booking, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return domain.Booking{}, domain.ErrNotFound
	}
	for attempt := 0; attempt < r.maxRetries; attempt++ {
		existing, err := r.GetBookingByID(ctx, id)
		if err != nil {
			return domain.Booking{}, err
		}
		next, err := mutate(existing.Clone())
		if err != nil {
			return domain.Booking{}, err
		}
		if err := domain.CheckUpdate(existing, next); err != nil {
			return domain.Booking{}, err
		}
		next.Version = existing.Version + 1
		doc := toMongoBooking(next)
		doc.ID = oid

		res, err := r.col.ReplaceOne(ctx, bson.M{"_id": oid, "version": existing.Version}, doc)
		if err != nil {
			return domain.Booking{}, fmt.Errorf("%w: mongo replace: %v", domain.ErrStore, err)
		}
		if res.MatchedCount == 1 {
			return next, nil
		}
	}
	return domain.Booking{}, fmt.Errorf("%w: %s after %d attempts", domain.ErrConflict, id, r.maxRetries)
}

// NearbyBookings uses $nearSphere on the pickup 2dsphere index, so results come
// back nearest first.
func (r *MongoRepository) NearbyBookings(ctx context.Context, status domain.Status, point domain.GeoPoint, radiusKM float64, limit int) ([]domain.Booking, error) {
	filter := bson.M{
		"status": string(status),
		"pickupLocation": bson.M{
			"$nearSphere": bson.M{
				"$geometry": bson.M{
					"type":        "Point",
					"coordinates": []float64{point.Longitude, point.Latitude},
				},
				"$maxDistance": radiusKM * 1000,
			},
		},
	}
	opts := options.Find()
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: mongo nearby: %v", domain.ErrStore, err)
	}
	defer cur.Close(ctx)

	var out []domain.Booking
	for cur.Next(ctx) {
		var doc mongoBooking
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("%w: mongo decode: %v", domain.ErrStore, err)
		}
		out = append(out, doc.booking())
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("%w: mongo cursor: %v", domain.ErrStore, err)
	}
	return out, nil
}
