package mongodb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/davidschrooten/searchsync/internal/document"
)

// ErrNotFound is returned when no record matches an id
var ErrNotFound = errors.New("record not found")

// Records reads one collection as search records
type Records struct {
	coll    *mongo.Collection
	timeout time.Duration
	logger  *zap.Logger
}

// Name returns the collection name
func (r *Records) Name() string {
	return r.coll.Name()
}

// Count returns the number of records matching the filter
func (r *Records) Count(ctx context.Context, filter document.Filter) (int64, error) {
	f, err := toBSON(filter)
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	count, err := r.coll.CountDocuments(ctx, f)
	if err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return count, nil
}

// Find returns one page of records ordered by _id. A non-empty fields list
// limits the returned fields; _id is always included.
func (r *Records) Find(ctx context.Context, filter document.Filter, fields []string, skip, limit int64) ([]document.Record, error) {
	f, err := toBSON(filter)
	if err != nil {
		return nil, err
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetSkip(skip)
	if limit > 0 {
		opts.SetLimit(limit)
		opts.SetBatchSize(int32(limit))
	}
	if projection := projectionFor(fields); projection != nil {
		opts.SetProjection(projection)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cursor, err := r.coll.Find(ctx, f, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find documents: %w", err)
	}
	defer cursor.Close(ctx)

	var records []document.Record
	for cursor.Next(ctx) {
		var raw bson.M
		if err := cursor.Decode(&raw); err != nil {
			return nil, fmt.Errorf("failed to decode document: %w", err)
		}
		records = append(records, normalizeRecord(raw))
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}
	return records, nil
}

// FindByID loads a single record. Ids that look like ObjectIDs match both
// the ObjectID and the raw string form.
func (r *Records) FindByID(ctx context.Context, id string) (document.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var raw bson.M
	err := r.coll.FindOne(ctx, idFilter(id)).Decode(&raw)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%s in %s: %w", id, r.coll.Name(), ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find document %s: %w", id, err)
	}
	return normalizeRecord(raw), nil
}

// changeEvent is the subset of a change stream event the watcher reads
type changeEvent struct {
	OperationType string `bson:"operationType"`
	FullDocument  bson.M `bson:"fullDocument"`
	DocumentKey   bson.M `bson:"documentKey"`
}

// Watch streams inserts, updates, replaces and deletes to the handler until
// ctx is cancelled. It requires a replica set or sharded cluster.
func (r *Records) Watch(ctx context.Context, handler document.ChangeHandler) error {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{
			{Key: "operationType", Value: bson.D{{Key: "$in", Value: bson.A{"insert", "update", "replace", "delete"}}}},
		}}},
	}
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)

	stream, err := r.coll.Watch(ctx, pipeline, opts)
	if err != nil {
		return fmt.Errorf("failed to open change stream: %w", err)
	}
	defer stream.Close(context.Background())

	r.logger.Info("Watching collection for changes")

	for stream.Next(ctx) {
		var event changeEvent
		if err := stream.Decode(&event); err != nil {
			r.logger.Warn("Failed to decode change event", zap.Error(err))
			continue
		}
		r.dispatch(ctx, event, handler)
	}

	if err := stream.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("change stream error: %w", err)
	}
	return nil
}

func (r *Records) dispatch(ctx context.Context, event changeEvent, handler document.ChangeHandler) {
	kind, ok := kindOf(event.OperationType)
	if !ok {
		return
	}

	switch kind {
	case document.Created, document.Updated:
		if event.FullDocument == nil {
			// removed before the update could be looked up; the delete event follows
			r.logger.Debug("Change without full document", zap.String("operation", event.OperationType))
			return
		}
		handler.OnSave(ctx, normalizeRecord(event.FullDocument))
	case document.Deleted:
		handler.OnRemove(ctx, normalizeRecord(event.DocumentKey))
	}
}

// kindOf maps a change stream operation type to a change kind
func kindOf(operationType string) (document.ChangeKind, bool) {
	switch operationType {
	case "insert":
		return document.Created, true
	case "update", "replace":
		return document.Updated, true
	case "delete":
		return document.Deleted, true
	default:
		return 0, false
	}
}

// toBSON converts a filter to BSON, honoring extended JSON such as
// {"$oid": "..."} and {"$date": "..."}.
func toBSON(filter document.Filter) (bson.M, error) {
	if len(filter) == 0 {
		return bson.M{}, nil
	}
	data, err := json.Marshal(filter)
	if err != nil {
		return nil, fmt.Errorf("invalid filter: %w", err)
	}
	var out bson.M
	if err := bson.UnmarshalExtJSON(data, false, &out); err != nil {
		return nil, fmt.Errorf("invalid filter: %w", err)
	}
	return out, nil
}

func projectionFor(fields []string) bson.D {
	if len(fields) == 0 {
		return nil
	}
	projection := make(bson.D, 0, len(fields)+1)
	projection = append(projection, bson.E{Key: "_id", Value: 1})
	for _, f := range fields {
		if f == "_id" {
			continue
		}
		projection = append(projection, bson.E{Key: f, Value: 1})
	}
	return projection
}

func idFilter(id string) bson.M {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return bson.M{"_id": bson.M{"$in": bson.A{oid, id}}}
	}
	return bson.M{"_id": id}
}

func normalizeRecord(raw bson.M) document.Record {
	rec := make(document.Record, len(raw))
	for k, v := range raw {
		rec[k] = normalize(v)
	}
	return rec
}

// normalize converts BSON values to plain Go values that both search
// backends can encode.
func normalize(v interface{}) interface{} {
	switch val := v.(type) {
	case primitive.ObjectID:
		return val.Hex()
	case primitive.DateTime:
		return val.Time().UTC()
	case primitive.Timestamp:
		return time.Unix(int64(val.T), 0).UTC()
	case primitive.Decimal128:
		return val.String()
	case primitive.Binary:
		return val.Data
	case primitive.Regex:
		return val.String()
	case primitive.Null, primitive.Undefined:
		return nil
	case primitive.M:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = normalize(item)
		}
		return out
	case primitive.D:
		out := make(map[string]interface{}, len(val))
		for _, e := range val {
			out[e.Key] = normalize(e.Value)
		}
		return out
	case primitive.A:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	default:
		return v
	}
}
