package db

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/rowjay/docmigrate/internal/document"
)

// MongoStore maps collections of one MongoDB database. _id keeps its native
// type: string, ObjectID, int32 or int64. Other _id types are rejected.
type MongoStore struct {
	client       *mongo.Client
	db           *mongo.Database
	transactions bool
}

// NewMongoStore connects and pings the primary. With transactions set, every
// batch is committed inside a multi-document transaction (replica sets only);
// otherwise a batch is one ordered bulk write.
func NewMongoStore(ctx context.Context, uri, database string, timeout time.Duration, transactions bool) (*MongoStore, error) {
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("create mongodb client: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, timeout)
	defer pingCancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		disconnectCtx, disconnectCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer disconnectCancel()
		_ = client.Disconnect(disconnectCtx)
		return nil, fmt.Errorf("connect to mongodb (ping failed): %w", err)
	}
	return &MongoStore{client: client, db: client.Database(database), transactions: transactions}, nil
}

func (m *MongoStore) Name() string { return "mongodb" }

func (m *MongoStore) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, readpref.Primary())
}

func (m *MongoStore) ListCollections(ctx context.Context) ([]string, error) {
	names, err := m.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(names))
	for _, name := range names {
		if strings.HasPrefix(name, "system.") {
			continue
		}
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MongoStore) Scan(ctx context.Context, collection string, filter *Filter) ([]document.Document, error) {
	query, err := filterToBSON(filter)
	if err != nil {
		return nil, err
	}
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := m.db.Collection(collection).Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	docs := []document.Document{}
	for cursor.Next(ctx) {
		var raw bson.M
		if err := cursor.Decode(&raw); err != nil {
			return nil, fmt.Errorf("decode %s: %w", collection, err)
		}
		doc, err := fromBSON(raw)
		if err != nil {
			return nil, fmt.Errorf("convert %s: %w", collection, err)
		}
		docs = append(docs, doc)
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	// _id ordering in MongoDB is by BSON type first; keep string order.
	document.SortByID(docs)
	return docs, nil
}

func (m *MongoStore) CountDocuments(ctx context.Context, collection string, filter *Filter) (int, error) {
	query, err := filterToBSON(filter)
	if err != nil {
		return 0, err
	}
	n, err := m.db.Collection(collection).CountDocuments(ctx, query)
	return int(n), err
}

func (m *MongoStore) WriteBatch(ctx context.Context, collection string, docs []document.Document) error {
	if len(docs) == 0 {
		return nil
	}
	models := make([]mongo.WriteModel, 0, len(docs))
	for _, doc := range docs {
		id, err := nativeID(doc)
		if err != nil {
			return fmt.Errorf("%s: %w", collection, err)
		}
		replacement := toBSONMap(doc.Data)
		replacement["_id"] = id
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": id}).
			SetReplacement(replacement).
			SetUpsert(true))
	}
	coll := m.db.Collection(collection)
	write := func(ctx context.Context) error {
		_, err := coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(true))
		return err
	}
	if !m.transactions {
		return write(ctx)
	}

	session, err := m.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)
	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, write(sc)
	})
	return err
}

func (m *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

func fromBSON(raw bson.M) (document.Document, error) {
	id, ok := raw["_id"]
	if !ok {
		return document.Document{}, fmt.Errorf("document without _id")
	}
	doc := document.Document{Data: make(document.Map, len(raw))}
	switch t := id.(type) {
	case string:
		doc.ID = t
	case primitive.ObjectID:
		doc.ID, doc.IDKind = t.Hex(), document.IDObjectID
	case int32:
		doc.ID, doc.IDKind = strconv.FormatInt(int64(t), 10), document.IDInt32
	case int64:
		doc.ID, doc.IDKind = strconv.FormatInt(t, 10), document.IDInt64
	default:
		return document.Document{}, fmt.Errorf("unsupported _id type %T", id)
	}
	for k, v := range raw {
		if k == "_id" {
			continue
		}
		doc.Data[k] = bsonToValue(v)
	}
	return doc, nil
}

// nativeID rebuilds the _id value a document was read with.
func nativeID(doc document.Document) (any, error) {
	switch doc.IDKind {
	case document.IDString:
		return doc.ID, nil
	case document.IDObjectID:
		oid, err := primitive.ObjectIDFromHex(doc.ID)
		if err != nil {
			return nil, fmt.Errorf("document %s: %w", doc.ID, err)
		}
		return oid, nil
	case document.IDInt32:
		n, err := strconv.ParseInt(doc.ID, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("document %s: %w", doc.ID, err)
		}
		return int32(n), nil
	case document.IDInt64:
		n, err := strconv.ParseInt(doc.ID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("document %s: %w", doc.ID, err)
		}
		return n, nil
	default:
		return nil, fmt.Errorf("document %s: unknown id kind %q", doc.ID, doc.IDKind)
	}
}

func bsonToValue(v any) document.Value {
	switch t := v.(type) {
	case nil, primitive.Null, primitive.Undefined:
		return document.Null()
	case bool:
		return document.Bool(t)
	case int32:
		return document.Int(int64(t))
	case int64:
		return document.Int(t)
	case float64:
		return document.Float(t)
	case string:
		return document.String(t)
	case primitive.ObjectID:
		return document.String(t.Hex())
	case primitive.DateTime:
		return document.Time(t.Time())
	case time.Time:
		return document.Time(t)
	case primitive.Timestamp:
		return document.Time(time.Unix(int64(t.T), 0))
	case primitive.Binary:
		return document.Bytes(t.Data)
	case []byte:
		return document.Bytes(t)
	case primitive.Decimal128:
		return document.String(t.String())
	case primitive.A:
		items := make([]document.Value, len(t))
		for i, item := range t {
			items[i] = bsonToValue(item)
		}
		return document.List(items...)
	case primitive.M:
		m := make(document.Map, len(t))
		for k, item := range t {
			m[k] = bsonToValue(item)
		}
		return document.Object(m)
	case primitive.D:
		m := make(document.Map, len(t))
		for _, e := range t {
			m[e.Key] = bsonToValue(e.Value)
		}
		return document.Object(m)
	default:
		return document.String(fmt.Sprint(t))
	}
}

func toBSONMap(m document.Map) bson.M {
	out := make(bson.M, len(m))
	for k, v := range m {
		out[k] = valueToBSON(v)
	}
	return out
}

func valueToBSON(v document.Value) any {
	switch v.Kind() {
	case document.KindBytes:
		b, _ := v.BytesValue()
		return primitive.Binary{Data: b}
	case document.KindList:
		items := v.Items()
		out := make(bson.A, len(items))
		for i, item := range items {
			out[i] = valueToBSON(item)
		}
		return out
	case document.KindMap:
		return toBSONMap(v.Fields())
	default:
		return v.Any()
	}
}

var bsonOps = map[Op]string{
	OpLt:  "$lt",
	OpLte: "$lte",
	OpGt:  "$gt",
	OpGte: "$gte",
	OpIn:  "$in",
}

func filterToBSON(f *Filter) (bson.M, error) {
	if f == nil {
		return bson.M{}, nil
	}
	value := valueToBSON(f.Value)
	switch f.Op {
	case OpEq:
		return bson.M{f.Field: value}, nil
	case OpArrayContains:
		return bson.M{f.Field: bson.M{"$elemMatch": bson.M{"$eq": value}}}, nil
	case OpNotIn:
		// not-in requires the field to exist, matching the in-process filter.
		return bson.M{f.Field: bson.M{"$exists": true, "$nin": value}}, nil
	case OpNe:
		return bson.M{f.Field: bson.M{"$exists": true, "$ne": value}}, nil
	}
	op, ok := bsonOps[f.Op]
	if !ok {
		return nil, fmt.Errorf("unsupported operator %s", f.Op)
	}
	return bson.M{f.Field: bson.M{op: value}}, nil
}
