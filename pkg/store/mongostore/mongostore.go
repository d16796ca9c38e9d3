// Package mongostore implements cve.Repository over a MongoDB collection
// laid out like the cve_details collection of the vulnerability feed.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/castleinc/cveagent/pkg/cve"
)

const (
	DefaultDatabase   = "cve_database"
	DefaultCollection = "cve_details"
)

// document is the stored shape.
type document struct {
	CVENo                    string     `bson:"cve_no"`
	Title                    string     `bson:"cve_title,omitempty"`
	Description              string     `bson:"description,omitempty"`
	TechnicalDescription     string     `bson:"technical_description,omitempty"`
	Severity                 string     `bson:"severity,omitempty"`
	CVSSScore                float64    `bson:"cvss_score,omitempty"`
	CVSSVector               string     `bson:"cvss_vector,omitempty"`
	ExploitMaturity          string     `bson:"exploit_code_maturity,omitempty"`
	RemediationLevel         string     `bson:"remediation_level,omitempty"`
	ReportConfidence         string     `bson:"report_confidence,omitempty"`
	ClassificationLocation   string     `bson:"classifications_location,omitempty"`
	ClassificationAttackType string     `bson:"classifications_attack_type,omitempty"`
	ClassificationImpact     string     `bson:"classifications_impact,omitempty"`
	Solution                 string     `bson:"solution,omitempty"`
	Keywords                 []string   `bson:"keywords,omitempty"`
	References               []string   `bson:"references,omitempty"`
	AffectedProducts         []string   `bson:"affected_products,omitempty"`
	Published                time.Time  `bson:"published_date,omitempty"`
	LastModified             time.Time  `bson:"last_modified_date,omitempty"`
	IsActive                 activeFlag `bson:"is_active"`
}

var fieldPaths = map[cve.Field]string{
	cve.FieldSeverity:        "severity",
	cve.FieldExploitMaturity: "exploit_code_maturity",
	cve.FieldClassification:  "classifications_location",
}

// Store is safe for concurrent use; the driver pools connections per call.
type Store struct {
	client *mongo.Client
	coll   *mongo.Collection
	owned  bool
}

var (
	_ cve.Repository = (*Store)(nil)
	_ cve.Writer     = (*Store)(nil)
)

// Config selects the deployment and collection.
type Config struct {
	URI        string
	Database   string
	Collection string
	Timeout    time.Duration
}

// Connect dials MongoDB and verifies the primary is reachable.
func Connect(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.URI == "" {
		return nil, errors.New("mongostore: empty URI")
	}
	opts := options.Client().ApplyURI(cfg.URI)
	if cfg.Timeout > 0 {
		opts.SetTimeout(cfg.Timeout)
	}
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongostore: connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongostore: ping: %w", err)
	}
	s := New(client, cfg.Database, cfg.Collection)
	s.owned = true
	return s, nil
}

// New wraps an existing client. Close does not disconnect it.
func New(client *mongo.Client, database, collection string) *Store {
	if database == "" {
		database = DefaultDatabase
	}
	if collection == "" {
		collection = DefaultCollection
	}
	return &Store{client: client, coll: client.Database(database).Collection(collection)}
}

// EnsureIndexes creates the identifier, score and text-field indexes.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "cve_no", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "cvss_score", Value: -1}, {Key: "cve_no", Value: 1}}},
		{Keys: bson.D{{Key: "severity", Value: 1}}},
	})
	return err
}

// Close disconnects the client when the store created it.
func (s *Store) Close(ctx context.Context) error {
	if !s.owned {
		return nil
	}
	return s.client.Disconnect(ctx)
}

func (s *Store) FindByID(ctx context.Context, id string) (cve.Record, error) {
	var doc document
	err := s.coll.FindOne(ctx, bson.M{"cve_no": strings.ToUpper(strings.TrimSpace(id))}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return cve.Record{}, cve.ErrNotFound
	}
	if err != nil {
		return cve.Record{}, err
	}
	return doc.record(), nil
}

func (s *Store) FindByFilter(ctx context.Context, c cve.Criteria, limit int, sort *cve.Sort) ([]cve.Record, error) {
	filter, err := criteriaFilter(c)
	if err != nil {
		return nil, err
	}
	return s.find(ctx, filter, limit, sort)
}

// TextSearch matches keyword as a literal, case-insensitive substring.
func (s *Store) TextSearch(ctx context.Context, keyword string, limit int) ([]cve.Record, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return nil, nil
	}
	return s.find(ctx, keywordFilter(keyword), limit, nil)
}

func (s *Store) AggregateCountsBy(ctx context.Context, f cve.Field) (map[string]int, error) {
	path, ok := fieldPaths[f]
	if !ok {
		return nil, cve.ErrUnsupportedField{Field: f}
	}
	var key any = "$" + path
	if f == cve.FieldSeverity {
		key = ratingExpr()
	}
	cur, err := s.coll.Aggregate(ctx, groupPipeline(key))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := map[string]int{}
	for cur.Next(ctx) {
		var row struct {
			Key   *string `bson:"_id"`
			Count int     `bson:"count"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, err
		}
		k := ""
		if row.Key != nil {
			k = *row.Key
		}
		if f == cve.FieldSeverity {
			sev, ok := cve.ParseSeverity(k)
			if !ok {
				sev = cve.SeverityUnknown
			}
			k = string(sev)
		}
		out[k] += row.Count
	}
	return out, cur.Err()
}

// Upsert replaces documents by cve_no, inserting missing ones.
func (s *Store) Upsert(ctx context.Context, rs ...cve.Record) error {
	if len(rs) == 0 {
		return nil
	}
	models := make([]mongo.WriteModel, 0, len(rs))
	for _, r := range rs {
		r.Normalize()
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"cve_no": r.CVEID}).
			SetReplacement(fromRecord(r)).
			SetUpsert(true))
	}
	_, err := s.coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(true))
	return err
}

func (s *Store) find(ctx context.Context, filter bson.D, limit int, sort *cve.Sort) ([]cve.Record, error) {
	opts := options.Find().SetSort(sortSpec(sort))
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var docs []document
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]cve.Record, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.record())
	}
	return out, nil
}

// The feed writes is_active as the string "1"; older loaders used numbers
// or booleans.
var activeFilter = bson.E{Key: "is_active", Value: bson.D{{Key: "$in", Value: bson.A{"1", 1, true}}}}

// activeFlag decodes is_active from any of the encodings activeFilter
// accepts and writes it back as "1" or "0".
type activeFlag bool

func (a activeFlag) MarshalBSONValue() (bsontype.Type, []byte, error) {
	if a {
		return bson.MarshalValue("1")
	}
	return bson.MarshalValue("0")
}

func (a *activeFlag) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	v := bsoncore.Value{Type: t, Data: data}
	switch t {
	case bsontype.String:
		s := strings.TrimSpace(v.StringValue())
		*a = activeFlag(s == "1" || strings.EqualFold(s, "true"))
	case bsontype.Int32:
		*a = v.Int32() == 1
	case bsontype.Int64:
		*a = v.Int64() == 1
	case bsontype.Double:
		*a = v.Double() == 1
	case bsontype.Boolean:
		*a = activeFlag(v.Boolean())
	case bsontype.Null, bsontype.Undefined:
		*a = false
	default:
		return fmt.Errorf("mongostore: cannot decode %s into is_active", t)
	}
	return nil
}

func criteriaFilter(c cve.Criteria) (bson.D, error) {
	var and bson.A
	if !c.IncludeInactive {
		and = append(and, bson.D{activeFilter})
	}
	unscored := bson.D{{Key: "$or", Value: bson.A{
		bson.D{{Key: "cvss_score", Value: bson.D{{Key: "$exists", Value: false}}}},
		bson.D{{Key: "cvss_score", Value: 0}},
	}}}
	if c.Severity != "" {
		band, ok := cve.ScoreBand(c.Severity)
		if !ok {
			return nil, fmt.Errorf("unknown severity %q", c.Severity)
		}
		inBand := bson.D{{Key: "$gte", Value: band.Min}}
		if band.Below > 0 {
			inBand = append(inBand, bson.E{Key: "$lt", Value: band.Below})
		}
		and = append(and, bson.D{{Key: "$or", Value: bson.A{
			bson.D{{Key: "cvss_score", Value: inBand}},
			bson.D{{Key: "$and", Value: bson.A{unscored, bson.D{{Key: "severity", Value: string(c.Severity)}}}}},
		}}})
	}
	if c.MinScore != nil || c.MaxScore != nil {
		rng := bson.D{{Key: "$gt", Value: 0}}
		if c.MinScore != nil {
			rng = append(rng, bson.E{Key: "$gte", Value: *c.MinScore})
		}
		if c.MaxScore != nil {
			rng = append(rng, bson.E{Key: "$lte", Value: *c.MaxScore})
		}
		and = append(and, bson.D{{Key: "cvss_score", Value: rng}})
	}
	if c.ExploitMaturity != "" {
		and = append(and, bson.D{{Key: "exploit_code_maturity", Value: exactFold(c.ExploitMaturity)}})
	}
	if len(and) == 0 {
		return bson.D{}, nil
	}
	return bson.D{{Key: "$and", Value: and}}, nil
}

func keywordFilter(keyword string) bson.D {
	rx := primitive.Regex{Pattern: regexp.QuoteMeta(keyword), Options: "i"}
	return bson.D{
		activeFilter,
		{Key: "$or", Value: bson.A{
			bson.D{{Key: "description", Value: rx}},
			bson.D{{Key: "keywords", Value: rx}},
			bson.D{{Key: "cve_title", Value: rx}},
		}},
	}
}

func groupPipeline(key any) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: bson.D{activeFilter}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: key},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}
}

// ratingExpr mirrors cve.Record.Rating: scored documents are rated by band,
// unscored ones keep their upper-cased label.
func ratingExpr() bson.D {
	var branches bson.A
	for _, sev := range cve.Severities {
		band, _ := cve.ScoreBand(sev)
		branches = append(branches, bson.D{
			{Key: "case", Value: bson.D{{Key: "$gte", Value: bson.A{"$cvss_score", band.Min}}}},
			{Key: "then", Value: string(sev)},
		})
	}
	byScore := bson.D{{Key: "$switch", Value: bson.D{
		{Key: "branches", Value: branches},
		{Key: "default", Value: string(cve.SeverityUnknown)},
	}}}
	return bson.D{{Key: "$cond", Value: bson.D{
		{Key: "if", Value: bson.D{{Key: "$gt", Value: bson.A{"$cvss_score", 0}}}},
		{Key: "then", Value: byScore},
		{Key: "else", Value: bson.D{{Key: "$toUpper", Value: bson.D{{Key: "$ifNull", Value: bson.A{"$severity", ""}}}}}},
	}}}
}

func exactFold(v string) primitive.Regex {
	return primitive.Regex{Pattern: "^" + regexp.QuoteMeta(v) + "$", Options: "i"}
}

func sortSpec(s *cve.Sort) bson.D {
	if s == nil {
		s = &cve.DefaultSort
	}
	key := "cvss_score"
	if s.By == cve.SortByPublished {
		key = "published_date"
	}
	dir := 1
	if s.Desc {
		dir = -1
	}
	return bson.D{{Key: key, Value: dir}, {Key: "cve_no", Value: 1}}
}

func fromRecord(r cve.Record) document {
	d := document{
		CVENo:                    r.CVEID,
		Title:                    r.Title,
		Description:              r.Description,
		TechnicalDescription:     r.TechnicalDescription,
		Severity:                 string(r.Severity),
		CVSSScore:                r.CVSSScore,
		CVSSVector:               r.CVSSVector,
		ExploitMaturity:          r.ExploitMaturity,
		RemediationLevel:         r.RemediationLevel,
		ReportConfidence:         r.ReportConfidence,
		ClassificationLocation:   r.ClassificationLocation,
		ClassificationAttackType: r.ClassificationAttackType,
		ClassificationImpact:     r.ClassificationImpact,
		Solution:                 r.Solution,
		Keywords:                 r.Keywords,
		References:               r.References,
		AffectedProducts:         r.AffectedProducts,
		Published:                r.Published,
		LastModified:             r.LastModified,
	}
	d.IsActive = activeFlag(r.Active)
	return d
}

func (d document) record() cve.Record {
	r := cve.Record{
		CVEID:                    d.CVENo,
		Title:                    d.Title,
		Description:              d.Description,
		TechnicalDescription:     d.TechnicalDescription,
		Severity:                 cve.Severity(d.Severity),
		CVSSScore:                d.CVSSScore,
		CVSSVector:               d.CVSSVector,
		ExploitMaturity:          d.ExploitMaturity,
		RemediationLevel:         d.RemediationLevel,
		ReportConfidence:         d.ReportConfidence,
		ClassificationLocation:   d.ClassificationLocation,
		ClassificationAttackType: d.ClassificationAttackType,
		ClassificationImpact:     d.ClassificationImpact,
		Solution:                 d.Solution,
		Keywords:                 d.Keywords,
		References:               d.References,
		AffectedProducts:         d.AffectedProducts,
		Published:                d.Published,
		LastModified:             d.LastModified,
		Active:                   bool(d.IsActive),
	}
	r.Normalize()
	return r
}
