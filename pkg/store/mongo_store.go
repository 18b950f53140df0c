package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/iamakashsinghrajput/BookHaven/pkg/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	usersCollection      = "users"
	papersCollection     = "papers"
	activitiesCollection = "activities"
	rewardsCollection    = "rewards"
)

// MongoStore implements Store on MongoDB. Multi-document transactions are
// not used; WithinTx runs fn against the store itself.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

type userDoc struct {
	ID              string     `bson:"_id"`
	Name            string     `bson:"name"`
	Email           string     `bson:"email"`
	PasswordHash    string     `bson:"passwordHash"`
	Mobile          string     `bson:"mobile,omitempty"`
	Role            string     `bson:"role"`
	Status          string     `bson:"status"`
	EmailVerifiedAt *time.Time `bson:"emailVerifiedAt,omitempty"`
	LastLoginAt     *time.Time `bson:"lastLoginAt,omitempty"`
	CreatedAt       time.Time  `bson:"createdAt"`
	UpdatedAt       time.Time  `bson:"updatedAt"`
}

type paperDoc struct {
	ID              string    `bson:"_id"`
	Title           string    `bson:"title"`
	Author          string    `bson:"author"`
	Subject         string    `bson:"subject"`
	Category        string    `bson:"category"`
	Tags            []string  `bson:"tags"`
	Description     string    `bson:"description,omitempty"`
	FileKey         string    `bson:"fileKey"`
	FileType        string    `bson:"fileType"`
	FileSize        int64     `bson:"fileSize"`
	PageCount       int       `bson:"pageCount,omitempty"`
	UploaderID      string    `bson:"uploaderId"`
	DownloadCount   int64     `bson:"downloadCount"`
	ViewCount       int64     `bson:"viewCount"`
	RatingAverage   float64   `bson:"ratingAverage"`
	RatingCount     int       `bson:"ratingCount"`
	IsPublic        bool      `bson:"isPublic"`
	IsApproved      bool      `bson:"isApproved"`
	Status          string    `bson:"status"`
	RejectionReason string    `bson:"rejectionReason,omitempty"`
	CreatedAt       time.Time `bson:"createdAt"`
	UpdatedAt       time.Time `bson:"updatedAt"`
}

type activityDoc struct {
	ID           string    `bson:"_id"`
	UserID       string    `bson:"userId"`
	Type         string    `bson:"type"`
	ResourceType string    `bson:"resourceType"`
	ResourceID   string    `bson:"resourceId,omitempty"`
	Title        string    `bson:"title"`
	Subject      string    `bson:"subject"`
	Category     string    `bson:"category"`
	Tags         []string  `bson:"tags"`
	FileKey      string    `bson:"fileKey,omitempty"`
	FileSize     int64     `bson:"fileSize,omitempty"`
	FileType     string    `bson:"fileType,omitempty"`
	SearchQuery  string    `bson:"searchQuery,omitempty"`
	CreatedAt    time.Time `bson:"createdAt"`
}

type rewardDoc struct {
	ID           string     `bson:"_id"`
	UserEmail    string     `bson:"userEmail"`
	UserName     string     `bson:"userName"`
	UserMobile   string     `bson:"userMobile,omitempty"`
	PaperTitle   string     `bson:"paperTitle"`
	PaperID      string     `bson:"paperId"`
	RewardAmount int        `bson:"rewardAmount"`
	UploadDate   time.Time  `bson:"uploadDate"`
	Status       string     `bson:"status"`
	PaidDate     *time.Time `bson:"paidDate,omitempty"`
	Notes        string     `bson:"notes,omitempty"`
}

// NewMongoStore connects, pings and ensures indexes.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	s := &MongoStore{client: client, db: client.Database(database)}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

// Close disconnects the client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		usersCollection: {
			{Keys: bson.D{{Key: "email", Value: 1}, {Key: "role", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		papersCollection: {
			{Keys: bson.D{{Key: "uploaderId", Value: 1}}},
			{Keys: bson.D{{Key: "isPublic", Value: 1}, {Key: "isApproved", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "createdAt", Value: -1}}},
			{Keys: bson.D{{Key: "tags", Value: 1}}},
		},
		activitiesCollection: {
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}}},
			{Keys: bson.D{{Key: "resourceId", Value: 1}}},
		},
		rewardsCollection: {
			{Keys: bson.D{{Key: "paperId", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "uploadDate", Value: -1}}},
		},
	}
	for name, models := range indexes {
		if _, err := s.db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create %s indexes: %w", name, err)
		}
	}
	return nil
}

func (s *MongoStore) SaveUser(ctx context.Context, u domain.User) error {
	doc := userDoc{
		ID:              u.ID,
		Name:            u.Name,
		Email:           u.Email,
		PasswordHash:    u.PasswordHash,
		Mobile:          u.Mobile,
		Role:            string(u.Role),
		Status:          string(u.Status),
		EmailVerifiedAt: u.EmailVerifiedAt,
		LastLoginAt:     u.LastLoginAt,
		CreatedAt:       u.CreatedAt,
		UpdatedAt:       u.UpdatedAt,
	}
	_, err := s.db.Collection(usersCollection).ReplaceOne(ctx, bson.M{"_id": u.ID}, doc, options.Replace().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicateEmail
	}
	return err
}

func (s *MongoStore) GetUserByID(ctx context.Context, id string) (domain.User, bool, error) {
	return s.findUser(ctx, bson.M{"_id": id})
}

func (s *MongoStore) GetUserByEmail(ctx context.Context, email string, role domain.UserRole) (domain.User, bool, error) {
	return s.findUser(ctx, bson.M{"email": email, "role": string(role)})
}

func (s *MongoStore) findUser(ctx context.Context, filter bson.M) (domain.User, bool, error) {
	var doc userDoc
	err := s.db.Collection(usersCollection).FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.User{}, false, nil
	}
	if err != nil {
		return domain.User{}, false, err
	}
	return userFromDoc(doc), true, nil
}

func (s *MongoStore) ListUsers(ctx context.Context, role domain.UserRole) ([]domain.User, error) {
	filter := bson.M{}
	if role != "" {
		filter["role"] = string(role)
	}
	cur, err := s.db.Collection(usersCollection).Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var docs []userDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	res := make([]domain.User, 0, len(docs))
	for _, d := range docs {
		res = append(res, userFromDoc(d))
	}
	return res, nil
}

func (s *MongoStore) SavePaper(ctx context.Context, p domain.Paper) error {
	doc := paperToDoc(p)
	_, err := s.db.Collection(papersCollection).ReplaceOne(ctx, bson.M{"_id": p.ID}, doc, options.Replace().SetUpsert(true))
	return err
}

func (s *MongoStore) GetPaper(ctx context.Context, id string) (domain.Paper, bool, error) {
	var doc paperDoc
	err := s.db.Collection(papersCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Paper{}, false, nil
	}
	if err != nil {
		return domain.Paper{}, false, err
	}
	return paperFromDoc(doc), true, nil
}

func (s *MongoStore) ListPapers(ctx context.Context, f PaperFilter) ([]domain.Paper, error) {
	filter := bson.M{}
	if f.UploaderID != "" {
		filter["uploaderId"] = f.UploaderID
	}
	if f.Status != "" {
		filter["status"] = string(f.Status)
	}
	if f.PublicApproved {
		filter["isPublic"] = true
		filter["isApproved"] = true
	}
	if f.Category != "" {
		filter["category"] = f.Category
	}
	if f.SubjectContains != "" {
		filter["subject"] = bson.M{"$regex": regexp.QuoteMeta(f.SubjectContains), "$options": "i"}
	}
	if f.Tag != "" {
		filter["tags"] = f.Tag
	}
	if len(f.ExcludeIDs) > 0 {
		filter["_id"] = bson.M{"$nin": f.ExcludeIDs}
	}
	var facets bson.A
	if len(f.Subjects) > 0 {
		facets = append(facets, bson.M{"subject": bson.M{"$in": f.Subjects}})
	}
	if len(f.Categories) > 0 {
		facets = append(facets, bson.M{"category": bson.M{"$in": f.Categories}})
	}
	if len(f.Tags) > 0 {
		facets = append(facets, bson.M{"tags": bson.M{"$in": f.Tags}})
	}
	if len(facets) > 0 {
		filter["$or"] = facets
	}

	order := bson.D{{Key: "createdAt", Value: -1}}
	if f.Sort == SortPopular {
		order = bson.D{
			{Key: "downloadCount", Value: -1},
			{Key: "ratingAverage", Value: -1},
			{Key: "createdAt", Value: -1},
		}
	}
	opts := options.Find().SetSort(order)
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit))
	}
	if f.Offset > 0 {
		opts.SetSkip(int64(f.Offset))
	}
	cur, err := s.db.Collection(papersCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var docs []paperDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	res := make([]domain.Paper, 0, len(docs))
	for _, d := range docs {
		res = append(res, paperFromDoc(d))
	}
	return res, nil
}

func (s *MongoStore) SetPaperReview(ctx context.Context, id string, status domain.PaperStatus, reason string) error {
	return s.updateOne(ctx, papersCollection, id, bson.M{"$set": bson.M{
		"status":          string(status),
		"isApproved":      status == domain.PaperApproved,
		"rejectionReason": reason,
		"updatedAt":       time.Now().UTC(),
	}})
}

func (s *MongoStore) UpdatePaperMetadata(ctx context.Context, id string, meta PaperMetadata) error {
	return s.updateOne(ctx, papersCollection, id, bson.M{"$set": bson.M{
		"title":       meta.Title,
		"subject":     meta.Subject,
		"category":    meta.Category,
		"description": meta.Description,
		"tags":        nonNilTags(meta.Tags),
		"updatedAt":   time.Now().UTC(),
	}})
}

func (s *MongoStore) IncrementPaperCounter(ctx context.Context, id string, counter PaperCounter) error {
	field := "viewCount"
	if counter == CounterDownloads {
		field = "downloadCount"
	}
	return s.updateOne(ctx, papersCollection, id, bson.M{"$inc": bson.M{field: 1}})
}

func (s *MongoStore) DeletePaper(ctx context.Context, id string) (bool, error) {
	res, err := s.db.Collection(papersCollection).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return false, err
	}
	return res.DeletedCount > 0, nil
}

func (s *MongoStore) AppendActivity(ctx context.Context, a domain.Activity) error {
	doc := activityDoc{
		ID:           a.ID,
		UserID:       a.UserID,
		Type:         string(a.Type),
		ResourceType: string(a.ResourceType),
		ResourceID:   a.ResourceID,
		Title:        a.Title,
		Subject:      a.Subject,
		Category:     a.Category,
		Tags:         nonNilTags(a.Tags),
		FileKey:      a.FileKey,
		FileSize:     a.Metadata.FileSize,
		FileType:     a.Metadata.FileType,
		SearchQuery:  a.SearchQuery,
		CreatedAt:    a.CreatedAt,
	}
	_, err := s.db.Collection(activitiesCollection).InsertOne(ctx, doc)
	return err
}

func (s *MongoStore) ListActivities(ctx context.Context, f ActivityFilter) ([]domain.Activity, int64, error) {
	filter := bson.M{}
	if f.UserID != "" {
		filter["userId"] = f.UserID
	}
	if f.Type != "" {
		filter["type"] = string(f.Type)
	}
	coll := s.db.Collection(activitiesCollection)
	total, err := coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit))
	}
	if f.Offset > 0 {
		opts.SetSkip(int64(f.Offset))
	}
	cur, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	var docs []activityDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, 0, err
	}
	items := make([]domain.Activity, 0, len(docs))
	for _, d := range docs {
		items = append(items, domain.Activity{
			ID:           d.ID,
			UserID:       d.UserID,
			Type:         domain.ActivityType(d.Type),
			ResourceType: domain.ResourceType(d.ResourceType),
			ResourceID:   d.ResourceID,
			Title:        d.Title,
			Subject:      d.Subject,
			Category:     d.Category,
			Tags:         nonNilTags(d.Tags),
			FileKey:      d.FileKey,
			Metadata:     domain.ActivityMetadata{FileSize: d.FileSize, FileType: d.FileType},
			SearchQuery:  d.SearchQuery,
			CreatedAt:    d.CreatedAt,
		})
	}
	return items, total, nil
}

func (s *MongoStore) UpdateUploadActivity(ctx context.Context, paperID string, meta PaperMetadata) error {
	_, err := s.db.Collection(activitiesCollection).UpdateMany(ctx,
		bson.M{"resourceId": paperID, "type": string(domain.ActivityUpload)},
		bson.M{"$set": bson.M{
			"title":    meta.Title,
			"subject":  meta.Subject,
			"category": meta.Category,
			"tags":     nonNilTags(meta.Tags),
		}})
	return err
}

func (s *MongoStore) DeleteActivitiesByResource(ctx context.Context, resourceID string) (int64, error) {
	res, err := s.db.Collection(activitiesCollection).DeleteMany(ctx, bson.M{"resourceId": resourceID})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (s *MongoStore) CreateReward(ctx context.Context, r domain.Reward) error {
	doc := rewardDoc{
		ID:           r.ID,
		UserEmail:    r.UserEmail,
		UserName:     r.UserName,
		UserMobile:   r.UserMobile,
		PaperTitle:   r.PaperTitle,
		PaperID:      r.PaperID,
		RewardAmount: r.RewardAmount,
		UploadDate:   r.UploadDate,
		Status:       string(r.Status),
		PaidDate:     r.PaidDate,
		Notes:        r.Notes,
	}
	_, err := s.db.Collection(rewardsCollection).InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicateReward
	}
	return err
}

func (s *MongoStore) GetReward(ctx context.Context, id string) (domain.Reward, bool, error) {
	return s.findReward(ctx, bson.M{"_id": id})
}

func (s *MongoStore) GetRewardByPaper(ctx context.Context, paperID string) (domain.Reward, bool, error) {
	return s.findReward(ctx, bson.M{"paperId": paperID})
}

func (s *MongoStore) findReward(ctx context.Context, filter bson.M) (domain.Reward, bool, error) {
	var doc rewardDoc
	err := s.db.Collection(rewardsCollection).FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Reward{}, false, nil
	}
	if err != nil {
		return domain.Reward{}, false, err
	}
	return rewardFromDoc(doc), true, nil
}

func (s *MongoStore) ListRewards(ctx context.Context) ([]domain.Reward, error) {
	cur, err := s.db.Collection(rewardsCollection).Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "uploadDate", Value: -1}}))
	if err != nil {
		return nil, err
	}
	var docs []rewardDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	res := make([]domain.Reward, 0, len(docs))
	for _, d := range docs {
		res = append(res, rewardFromDoc(d))
	}
	return res, nil
}

func (s *MongoStore) SetRewardStatus(ctx context.Context, id string, status domain.RewardStatus, paidDate *time.Time) error {
	set := bson.M{"status": string(status)}
	if paidDate != nil {
		set["paidDate"] = paidDate.UTC()
	}
	return s.updateOne(ctx, rewardsCollection, id, bson.M{"$set": set})
}

func (s *MongoStore) DeleteRewardsByPaper(ctx context.Context, paperID string) (int64, error) {
	res, err := s.db.Collection(rewardsCollection).DeleteMany(ctx, bson.M{"paperId": paperID})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (s *MongoStore) WithinTx(_ context.Context, fn func(Store) error) error {
	return fn(s)
}

func (s *MongoStore) updateOne(ctx context.Context, collection, id string, update bson.M) error {
	res, err := s.db.Collection(collection).UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func nonNilTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func userFromDoc(d userDoc) domain.User {
	status := domain.UserStatus(d.Status)
	if status == "" {
		status = domain.StatusActive
	}
	return domain.User{
		ID:              d.ID,
		Name:            d.Name,
		Email:           d.Email,
		PasswordHash:    d.PasswordHash,
		Mobile:          d.Mobile,
		Role:            domain.UserRole(d.Role),
		Status:          status,
		EmailVerifiedAt: d.EmailVerifiedAt,
		LastLoginAt:     d.LastLoginAt,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

func paperToDoc(p domain.Paper) paperDoc {
	return paperDoc{
		ID:              p.ID,
		Title:           p.Title,
		Author:          p.Author,
		Subject:         p.Subject,
		Category:        p.Category,
		Tags:            nonNilTags(p.Tags),
		Description:     p.Description,
		FileKey:         p.File.Key,
		FileType:        p.File.ContentType,
		FileSize:        p.File.SizeBytes,
		PageCount:       p.File.PageCount,
		UploaderID:      p.UploaderID,
		DownloadCount:   p.DownloadCount,
		ViewCount:       p.ViewCount,
		RatingAverage:   p.Rating.Average,
		RatingCount:     p.Rating.Count,
		IsPublic:        p.IsPublic,
		IsApproved:      p.IsApproved,
		Status:          string(p.Status),
		RejectionReason: p.RejectionReason,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}

func paperFromDoc(d paperDoc) domain.Paper {
	return domain.Paper{
		ID:          d.ID,
		Title:       d.Title,
		Author:      d.Author,
		Subject:     d.Subject,
		Category:    d.Category,
		Tags:        nonNilTags(d.Tags),
		Description: d.Description,
		File: domain.FileRef{
			Key:         d.FileKey,
			ContentType: d.FileType,
			SizeBytes:   d.FileSize,
			PageCount:   d.PageCount,
		},
		UploaderID:      d.UploaderID,
		DownloadCount:   d.DownloadCount,
		ViewCount:       d.ViewCount,
		Rating:          domain.Rating{Average: d.RatingAverage, Count: d.RatingCount},
		IsPublic:        d.IsPublic,
		IsApproved:      d.IsApproved,
		Status:          domain.PaperStatus(d.Status),
		RejectionReason: d.RejectionReason,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

func rewardFromDoc(d rewardDoc) domain.Reward {
	return domain.Reward{
		ID:           d.ID,
		UserEmail:    d.UserEmail,
		UserName:     d.UserName,
		UserMobile:   d.UserMobile,
		PaperTitle:   d.PaperTitle,
		PaperID:      d.PaperID,
		RewardAmount: d.RewardAmount,
		UploadDate:   d.UploadDate,
		Status:       domain.RewardStatus(d.Status),
		PaidDate:     d.PaidDate,
		Notes:        d.Notes,
	}
}
