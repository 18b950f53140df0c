package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/iamakashsinghrajput/BookHaven/pkg/domain"
	"github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

const migrateLockID int64 = 40420417

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &PaperModel{}, &ActivityModel{}, &RewardModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *GormStore) Close(context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// SaveUser registers or updates a user.
func (s *GormStore) SaveUser(ctx context.Context, u domain.User) error {
	model := userToModel(u)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "email", "password_hash", "mobile", "role", "status",
			"email_verified_at", "last_login_at", "updated_at",
		}),
	}).Create(&model).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateEmail
	}
	return err
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(ctx context.Context, id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByEmail looks up a principal by email within one role.
func (s *GormStore) GetUserByEmail(ctx context.Context, email string, role domain.UserRole) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).Where("email = ? AND role = ?", email, string(role)).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// ListUsers returns users ordered by created_at, optionally by role.
func (s *GormStore) ListUsers(ctx context.Context, role domain.UserRole) ([]domain.User, error) {
	var models []UserModel
	tx := s.db.WithContext(ctx).Order("created_at ASC")
	if role != "" {
		tx = tx.Where("role = ?", string(role))
	}
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.User, 0, len(models))
	for _, m := range models {
		res = append(res, userFromModel(m))
	}
	return res, nil
}

// SavePaper stores or updates a paper.
func (s *GormStore) SavePaper(ctx context.Context, p domain.Paper) error {
	model := paperToModel(p)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&model).Error
}

// GetPaper retrieves a paper.
func (s *GormStore) GetPaper(ctx context.Context, id string) (domain.Paper, bool, error) {
	var model PaperModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Paper{}, false, nil
		}
		return domain.Paper{}, false, err
	}
	return paperFromModel(model), true, nil
}

// ListPapers applies the filter and ordering in SQL.
func (s *GormStore) ListPapers(ctx context.Context, f PaperFilter) ([]domain.Paper, error) {
	tx := s.db.WithContext(ctx).Model(&PaperModel{})
	if f.UploaderID != "" {
		tx = tx.Where("uploader_id = ?", f.UploaderID)
	}
	if f.Status != "" {
		tx = tx.Where("status = ?", string(f.Status))
	}
	if f.PublicApproved {
		tx = tx.Where("is_public = ? AND is_approved = ?", true, true)
	}
	if f.Category != "" {
		tx = tx.Where("category = ?", f.Category)
	}
	if f.SubjectContains != "" {
		tx = tx.Where("subject ILIKE ?", "%"+escapeLike(f.SubjectContains)+"%")
	}
	if f.Tag != "" {
		tx = tx.Where("? = ANY(tags)", f.Tag)
	}
	if len(f.ExcludeIDs) > 0 {
		tx = tx.Where("id NOT IN ?", f.ExcludeIDs)
	}
	var facets *gorm.DB
	addFacet := func(query string, arg any) {
		if facets == nil {
			facets = s.db.Session(&gorm.Session{NewDB: true}).Where(query, arg)
			return
		}
		facets = facets.Or(query, arg)
	}
	if len(f.Subjects) > 0 {
		addFacet("subject IN ?", f.Subjects)
	}
	if len(f.Categories) > 0 {
		addFacet("category IN ?", f.Categories)
	}
	if len(f.Tags) > 0 {
		addFacet("tags && ?", pq.Array(f.Tags))
	}
	if facets != nil {
		tx = tx.Where(facets)
	}
	if f.Sort == SortPopular {
		tx = tx.Order("download_count DESC").Order("rating_average DESC")
	}
	tx = tx.Order("created_at DESC")
	if f.Limit > 0 {
		tx = tx.Limit(f.Limit)
	}
	if f.Offset > 0 {
		tx = tx.Offset(f.Offset)
	}
	var models []PaperModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Paper, 0, len(models))
	for _, m := range models {
		res = append(res, paperFromModel(m))
	}
	return res, nil
}

// SetPaperReview records an admin decision; is_approved follows status.
func (s *GormStore) SetPaperReview(ctx context.Context, id string, status domain.PaperStatus, reason string) error {
	res := s.db.WithContext(ctx).Model(&PaperModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":           string(status),
			"is_approved":      status == domain.PaperApproved,
			"rejection_reason": reason,
			"updated_at":       time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdatePaperMetadata applies owner edits.
func (s *GormStore) UpdatePaperMetadata(ctx context.Context, id string, meta PaperMetadata) error {
	res := s.db.WithContext(ctx).Model(&PaperModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"title":       meta.Title,
			"subject":     meta.Subject,
			"category":    meta.Category,
			"description": meta.Description,
			"tags":        pq.StringArray(meta.Tags),
			"updated_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementPaperCounter bumps downloads or views atomically.
func (s *GormStore) IncrementPaperCounter(ctx context.Context, id string, counter PaperCounter) error {
	column := "view_count"
	if counter == CounterDownloads {
		column = "download_count"
	}
	res := s.db.WithContext(ctx).Model(&PaperModel{}).
		Where("id = ?", id).
		UpdateColumn(column, gorm.Expr(column+" + 1"))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeletePaper removes the paper row only; dependents are cascaded by the caller.
func (s *GormStore) DeletePaper(ctx context.Context, id string) (bool, error) {
	res := s.db.WithContext(ctx).Delete(&PaperModel{}, "id = ?", id)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// AppendActivity records an activity.
func (s *GormStore) AppendActivity(ctx context.Context, a domain.Activity) error {
	model := activityToModel(a)
	return s.db.WithContext(ctx).Create(&model).Error
}

// ListActivities returns activities newest first with the total match count.
func (s *GormStore) ListActivities(ctx context.Context, f ActivityFilter) ([]domain.Activity, int64, error) {
	tx := s.db.WithContext(ctx).Model(&ActivityModel{})
	if f.UserID != "" {
		tx = tx.Where("user_id = ?", f.UserID)
	}
	if f.Type != "" {
		tx = tx.Where("type = ?", string(f.Type))
	}
	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	tx = tx.Order("created_at DESC")
	if f.Limit > 0 {
		tx = tx.Limit(f.Limit)
	}
	if f.Offset > 0 {
		tx = tx.Offset(f.Offset)
	}
	var models []ActivityModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, 0, err
	}
	items := make([]domain.Activity, 0, len(models))
	for _, m := range models {
		items = append(items, activityFromModel(m))
	}
	return items, total, nil
}

// UpdateUploadActivity keeps the denormalized copy of paper metadata in sync.
func (s *GormStore) UpdateUploadActivity(ctx context.Context, paperID string, meta PaperMetadata) error {
	return s.db.WithContext(ctx).Model(&ActivityModel{}).
		Where("resource_id = ? AND type = ?", paperID, string(domain.ActivityUpload)).
		Updates(map[string]any{
			"title":    meta.Title,
			"subject":  meta.Subject,
			"category": meta.Category,
			"tags":     pq.StringArray(meta.Tags),
		}).Error
}

// DeleteActivitiesByResource removes every activity row referencing a resource.
func (s *GormStore) DeleteActivitiesByResource(ctx context.Context, resourceID string) (int64, error) {
	res := s.db.WithContext(ctx).Delete(&ActivityModel{}, "resource_id = ?", resourceID)
	return res.RowsAffected, res.Error
}

// CreateReward inserts a reward inside a nested transaction, so a duplicate
// rejected by the unique paper_id index rolls back to a savepoint and leaves
// any enclosing transaction usable.
func (s *GormStore) CreateReward(ctx context.Context, r domain.Reward) error {
	model := rewardToModel(r)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&model).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateReward
	}
	return err
}

func (s *GormStore) GetReward(ctx context.Context, id string) (domain.Reward, bool, error) {
	return s.findReward(ctx, "id = ?", id)
}

func (s *GormStore) GetRewardByPaper(ctx context.Context, paperID string) (domain.Reward, bool, error) {
	return s.findReward(ctx, "paper_id = ?", paperID)
}

func (s *GormStore) findReward(ctx context.Context, query string, arg any) (domain.Reward, bool, error) {
	var model RewardModel
	if err := s.db.WithContext(ctx).Where(query, arg).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Reward{}, false, nil
		}
		return domain.Reward{}, false, err
	}
	return rewardFromModel(model), true, nil
}

// ListRewards returns all rewards, newest upload first.
func (s *GormStore) ListRewards(ctx context.Context) ([]domain.Reward, error) {
	var models []RewardModel
	if err := s.db.WithContext(ctx).Order("upload_date DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Reward, 0, len(models))
	for _, m := range models {
		res = append(res, rewardFromModel(m))
	}
	return res, nil
}

func (s *GormStore) SetRewardStatus(ctx context.Context, id string, status domain.RewardStatus, paidDate *time.Time) error {
	updates := map[string]any{"status": string(status)}
	if paidDate != nil {
		updates["paid_date"] = paidDate.UTC()
	}
	res := s.db.WithContext(ctx).Model(&RewardModel{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) DeleteRewardsByPaper(ctx context.Context, paperID string) (int64, error) {
	res := s.db.WithContext(ctx).Delete(&RewardModel{}, "paper_id = ?", paperID)
	return res.RowsAffected, res.Error
}

// WithinTx runs fn inside one database transaction.
func (s *GormStore) WithinTx(ctx context.Context, fn func(Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

func escapeLike(v string) string {
	return strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`).Replace(v)
}

func userToModel(u domain.User) UserModel {
	return UserModel{
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
}

func userFromModel(m UserModel) domain.User {
	status := domain.UserStatus(m.Status)
	if status == "" {
		status = domain.StatusActive
	}
	return domain.User{
		ID:              m.ID,
		Name:            m.Name,
		Email:           m.Email,
		PasswordHash:    m.PasswordHash,
		Mobile:          m.Mobile,
		Role:            domain.UserRole(m.Role),
		Status:          status,
		EmailVerifiedAt: m.EmailVerifiedAt,
		LastLoginAt:     m.LastLoginAt,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func paperToModel(p domain.Paper) PaperModel {
	return PaperModel{
		ID:              p.ID,
		Title:           p.Title,
		Author:          p.Author,
		Subject:         p.Subject,
		Category:        p.Category,
		Tags:            pq.StringArray(p.Tags),
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

func paperFromModel(m PaperModel) domain.Paper {
	tags := []string(m.Tags)
	if tags == nil {
		tags = []string{}
	}
	return domain.Paper{
		ID:          m.ID,
		Title:       m.Title,
		Author:      m.Author,
		Subject:     m.Subject,
		Category:    m.Category,
		Tags:        tags,
		Description: m.Description,
		File: domain.FileRef{
			Key:         m.FileKey,
			ContentType: m.FileType,
			SizeBytes:   m.FileSize,
			PageCount:   m.PageCount,
		},
		UploaderID:      m.UploaderID,
		DownloadCount:   m.DownloadCount,
		ViewCount:       m.ViewCount,
		Rating:          domain.Rating{Average: m.RatingAverage, Count: m.RatingCount},
		IsPublic:        m.IsPublic,
		IsApproved:      m.IsApproved,
		Status:          domain.PaperStatus(m.Status),
		RejectionReason: m.RejectionReason,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func activityToModel(a domain.Activity) ActivityModel {
	meta, _ := json.Marshal(a.Metadata)
	return ActivityModel{
		ID:           a.ID,
		UserID:       a.UserID,
		Type:         string(a.Type),
		ResourceType: string(a.ResourceType),
		ResourceID:   a.ResourceID,
		Title:        a.Title,
		Subject:      a.Subject,
		Category:     a.Category,
		Tags:         pq.StringArray(a.Tags),
		FileKey:      a.FileKey,
		Metadata:     meta,
		SearchQuery:  a.SearchQuery,
		CreatedAt:    a.CreatedAt,
	}
}

func activityFromModel(m ActivityModel) domain.Activity {
	var meta domain.ActivityMetadata
	if len(m.Metadata) > 0 {
		_ = json.Unmarshal(m.Metadata, &meta)
	}
	tags := []string(m.Tags)
	if tags == nil {
		tags = []string{}
	}
	return domain.Activity{
		ID:           m.ID,
		UserID:       m.UserID,
		Type:         domain.ActivityType(m.Type),
		ResourceType: domain.ResourceType(m.ResourceType),
		ResourceID:   m.ResourceID,
		Title:        m.Title,
		Subject:      m.Subject,
		Category:     m.Category,
		Tags:         tags,
		FileKey:      m.FileKey,
		Metadata:     meta,
		SearchQuery:  m.SearchQuery,
		CreatedAt:    m.CreatedAt,
	}
}

func rewardToModel(r domain.Reward) RewardModel {
	return RewardModel{
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
}

func rewardFromModel(m RewardModel) domain.Reward {
	return domain.Reward{
		ID:           m.ID,
		UserEmail:    m.UserEmail,
		UserName:     m.UserName,
		UserMobile:   m.UserMobile,
		PaperTitle:   m.PaperTitle,
		PaperID:      m.PaperID,
		RewardAmount: m.RewardAmount,
		UploadDate:   m.UploadDate,
		Status:       domain.RewardStatus(m.Status),
		PaidDate:     m.PaidDate,
		Notes:        m.Notes,
	}
}
