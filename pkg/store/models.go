package store

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID              string `gorm:"primaryKey"`
	Name            string `gorm:"not null"`
	Email           string `gorm:"not null;uniqueIndex:idx_user_email_role"`
	PasswordHash    string `gorm:"not null"`
	Mobile          string
	Role            string `gorm:"not null;uniqueIndex:idx_user_email_role"`
	Status          string
	EmailVerifiedAt *time.Time
	LastLoginAt     *time.Time
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time
}

type PaperModel struct {
	ID              string         `gorm:"primaryKey"`
	Title           string         `gorm:"not null;index"`
	Author          string         `gorm:"not null"`
	Subject         string         `gorm:"not null;index"`
	Category        string         `gorm:"not null;index"`
	Tags            pq.StringArray `gorm:"type:text[]"`
	Description     string
	FileKey         string
	FileType        string
	FileSize        int64
	PageCount       int
	UploaderID      string  `gorm:"not null;index"`
	DownloadCount   int64   `gorm:"not null;default:0;index"`
	ViewCount       int64   `gorm:"not null;default:0"`
	RatingAverage   float64 `gorm:"not null;default:0"`
	RatingCount     int     `gorm:"not null;default:0"`
	IsPublic        bool    `gorm:"not null;default:true;index:idx_paper_visibility"`
	IsApproved      bool    `gorm:"not null;default:false;index:idx_paper_visibility"`
	Status          string  `gorm:"not null;index"`
	RejectionReason string
	CreatedAt       time.Time `gorm:"not null;index"`
	UpdatedAt       time.Time `gorm:"not null"`
}

type ActivityModel struct {
	ID           string         `gorm:"primaryKey"`
	UserID       string         `gorm:"not null;index:idx_activity_user_type"`
	Type         string         `gorm:"not null;index:idx_activity_user_type"`
	ResourceType string         `gorm:"not null"`
	ResourceID   string         `gorm:"index"`
	Title        string         `gorm:"not null"`
	Subject      string         `gorm:"not null"`
	Category     string         `gorm:"not null"`
	Tags         pq.StringArray `gorm:"type:text[]"`
	FileKey      string
	Metadata     datatypes.JSON `gorm:"type:jsonb"`
	SearchQuery  string
	CreatedAt    time.Time `gorm:"not null;index"`
}

type RewardModel struct {
	ID           string `gorm:"primaryKey"`
	UserEmail    string `gorm:"not null;index"`
	UserName     string `gorm:"not null"`
	UserMobile   string
	PaperTitle   string    `gorm:"not null"`
	PaperID      string    `gorm:"not null;uniqueIndex"`
	RewardAmount int       `gorm:"not null"`
	UploadDate   time.Time `gorm:"not null;index"`
	Status       string    `gorm:"not null;index"`
	PaidDate     *time.Time
	Notes        string
}
