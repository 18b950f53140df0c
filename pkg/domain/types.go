package domain

import "time"

type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

type UserStatus string

const (
	StatusActive   UserStatus = "active"
	StatusDisabled UserStatus = "disabled"
)

type PaperStatus string

const (
	PaperPending  PaperStatus = "pending"
	PaperApproved PaperStatus = "approved"
	PaperRejected PaperStatus = "rejected"
)

type ActivityType string

const (
	ActivityUpload   ActivityType = "upload"
	ActivityDownload ActivityType = "download"
	ActivitySearch   ActivityType = "search"
	ActivityView     ActivityType = "view"
)

type ResourceType string

const (
	ResourcePaper ResourceType = "paper"
	ResourceBook  ResourceType = "book"
	ResourceNote  ResourceType = "note"
)

type RewardStatus string

const (
	RewardPending  RewardStatus = "pending"
	RewardApproved RewardStatus = "approved"
	RewardPaid     RewardStatus = "paid"
)

// RewardPerPaper is the amount, in rupees, credited for one approved paper.
const RewardPerPaper = 4

// User is a principal. Admins and regular users are distinct records that
// differ only by Role.
type User struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Email           string     `json:"email"`
	PasswordHash    string     `json:"-"`
	Mobile          string     `json:"mobile,omitempty"`
	Role            UserRole   `json:"role"`
	Status          UserStatus `json:"status"`
	EmailVerifiedAt *time.Time `json:"emailVerifiedAt,omitempty"`
	LastLoginAt     *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

type FileRef struct {
	Key         string `json:"-"`
	ContentType string `json:"contentType"`
	SizeBytes   int64  `json:"sizeBytes"`
	PageCount   int    `json:"pageCount,omitempty"`
}

type Rating struct {
	Average float64 `json:"average"`
	Count   int     `json:"count"`
}

type Paper struct {
	ID              string      `json:"id"`
	Title           string      `json:"title"`
	Author          string      `json:"author"`
	Subject         string      `json:"subject"`
	Category        string      `json:"category"`
	Tags            []string    `json:"tags"`
	Description     string      `json:"description,omitempty"`
	File            FileRef     `json:"file"`
	UploaderID      string      `json:"uploaderId"`
	DownloadCount   int64       `json:"downloadCount"`
	ViewCount       int64       `json:"viewCount"`
	Rating          Rating      `json:"rating"`
	IsPublic        bool        `json:"isPublic"`
	IsApproved      bool        `json:"isApproved"`
	Status          PaperStatus `json:"status"`
	RejectionReason string      `json:"rejectionReason,omitempty"`
	CreatedAt       time.Time   `json:"createdAt"`
	UpdatedAt       time.Time   `json:"updatedAt"`
}

type ActivityMetadata struct {
	FileSize int64  `json:"fileSize,omitempty"`
	FileType string `json:"fileType,omitempty"`
}

type Activity struct {
	ID           string           `json:"id"`
	UserID       string           `json:"userId"`
	Type         ActivityType     `json:"type"`
	ResourceType ResourceType     `json:"resourceType"`
	ResourceID   string           `json:"resourceId,omitempty"`
	Title        string           `json:"title"`
	Subject      string           `json:"subject"`
	Category     string           `json:"category"`
	Tags         []string         `json:"tags"`
	FileKey      string           `json:"-"`
	Metadata     ActivityMetadata `json:"metadata"`
	SearchQuery  string           `json:"searchQuery,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
}

type Reward struct {
	ID           string       `json:"id"`
	UserEmail    string       `json:"userEmail"`
	UserName     string       `json:"userName"`
	UserMobile   string       `json:"userMobile,omitempty"`
	PaperTitle   string       `json:"paperTitle"`
	PaperID      string       `json:"paperId"`
	RewardAmount int          `json:"rewardAmount"`
	UploadDate   time.Time    `json:"uploadDate"`
	Status       RewardStatus `json:"status"`
	PaidDate     *time.Time   `json:"paidDate,omitempty"`
	Notes        string       `json:"notes,omitempty"`
}
