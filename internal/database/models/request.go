// Package models 数据模型 - 媒体请求
package models

import (
	"strings"
	"time"
)

// RequestStatus 请求状态
type RequestStatus string

const (
	StatusPending   RequestStatus = "pending"   // 待审核
	StatusApproved  RequestStatus = "approved"  // 已批准
	StatusDenied    RequestStatus = "denied"    // 已拒绝
	StatusFulfilled RequestStatus = "fulfilled" // 已入库
)

// AllStatuses 全部合法状态
var AllStatuses = []RequestStatus{StatusPending, StatusApproved, StatusDenied, StatusFulfilled}

// OpenStatuses 对账候选状态
var OpenStatuses = []RequestStatus{StatusPending, StatusApproved}

// ParseStatus 解析状态字符串
func ParseStatus(s string) (RequestStatus, bool) {
	status := RequestStatus(strings.ToLower(strings.TrimSpace(s)))
	return status, status.Valid()
}

// Valid 是否为合法状态
func (s RequestStatus) Valid() bool {
	for _, v := range AllStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// IsOpen 是否为打开状态（待审核或已批准）
func (s RequestStatus) IsOpen() bool {
	return s == StatusPending || s == StatusApproved
}

// MediaKind 媒体类型
type MediaKind string

const (
	KindMovie MediaKind = "movie"
	KindShow  MediaKind = "show"
)

// ParseMediaKind 解析媒体类型，"tv" / "series" 视为剧集
func ParseMediaKind(s string) (MediaKind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "movie":
		return KindMovie, true
	case "show", "tv", "series":
		return KindShow, true
	default:
		return "", false
	}
}

// Request 媒体请求表
type Request struct {
	ID            uint          `gorm:"primaryKey;autoIncrement" json:"id"`
	RequesterID   string        `gorm:"column:requester_id;size:255;not null;index" json:"requester_id"`
	RequesterName string        `gorm:"column:requester_name;size:255;not null" json:"requester_name"`
	CatalogID     int64         `gorm:"column:catalog_id;not null;index" json:"catalog_id"`
	MediaKind     MediaKind     `gorm:"column:media_kind;size:16;not null" json:"media_kind"`
	Title         string        `gorm:"column:title;size:500;not null" json:"title"`
	PosterRef     *string       `gorm:"column:poster_ref;size:500" json:"poster_ref,omitempty"`
	Status        RequestStatus `gorm:"column:status;size:16;not null;default:'pending';index" json:"status"`
	AdminNote     *string       `gorm:"column:admin_note;type:text" json:"admin_note,omitempty"`
	CreatedAt     time.Time     `gorm:"column:created_at;index" json:"created_at"`
	UpdatedAt     time.Time     `gorm:"column:updated_at" json:"updated_at"`
}

// TableName 表名
func (Request) TableName() string {
	return "requests"
}

// IsOwnedBy 是否属于指定用户
func (r *Request) IsOwnedBy(userID string) bool {
	return userID != "" && r.RequesterID == userID
}

// RequestHistory 请求状态变更记录，只追加不修改
type RequestHistory struct {
	ID        uint          `gorm:"primaryKey;autoIncrement" json:"id"`
	RequestID uint          `gorm:"column:request_id;not null;index" json:"request_id"`
	Request   *Request      `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	OldStatus RequestStatus `gorm:"column:old_status;size:16;not null" json:"old_status"`
	NewStatus RequestStatus `gorm:"column:new_status;size:16;not null" json:"new_status"`
	ChangedBy string        `gorm:"column:changed_by;size:255;not null" json:"changed_by"`
	Note      *string       `gorm:"column:note;type:text" json:"note,omitempty"`
	CreatedAt time.Time     `gorm:"column:created_at" json:"created_at"`
}

// TableName 表名
func (RequestHistory) TableName() string {
	return "request_history"
}
