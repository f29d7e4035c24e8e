// Package jellyfin Jellyfin API 客户端
package jellyfin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/smysle/mediarequest-go/internal/config"
	"github.com/smysle/mediarequest-go/internal/database/models"
	"github.com/smysle/mediarequest-go/pkg/logger"
)

const (
	clientName    = "MediaRequest"
	clientVersion = "1.0.0"
	deviceName    = "MediaRequest-Server"
	deviceID      = "mediarequest-backend-001"
)

var (
	// ErrRequestFailed Jellyfin 返回非 2xx 或网络失败
	ErrRequestFailed = errors.New("jellyfin 请求失败")
	// ErrUnauthorized 令牌无效
	ErrUnauthorized = errors.New("jellyfin 令牌无效")
)

// ItemKind Jellyfin 条目类型
type ItemKind string

const (
	KindMovie   ItemKind = "Movie"
	KindSeries  ItemKind = "Series"
	KindEpisode ItemKind = "Episode"
)

// 浏览排序默认值
const (
	DefaultSortBy    = "SortName"
	DefaultSortOrder = "Ascending"
)

// KindFor 将请求的媒体类型映射为 Jellyfin 条目类型
func KindFor(k models.MediaKind) ItemKind {
	if k == models.KindShow {
		return KindSeries
	}
	return KindMovie
}

// Item 媒体库条目
type Item struct {
	ID             string            `json:"Id"`
	Name           string            `json:"Name"`
	Type           string            `json:"Type"`
	ProductionYear int               `json:"ProductionYear"`
	ProviderIDs    map[string]string `json:"ProviderIds"`
}

// ProviderID 按名称（不区分大小写）获取外部 ID
func (i Item) ProviderID(name string) string {
	for k, v := range i.ProviderIDs {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// TmdbID 获取 TMDB ID
func (i Item) TmdbID() string {
	return i.ProviderID("Tmdb")
}

// User Jellyfin 用户
type User struct {
	ID      string
	Name    string
	IsAdmin bool
}

// MediaCounts 媒体统计
type MediaCounts struct {
	Movies   int `json:"MovieCount"`
	Series   int `json:"SeriesCount"`
	Episodes int `json:"EpisodeCount"`
}

// Client Jellyfin API 客户端
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *resty.Client
}

// NewClient 创建 Jellyfin 客户端
func NewClient(cfg config.JellyfinConfig) *Client {
	client := resty.New()
	client.SetTimeout(cfg.Timeout())
	client.SetRetryCount(2)
	client.SetRetryWaitTime(500 * time.Millisecond)
	// 只对网络错误和 5xx 重试
	client.AddRetryCondition(func(r *resty.Response, err error) bool {
		return err != nil || r.StatusCode() >= http.StatusInternalServerError
	})
	client.SetHeaders(map[string]string{
		"Accept":     "application/json",
		"User-Agent": clientName + "/" + clientVersion + " Go",
	})

	return &Client{
		baseURL:    strings.TrimSuffix(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: client,
	}
}

// authHeader MediaBrowser 认证头，token 为空时只带客户端信息
func authHeader(token string) string {
	h := fmt.Sprintf(`MediaBrowser Client="%s", Device="%s", DeviceId="%s", Version="%s"`,
		clientName, deviceName, deviceID, clientVersion)
	if token != "" {
		h += fmt.Sprintf(`, Token="%s"`, token)
	}
	return h
}

// newRequest 以服务端 API Key 身份发起请求
func (c *Client) newRequest(ctx context.Context) *resty.Request {
	return c.httpClient.R().
		SetContext(ctx).
		SetHeader("X-Emby-Token", c.apiKey).
		SetHeader("Authorization", authHeader(c.apiKey))
}

func (c *Client) get(req *resty.Request, endpoint string, result interface{}) error {
	target := c.baseURL + endpoint
	resp, err := req.SetResult(result).Get(target)
	if err != nil {
		logger.Warn().Err(err).Str("url", target).Msg("Jellyfin 请求失败")
		return fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}

	switch code := resp.StatusCode(); {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrUnauthorized
	case code < 200 || code >= 300:
		logger.Warn().Str("url", target).Int("status", code).Msg("Jellyfin API 返回错误")
		return fmt.Errorf("%w: HTTP %d: %s", ErrRequestFailed, code, truncate(string(resp.Body()), 200))
	}
	return nil
}

type itemsResponse struct {
	Items            []Item `json:"Items"`
	TotalRecordCount int    `json:"TotalRecordCount"`
}

// SearchItems 按标题搜索媒体库，kind 为空时不限类型
func (c *Client) SearchItems(ctx context.Context, term string, kind ItemKind, limit int) ([]Item, error) {
	params := map[string]string{
		"SearchTerm": term,
		"Recursive":  "true",
		"Fields":     "ProviderIds,ProductionYear",
	}
	if kind != "" {
		params["IncludeItemTypes"] = string(kind)
	}
	if limit > 0 {
		params["Limit"] = strconv.Itoa(limit)
	}

	var out itemsResponse
	if err := c.get(c.newRequest(ctx).SetQueryParams(params), "/Items", &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// BrowseQuery 媒体库浏览参数
type BrowseQuery struct {
	Kind       ItemKind
	Search     string
	StartIndex int
	Limit      int // 为 0 时只返回总数
	SortBy     string
	SortOrder  string
}

// ItemPage 浏览结果
type ItemPage struct {
	Items []Item
	Total int
}

// userRequest 以用户令牌发起请求，结果受该用户的媒体库权限约束
func (c *Client) userRequest(ctx context.Context, token string) *resty.Request {
	return c.httpClient.R().
		SetContext(ctx).
		SetHeader("X-Emby-Token", token).
		SetHeader("Authorization", authHeader(token))
}

// BrowseItems 分页浏览用户可见的媒体库
func (c *Client) BrowseItems(ctx context.Context, token, userID string, q BrowseQuery) (*ItemPage, error) {
	if token == "" || userID == "" {
		return nil, ErrUnauthorized
	}
	sortBy, sortOrder := q.SortBy, q.SortOrder
	if sortBy == "" {
		sortBy = DefaultSortBy
	}
	if sortOrder == "" {
		sortOrder = DefaultSortOrder
	}

	params := map[string]string{
		"Recursive":  "true",
		"StartIndex": strconv.Itoa(q.StartIndex),
		"Limit":      strconv.Itoa(q.Limit),
		"SortBy":     sortBy,
		"SortOrder":  sortOrder,
		"Fields":     "ProviderIds,ProductionYear",
	}
	if q.Kind != "" {
		params["IncludeItemTypes"] = string(q.Kind)
	}
	if q.Search != "" {
		params["SearchTerm"] = q.Search
	}

	var out itemsResponse
	endpoint := "/Users/" + url.PathEscape(userID) + "/Items"
	if err := c.get(c.userRequest(ctx, token).SetQueryParams(params), endpoint, &out); err != nil {
		return nil, err
	}
	return &ItemPage{Items: out.Items, Total: out.TotalRecordCount}, nil
}

// LatestItems 用户媒体库中最近入库的条目
func (c *Client) LatestItems(ctx context.Context, token, userID string, limit int) ([]Item, error) {
	if token == "" || userID == "" {
		return nil, ErrUnauthorized
	}
	req := c.userRequest(ctx, token).SetQueryParams(map[string]string{
		"Limit":  strconv.Itoa(limit),
		"Fields": "ProviderIds,ProductionYear",
	})

	var out []Item
	if err := c.get(req, "/Users/"+url.PathEscape(userID)+"/Items/Latest", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ImageURL 条目主图地址
func (c *Client) ImageURL(itemID string) string {
	return c.baseURL + "/Items/" + url.PathEscape(itemID) + "/Images/Primary"
}

type userResponse struct {
	ID     string `json:"Id"`
	Name   string `json:"Name"`
	Policy struct {
		IsAdministrator bool `json:"IsAdministrator"`
		IsDisabled      bool `json:"IsDisabled"`
	} `json:"Policy"`
}

// GetCurrentUser 用用户的访问令牌获取其身份
func (c *Client) GetCurrentUser(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}

	var out userResponse
	if err := c.get(c.userRequest(ctx, token), "/Users/Me", &out); err != nil {
		return nil, err
	}
	if out.ID == "" || out.Policy.IsDisabled {
		return nil, ErrUnauthorized
	}
	return &User{ID: out.ID, Name: out.Name, IsAdmin: out.Policy.IsAdministrator}, nil
}

// GetMediaCounts 获取媒体统计
func (c *Client) GetMediaCounts(ctx context.Context) (*MediaCounts, error) {
	var out MediaCounts
	if err := c.get(c.newRequest(ctx), "/Items/Counts", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
