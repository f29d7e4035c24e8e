// Package service 请求服务测试
package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/smysle/mediarequest-go/internal/database/models"
	"github.com/smysle/mediarequest-go/internal/database/repository"
	"github.com/smysle/mediarequest-go/internal/testsupport"
)

type recordingNotifier struct {
	mu      sync.Mutex
	created []uint
	changed []string
}

func (n *recordingNotifier) RequestCreated(req *models.Request) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.created = append(n.created, req.ID)
}

func (n *recordingNotifier) StatusChanged(req *models.Request, changedBy string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changed = append(n.changed, string(req.Status)+"/"+changedBy)
}

func newTestService(t *testing.T) (*RequestService, *recordingNotifier) {
	repo := repository.NewRequestRepository(testsupport.MustOpenDB(t))
	svc := NewRequestService(repo)
	svc.SetClock(testsupport.FixedClock(time.Date(2026, 1, 16, 10, 0, 0, 0, time.UTC), time.Second))
	n := &recordingNotifier{}
	svc.SetNotifier(n)
	return svc, n
}

func movieInput(requester string, catalogID int64) CreateInput {
	return CreateInput{
		RequesterID:   requester,
		RequesterName: requester + "-name",
		CatalogID:     catalogID,
		MediaKind:     models.KindMovie,
		Title:         "The Matrix",
	}
}

func TestRequestService_Create(t *testing.T) {
	svc, n := newTestService(t)
	ctx := context.Background()

	req, err := svc.Create(ctx, movieInput("u1", 603))
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, req.Status)
	require.Equal(t, "u1-name", req.RequesterName)
	require.Equal(t, []uint{req.ID}, n.created)
}

func TestRequestService_CreateRejectsDuplicates(t *testing.T) {
	for _, status := range []models.RequestStatus{models.StatusPending, models.StatusApproved, models.StatusFulfilled} {
		t.Run(string(status), func(t *testing.T) {
			svc, _ := newTestService(t)
			ctx := context.Background()

			first, err := svc.Create(ctx, movieInput("u1", 603))
			require.NoError(t, err)
			if status != models.StatusPending {
				_, err = svc.Transition(ctx, first.ID, status, "admin", nil)
				require.NoError(t, err)
			}

			_, err = svc.Create(ctx, movieInput("u1", 603))
			require.ErrorIs(t, err, ErrConflict)
			require.Contains(t, err.Error(), string(status), "冲突信息应该包含已有请求的状态")
		})
	}
}

func TestRequestService_CreateConcurrentDuplicates(t *testing.T) {
	svc, n := newTestService(t)
	ctx := context.Background()

	const writers = 20
	errs := make(chan error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Create(ctx, movieInput("u1", 603))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	successes := 0
	for err := range errs {
		if err == nil {
			successes++
			continue
		}
		require.ErrorIs(t, err, ErrConflict)
	}
	require.Equal(t, 1, successes, "同一用户同一媒体只能有一个打开的请求")

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.Total)
	require.Len(t, n.created, 1)
}

func TestRequestService_FulfillOpen(t *testing.T) {
	svc, n := newTestService(t)
	ctx := context.Background()
	note := AutoFulfillNote

	open, err := svc.Create(ctx, movieInput("u1", 603))
	require.NoError(t, err)
	got, err := svc.FulfillOpen(ctx, open.ID, SystemActor, &note)
	require.NoError(t, err)
	require.Equal(t, models.StatusFulfilled, got.Status)

	denied, err := svc.Create(ctx, movieInput("u2", 603))
	require.NoError(t, err)
	_, err = svc.Transition(ctx, denied.ID, models.StatusDenied, "admin", nil)
	require.NoError(t, err)

	_, err = svc.FulfillOpen(ctx, denied.ID, SystemActor, &note)
	require.ErrorIs(t, err, ErrInvalidState)

	got, err = svc.Get(ctx, denied.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusDenied, got.Status, "已处理的请求不被覆盖")
	history, err := svc.History(ctx, denied.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)

	_, err = svc.FulfillOpen(ctx, 9999, SystemActor, &note)
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, []string{"fulfilled/system", "denied/admin"}, n.changed)
}

func TestRequestService_CreateAfterDenied(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, movieInput("u1", 603))
	require.NoError(t, err)
	_, err = svc.Transition(ctx, first.ID, models.StatusDenied, "admin", nil)
	require.NoError(t, err)

	second, err := svc.Create(ctx, movieInput("u1", 603))
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	// 其他用户、其他类型不受影响
	_, err = svc.Create(ctx, movieInput("u2", 603))
	require.NoError(t, err)
	show := movieInput("u1", 603)
	show.MediaKind = models.KindShow
	_, err = svc.Create(ctx, show)
	require.NoError(t, err)
}

func TestRequestService_CreateValidation(t *testing.T) {
	svc, _ := newTestService(t)

	tests := []struct {
		name   string
		mutate func(*CreateInput)
	}{
		{"缺少用户", func(in *CreateInput) { in.RequesterID = "" }},
		{"无效 catalog_id", func(in *CreateInput) { in.CatalogID = 0 }},
		{"无效类型", func(in *CreateInput) { in.MediaKind = "music" }},
		{"空标题", func(in *CreateInput) { in.Title = "  " }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := movieInput("u1", 603)
			tt.mutate(&in)
			_, err := svc.Create(context.Background(), in)
			require.ErrorIs(t, err, ErrInvalidArgument)
		})
	}
}

func TestRequestService_Transition(t *testing.T) {
	svc, n := newTestService(t)
	ctx := context.Background()

	req, err := svc.Create(ctx, movieInput("u1", 603))
	require.NoError(t, err)

	note := "approved by admin"
	updated, err := svc.Transition(ctx, req.ID, models.StatusApproved, "admin-1", &note)
	require.NoError(t, err)
	require.Equal(t, models.StatusApproved, updated.Status)
	require.Equal(t, note, *updated.AdminNote)
	require.True(t, updated.UpdatedAt.After(req.UpdatedAt))

	// 允许任意状态之间的跳转，包括重新打开已拒绝的请求
	_, err = svc.Transition(ctx, req.ID, models.StatusDenied, "admin-1", nil)
	require.NoError(t, err)
	reopened, err := svc.Transition(ctx, req.ID, models.StatusPending, "admin-1", nil)
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, reopened.Status)

	history, err := svc.History(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	require.Equal(t, models.StatusPending, history[0].OldStatus)
	require.Equal(t, models.StatusApproved, history[0].NewStatus)
	require.Equal(t, models.StatusApproved, history[1].OldStatus)
	require.Equal(t, models.StatusDenied, history[1].NewStatus)
	require.Equal(t, models.StatusDenied, history[2].OldStatus)
	require.Equal(t, models.StatusPending, history[2].NewStatus)

	require.Equal(t, []string{"approved/admin-1", "denied/admin-1", "pending/admin-1"}, n.changed)
}

func TestRequestService_TransitionErrors(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	req, err := svc.Create(ctx, movieInput("u1", 603))
	require.NoError(t, err)

	_, err = svc.Transition(ctx, req.ID, "cancelled", "admin", nil)
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = svc.Transition(ctx, 9999, models.StatusApproved, "admin", nil)
	require.ErrorIs(t, err, ErrNotFound)

	history, err := svc.History(ctx, req.ID)
	require.NoError(t, err)
	require.Empty(t, history, "失败的变更不应该写入历史")
}

func TestRequestService_Cancel(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	req, err := svc.Create(ctx, movieInput("u1", 603))
	require.NoError(t, err)

	// 非本人取消与不存在的请求返回相同错误
	err = svc.Cancel(ctx, req.ID, "u2")
	require.ErrorIs(t, err, ErrNotFound)
	err = svc.Cancel(ctx, 9999, "u1")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, svc.Cancel(ctx, req.ID, "u1"))
	_, err = svc.Get(ctx, req.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRequestService_CancelOnlyPending(t *testing.T) {
	for _, status := range []models.RequestStatus{models.StatusApproved, models.StatusDenied, models.StatusFulfilled} {
		t.Run(string(status), func(t *testing.T) {
			svc, _ := newTestService(t)
			ctx := context.Background()

			req, err := svc.Create(ctx, movieInput("u1", 603))
			require.NoError(t, err)
			_, err = svc.Transition(ctx, req.ID, status, "admin", nil)
			require.NoError(t, err)

			err = svc.Cancel(ctx, req.ID, "u1")
			require.ErrorIs(t, err, ErrInvalidState)
			require.True(t, strings.Contains(err.Error(), "pending"))

			got, err := svc.Get(ctx, req.ID)
			require.NoError(t, err)
			require.Equal(t, status, got.Status)
		})
	}
}

func TestRequestService_ListPagination(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	page, err := svc.ListForRequester(ctx, "u1", "", 1, 20)
	require.NoError(t, err)
	require.EqualValues(t, 0, page.Total)
	require.Equal(t, 1, page.TotalPages)
	require.NotNil(t, page.Items)

	var created []*models.Request
	for i := int64(1); i <= 3; i++ {
		req, err := svc.Create(ctx, movieInput("u1", i))
		require.NoError(t, err)
		created = append(created, req)
	}
	_, err = svc.Create(ctx, movieInput("u2", 99))
	require.NoError(t, err)

	page, err = svc.ListForRequester(ctx, "u1", "", 2, 1)
	require.NoError(t, err)
	require.EqualValues(t, 3, page.Total)
	require.Equal(t, 3, page.TotalPages)
	require.Len(t, page.Items, 1)
	require.Equal(t, created[1].ID, page.Items[0].ID, "第 2 页应该是第二新的请求")

	page, err = svc.ListAll(ctx, "", "", 1, 3)
	require.NoError(t, err)
	require.EqualValues(t, 4, page.Total)
	require.Equal(t, 2, page.TotalPages)

	page, err = svc.ListAll(ctx, models.StatusPending, "u2", 0, 0)
	require.NoError(t, err)
	require.EqualValues(t, 1, page.Total)
	require.Equal(t, 1, page.Page)
	require.Equal(t, 20, page.PageSize)

	_, err = svc.ListAll(ctx, "bogus", "", 1, 10)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestRequestService_Stats(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, Stats{}, *stats)

	a, err := svc.Create(ctx, movieInput("u1", 1))
	require.NoError(t, err)
	_, err = svc.Create(ctx, movieInput("u1", 2))
	require.NoError(t, err)
	c, err := svc.Create(ctx, movieInput("u2", 3))
	require.NoError(t, err)
	_, err = svc.Transition(ctx, a.ID, models.StatusApproved, "admin", nil)
	require.NoError(t, err)
	_, err = svc.Transition(ctx, c.ID, models.StatusFulfilled, "admin", nil)
	require.NoError(t, err)

	stats, err = svc.Stats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 3, stats.Total)
	require.EqualValues(t, 1, stats.Pending)
	require.EqualValues(t, 1, stats.Approved)
	require.EqualValues(t, 0, stats.Denied)
	require.EqualValues(t, 1, stats.Fulfilled)
	require.EqualValues(t, 2, stats.UniqueRequesters)
	require.Equal(t, stats.Total, stats.Pending+stats.Approved+stats.Denied+stats.Fulfilled)
}

func TestRequestService_ExistingStatusFor(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	status, err := svc.ExistingStatusFor(ctx, 603, models.KindMovie, "u1")
	require.NoError(t, err)
	require.Empty(t, status)

	req, err := svc.Create(ctx, movieInput("u1", 603))
	require.NoError(t, err)
	_, err = svc.Transition(ctx, req.ID, models.StatusDenied, "admin", nil)
	require.NoError(t, err)

	status, err = svc.ExistingStatusFor(ctx, 603, models.KindMovie, "u1")
	require.NoError(t, err)
	require.Equal(t, models.StatusDenied, status)

	status, err = svc.ExistingStatusFor(ctx, 603, models.KindMovie, "u2")
	require.NoError(t, err)
	require.Empty(t, status)
}

func TestRequestService_OpenRequests(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	a, err := svc.Create(ctx, movieInput("u1", 1))
	require.NoError(t, err)
	b, err := svc.Create(ctx, movieInput("u1", 2))
	require.NoError(t, err)
	c, err := svc.Create(ctx, movieInput("u1", 3))
	require.NoError(t, err)
	_, err = svc.Transition(ctx, b.ID, models.StatusApproved, "admin", nil)
	require.NoError(t, err)
	_, err = svc.Transition(ctx, c.ID, models.StatusDenied, "admin", nil)
	require.NoError(t, err)

	open, err := svc.OpenRequests(ctx)
	require.NoError(t, err)
	require.Len(t, open, 2)
	require.Equal(t, a.ID, open[0].ID)
	require.Equal(t, b.ID, open[1].ID)
}

func TestTranslate(t *testing.T) {
	require.ErrorIs(t, translate(repository.ErrNotFound), ErrNotFound)
	require.ErrorIs(t, translate(ErrConflict), ErrConflict)
	require.Nil(t, translate(nil))

	wrapped := translate(errors.New("disk full"))
	require.Contains(t, wrapped.Error(), "disk full")
	require.False(t, errors.Is(wrapped, ErrNotFound))
}
