package notifications

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bazarika/bazarika-backend/pkg/db/models"
	"github.com/bazarika/bazarika-backend/pkg/enums"
	pkgerrors "github.com/bazarika/bazarika-backend/pkg/errors"
	paginationpkg "github.com/bazarika/bazarika-backend/pkg/pagination"
)

type fakeRepository struct {
	created       []models.Notification
	listFn        func(ctx context.Context, params listNotificationsParams) ([]models.Notification, *paginationpkg.Cursor, error)
	markReadFn    func(ctx context.Context, userID, notificationID uuid.UUID, now time.Time) (notificationMarkResult, error)
	markAllReadFn func(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error)
}

func (f *fakeRepository) WithTx(tx *gorm.DB) Repository {
	return f
}

func (f *fakeRepository) Create(ctx context.Context, notification *models.Notification) error {
	f.created = append(f.created, *notification)
	return nil
}

func (f *fakeRepository) CreateBatch(ctx context.Context, notifications []models.Notification) error {
	f.created = append(f.created, notifications...)
	return nil
}

func (f *fakeRepository) List(ctx context.Context, params listNotificationsParams) ([]models.Notification, *paginationpkg.Cursor, error) {
	if f.listFn != nil {
		return f.listFn(ctx, params)
	}
	return nil, nil, nil
}

func (f *fakeRepository) MarkRead(ctx context.Context, userID, notificationID uuid.UUID, now time.Time) (notificationMarkResult, error) {
	if f.markReadFn != nil {
		return f.markReadFn(ctx, userID, notificationID, now)
	}
	return notificationMarkResult{}, nil
}

func (f *fakeRepository) MarkAllRead(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error) {
	if f.markAllReadFn != nil {
		return f.markAllReadFn(ctx, userID, now)
	}
	return 0, nil
}

func newServiceWithRepo(repo Repository) Service {
	svc, _ := NewService(repo)
	return svc
}

func TestService_NotifyFansOutToRecipients(t *testing.T) {
	repo := &fakeRepository{}
	svc := newServiceWithRepo(repo)

	orderID := uuid.New()
	recipients := []uuid.UUID{uuid.New(), uuid.New()}

	err := svc.Notify(context.Background(), nil, NotifyInput{
		Recipients: recipients,
		Type:       enums.NotificationTypeOrderPlaced,
		Title:      "New order",
		Body:       "Order ORD-1001 awaits approval",
		OrderID:    &orderID,
	})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}

	if len(repo.created) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(repo.created))
	}
	for i, row := range repo.created {
		if row.UserID != recipients[i] {
			t.Fatalf("recipient %d mismatch", i)
		}
		if row.OrderID == nil || *row.OrderID != orderID {
			t.Fatalf("order id not carried on notification %d", i)
		}
	}
}

func TestService_NotifySkipsNilRecipients(t *testing.T) {
	repo := &fakeRepository{}
	svc := newServiceWithRepo(repo)

	err := svc.Notify(context.Background(), nil, NotifyInput{
		Recipients: []uuid.UUID{uuid.Nil},
		Type:       enums.NotificationTypePaymentReceived,
		Title:      "Paid",
		Body:       "Payment received",
	})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(repo.created) != 0 {
		t.Fatalf("expected no notifications, got %d", len(repo.created))
	}
}

func TestService_ListNotifications(t *testing.T) {
	first := models.Notification{ID: uuid.New(), CreatedAt: time.Now().Add(-time.Hour)}
	second := models.Notification{ID: uuid.New(), CreatedAt: time.Now()}

	repo := &fakeRepository{
		listFn: func(ctx context.Context, params listNotificationsParams) ([]models.Notification, *paginationpkg.Cursor, error) {
			if params.Limit != 1 {
				t.Fatalf("unexpected limit %d", params.Limit)
			}
			return []models.Notification{first}, &paginationpkg.Cursor{CreatedAt: second.CreatedAt, ID: second.ID}, nil
		},
	}

	svc := newServiceWithRepo(repo)
	result, err := svc.List(context.Background(), ListParams{UserID: uuid.New(), Limit: 1})
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(result.Items) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(result.Items))
	}
	if result.Cursor == "" {
		t.Fatal("expected cursor for next page")
	}
	decoded, err := paginationpkg.ParseCursor(result.Cursor)
	if err != nil {
		t.Fatalf("invalid cursor %q: %v", result.Cursor, err)
	}
	if decoded.ID != second.ID {
		t.Fatalf("expected cursor id %s got %s", second.ID, decoded.ID)
	}
}

func TestService_ListNotificationsInvalidCursor(t *testing.T) {
	svc := newServiceWithRepo(&fakeRepository{})
	_, err := svc.List(context.Background(), ListParams{UserID: uuid.New(), Cursor: "bad"})
	if err == nil {
		t.Fatal("expected error for invalid cursor")
	}
	errCode := pkgerrors.As(err).Code()
	if errCode != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %s", errCode)
	}
}

func TestService_MarkReadNotFound(t *testing.T) {
	repo := &fakeRepository{
		markReadFn: func(ctx context.Context, userID, notificationID uuid.UUID, now time.Time) (notificationMarkResult, error) {
			return notificationMarkResult{Found: false}, nil
		},
	}
	svc := newServiceWithRepo(repo)

	err := svc.MarkRead(context.Background(), uuid.New(), uuid.New())
	if err == nil {
		t.Fatal("expected not found error")
	}
	if pkgerrors.As(err).Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}
