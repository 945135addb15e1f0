package db

import (
	"context"
	"errors"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type testModel struct {
	ID   int
	Name string
}

func openTestDB(t *testing.T) *Client {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(&testModel{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return &Client{conn: conn}
}

func TestWithTxCommits(t *testing.T) {
	client := openTestDB(t)

	err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
		return tx.Create(&testModel{ID: 1, Name: "a"}).Error
	})
	if err != nil {
		t.Fatalf("unexpected tx error: %v", err)
	}

	var count int64
	client.DB().Model(&testModel{}).Count(&count)
	if count != 1 {
		t.Fatalf("expected 1 row, got %d", count)
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	client := openTestDB(t)
	boom := errors.New("boom")

	err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
		if err := tx.Create(&testModel{ID: 2, Name: "b"}).Error; err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	var count int64
	client.DB().Model(&testModel{}).Count(&count)
	if count != 0 {
		t.Fatalf("expected rollback to leave 0 rows, got %d", count)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if IsUniqueViolation(nil, "") {
		t.Fatal("nil error is not a violation")
	}
	err := errors.New(`duplicate key value violates unique constraint "ux_payments_order_number"`)
	if !IsUniqueViolation(err, "ux_payments_order_number") {
		t.Fatal("expected constraint match")
	}
	sqliteErr := errors.New("UNIQUE constraint failed: payments.order_number")
	if !IsUniqueViolation(sqliteErr, "") {
		t.Fatal("expected sqlite unique error match")
	}
	if IsUniqueViolation(errors.New("connection refused"), "") {
		t.Fatal("unrelated error should not match")
	}
}
