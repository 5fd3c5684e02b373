//go:build integration

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/safar/go-order-core/internal/database"
	"github.com/safar/go-order-core/internal/models"
	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var testDB *sql.DB

func TestMain(m *testing.M) {
	ctx := context.Background()

	postgres, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:14-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "testuser",
				"POSTGRES_PASSWORD": "testpass",
				"POSTGRES_DB":       "testdb",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("Failed to start postgres container: %v", err)
	}

	code := func() int {
		defer func() {
			if err := postgres.Terminate(ctx); err != nil {
				log.Printf("Failed to terminate container: %v", err)
			}
		}()

		host, err := postgres.Host(ctx)
		if err != nil {
			log.Printf("Failed to get container host: %v", err)
			return 1
		}
		port, err := postgres.MappedPort(ctx, "5432")
		if err != nil {
			log.Printf("Failed to get container port: %v", err)
			return 1
		}

		dsn := fmt.Sprintf("postgres://testuser:testpass@%s:%s/testdb?sslmode=disable", host, port.Port())
		testDB, err = sql.Open("postgres", dsn)
		if err != nil {
			log.Printf("Failed to connect to database: %v", err)
			return 1
		}
		defer testDB.Close()
		testDB.SetMaxOpenConns(30)

		if err := testDB.PingContext(ctx); err != nil {
			log.Printf("Failed to ping database: %v", err)
			return 1
		}
		if _, err := database.Migrate(ctx, testDB, "../../migrations", database.MigrateUp, nil); err != nil {
			log.Printf("Failed to run migrations: %v", err)
			return 1
		}

		return m.Run()
	}()

	os.Exit(code)
}

// setupTestDB hands out the shared database with every table emptied.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	_, err := testDB.Exec(`TRUNCATE cart_items, order_items, orders, inventory_reservations, products, users
		RESTART IDENTITY CASCADE`)
	if err != nil {
		t.Fatalf("Failed to reset database: %v", err)
	}
	return testDB
}

func mustCreateProduct(t *testing.T, db *sql.DB, sku string, price string, stock int) *models.Product {
	t.Helper()
	p, err := CreateProduct(context.Background(), db, models.Product{
		SKU:               sku,
		Name:              "Product " + sku,
		Category:          "test",
		Price:             decimal.RequireFromString(price),
		IsActive:          true,
		AvailableQuantity: stock,
	})
	if err != nil {
		t.Fatalf("Create product %s: %v", sku, err)
	}
	return p
}

func mustCreateUser(t *testing.T, db *sql.DB, email string) *models.User {
	t.Helper()
	u, err := CreateUser(context.Background(), db, email, "Test User")
	if err != nil {
		t.Fatalf("Create user: %v", err)
	}
	return u
}
