package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/sync/errgroup"

	"github.com/rl1809/inventory-service/internal/adapter/storage"
	"github.com/rl1809/inventory-service/internal/core/domain"
	"github.com/rl1809/inventory-service/internal/core/service"
	"github.com/rl1809/inventory-service/internal/port"
)

const (
	productID = "flash-sale-item"
	storeID   = "store-1"
)

func main() {
	driver := flag.String("driver", "memory", "stock backend: memory or sqlite")
	initialStock := flag.Int("stock", 20, "initial stock")
	totalRequests := flag.Int("requests", 50, "concurrent single-unit sales")
	flag.Parse()

	ctx := context.Background()

	store, cleanup, err := openStore(ctx, *driver)
	if err != nil {
		log.Fatalf("failed to open %s store: %v", *driver, err)
	}
	defer cleanup()

	stockService := service.NewStockService(store, service.WithStockLevels(0, *initialStock, *initialStock))
	if _, err := stockService.CreateStock(ctx, productID, storeID, *initialStock); err != nil {
		log.Fatalf("failed to seed stock: %v", err)
	}

	var successCount, soldOutCount, contentionCount, otherCount atomic.Int32

	var g errgroup.Group
	start := time.Now()

	for i := 0; i < *totalRequests; i++ {
		g.Go(func() error {
			_, err := stockService.UpdateStock(ctx, productID, storeID, 1, domain.MutationSale)
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, domain.ErrInsufficientStock):
				soldOutCount.Add(1)
			case errors.Is(err, domain.ErrConcurrentUpdate):
				contentionCount.Add(1)
			default:
				otherCount.Add(1)
				log.Printf("unexpected error: %v", err)
			}
			return nil
		})
	}

	g.Wait()
	elapsed := time.Since(start)

	success := int(successCount.Load())
	final, err := stockService.GetStockByKey(ctx, productID, storeID)
	if err != nil {
		log.Fatalf("failed to read final stock: %v", err)
	}

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Backend:          %s\n", *driver)
	fmt.Printf("Initial Stock:    %d\n", *initialStock)
	fmt.Printf("Total Requests:   %d\n", *totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Sold Out:         %d\n", soldOutCount.Load())
	fmt.Printf("Retries Exhausted:%d\n", contentionCount.Load())
	fmt.Printf("Other Errors:     %d\n", otherCount.Load())
	fmt.Printf("Final Stock:      %d (version %d)\n", final.CurrentStock, final.Version)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	failed := false
	if success > *initialStock {
		fmt.Printf("FAIL: oversold, %d sales against stock %d\n", success, *initialStock)
		failed = true
	}
	if final.CurrentStock != *initialStock-success {
		fmt.Printf("FAIL: expected final stock %d, got %d\n", *initialStock-success, final.CurrentStock)
		failed = true
	}
	if final.Version != int64(success) {
		fmt.Printf("FAIL: expected version %d, got %d\n", success, final.Version)
		failed = true
	}
	if failed {
		os.Exit(1)
	}
	fmt.Println("PASS: no lost updates, no oversell")
}

func openStore(ctx context.Context, driver string) (port.StockRepository, func(), error) {
	switch driver {
	case "memory":
		return storage.NewMemoryStockRepository(), func() {}, nil
	case "sqlite":
		dir, err := os.MkdirTemp("", "stress-*")
		if err != nil {
			return nil, nil, err
		}
		db, err := sql.Open("sqlite3", filepath.Join(dir, "stress.db")+"?_busy_timeout=5000")
		if err != nil {
			return nil, nil, err
		}
		db.SetMaxOpenConns(1)
		repo := storage.NewSQLStockRepository(db, storage.SQLiteDialect)
		if err := repo.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return repo, func() {
			db.Close()
			os.RemoveAll(dir)
		}, nil
	}
	return nil, nil, fmt.Errorf("unknown driver %q", driver)
}
