package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/yuzvak/seckill-service/internal/pkg/logger"
)

func main() {
	config := &LoadTestConfig{}
	flag.StringVar(&config.BaseURL, "url", "http://localhost:8080", "Service base URL")
	flag.StringVar(&config.ProductID, "product", "p-load", "Product to buy")
	flag.Int64Var(&config.Stock, "stock", 1000, "Stock to set before the run (0 keeps the current stock)")
	flag.IntVar(&config.Users, "users", 10000, "Distinct users competing for the product")
	flag.IntVar(&config.Concurrency, "concurrency", 200, "Requests in flight")
	flag.IntVar(&config.Quantity, "quantity", 1, "Units per purchase")
	flag.Float64Var(&config.RepeatRatio, "repeat", 0.1, "Share of users that retry their purchase")
	flag.BoolVar(&config.Verify, "verify", true, "Flush and compare durable stock after the run")
	output := flag.String("out", "", "Write the JSON report to this file")
	flag.Parse()

	log := logger.New(logger.Options{Format: "console"})

	if len(flag.Args()) > 0 {
		switch flag.Arg(0) {
		case "light":
			config.Users, config.Concurrency = 1000, 50
		case "heavy":
			config.Users, config.Concurrency = 100000, 1000
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	tester := NewLoadTester(config)

	fmt.Printf("Configuration:\n")
	fmt.Printf("- Base URL: %s\n", config.BaseURL)
	fmt.Printf("- Product: %s (stock %d)\n", config.ProductID, config.Stock)
	fmt.Printf("- Users: %d, concurrency %d, quantity %d\n", config.Users, config.Concurrency, config.Quantity)
	fmt.Printf("\nStarting test...\n\n")

	report, err := tester.Run(ctx)
	if err != nil {
		log.Fatal("Load test failed", "error", err)
	}

	report.Print(os.Stdout)

	if *output != "" {
		data, _ := json.MarshalIndent(report, "", "  ")
		if err := os.WriteFile(*output, data, 0o644); err != nil {
			log.Error("Failed to save report", "error", err)
		}
	}

	if !report.Consistent {
		log.Error("Oversell detected",
			"granted_units", report.GrantedUnits,
			"stock", config.Stock,
		)
		os.Exit(1)
	}
}
