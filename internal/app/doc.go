// Package app composes the tipster service layer.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring and lifecycle
//	├── domain/             # Domain models (pure data structures)
//	│   ├── tip/            # QuickPurchase listings and MarketMatch rows
//	│   ├── blog/           # Blog posts
//	│   └── purchase/       # WhatsApp buyers and purchases
//	├── storage/            # Storage interfaces and implementations
//	│   ├── interfaces.go   # Store interfaces
//	│   ├── memory/         # In-memory implementation for tests and dev
//	│   └── postgres/       # PostgreSQL implementation (sqlx)
//	├── services/           # catalog, blog, enrichment, purchase
//	├── httpapi/            # HTTP routes (gorilla/mux)
//	├── runtime/            # Builds an Application and HTTP server from config
//	├── system/             # Lifecycle manager
//	└── metrics/            # Prometheus collectors
//
// # Responsibilities
//
// The app package wires services to their stores and external clients, and
// owns the lifecycle of background work (the sync scheduler) and the HTTP
// server through system.Manager. Business rules live in the services
// packages; request handling lives in httpapi.
//
// # Adding a Domain
//
//  1. Create domain models in internal/app/domain/<name>/
//  2. Add a storage interface to internal/app/storage/interfaces.go
//  3. Implement it in internal/app/storage/postgres/ and memory/
//  4. Create the service in internal/app/services/<name>/
//  5. Wire the service in internal/app/application.go
//  6. Add HTTP handlers in internal/app/httpapi/
package app
