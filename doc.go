// Package backend provides the Driftline realtime messaging server.

// This package contains the main application entry point. The actual API
// documentation is organized into subpackages:

// - internal/auth: Connection credential verification
// - internal/cache: Redis client for unread-count caching
// - internal/chat: Conversation store gateway and message use-cases
// - internal/config: Environment configuration
// - internal/database: Database connection and migrations
// - internal/errors: API error taxonomy
// - internal/handlers: REST fallback endpoints
// - internal/logger: Structured logging setup
// - internal/metrics: Prometheus metrics registration
// - internal/models: Data models and database schemas
// - internal/seed: Development database seeding
// - internal/websocket: WebSocket server for real-time messaging

// See the individual package documentation for detailed API reference.
package backend
