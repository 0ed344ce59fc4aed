package service

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/theapemachine/nire/pkg/engine"
	"github.com/theapemachine/nire/pkg/errors"
	"github.com/theapemachine/nire/pkg/memory"
)

/*
Memory is what the HTTP surface needs from the engine.
*/
type Memory interface {
	Ingest(ctx context.Context, turn memory.Turn) (memory.MemoryItem, error)
	Query(ctx context.Context, query memory.Query) memory.RetrievalResult
	Get(ctx context.Context, id string) (memory.MemoryItem, error)
	Reconcile(ctx context.Context) (memory.ReconcileReport, error)
	Export(ctx context.Context) (string, error)
	Stats(ctx context.Context) engine.Stats
	Health(ctx context.Context) map[string]string
}

/*
MemoryServer exposes ingest and retrieval over HTTP. It is safe for
concurrent use because the engine is.
*/
type MemoryServer struct {
	app    *fiber.App
	memory Memory
}

func NewMemoryServer(mem Memory) *MemoryServer {
	srv := &MemoryServer{
		app: fiber.New(fiber.Config{
			AppName:      "NIRE",
			ServerHeader: "NIRE-Memory-Server",
		}),
		memory: mem,
	}

	srv.app.Use(logger.New(logger.Config{
		Next: func(c fiber.Ctx) bool {
			return c.Path() == "/healthz"
		},
	}))

	srv.app.Get("/healthz", srv.handleHealth)

	v1 := srv.app.Group("/v1")
	v1.Post("/memories", srv.handleIngest)
	v1.Get("/memories/:id", srv.handleGet)
	v1.Post("/query", srv.handleQuery)
	v1.Post("/reconcile", srv.handleReconcile)
	v1.Post("/export", srv.handleExport)
	v1.Get("/stats", srv.handleStats)

	return srv
}

// App is exposed for tests and for mounting under another server.
func (srv *MemoryServer) App() *fiber.App {
	return srv.app
}

func (srv *MemoryServer) Start(addr string) error {
	log.Info("memory server listening", "addr", addr)
	return srv.app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true})
}

func (srv *MemoryServer) Shutdown(ctx context.Context) error {
	return srv.app.ShutdownWithContext(ctx)
}

func (srv *MemoryServer) handleHealth(ctx fiber.Ctx) error {
	failures := srv.memory.Health(ctx.Context())

	if len(failures) > 0 {
		return ctx.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status":   "degraded",
			"failures": failures,
		})
	}

	return ctx.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
}

func (srv *MemoryServer) handleIngest(ctx fiber.Ctx) error {
	var turn memory.Turn

	if err := ctx.Bind().Body(&turn); err != nil {
		return fail(ctx, errors.ErrParseError.WithMessagef("invalid turn: %v", err))
	}

	item, err := srv.memory.Ingest(ctx.Context(), turn)

	if err != nil {
		return fail(ctx, err)
	}

	item.Embedding = nil

	return ctx.Status(fiber.StatusCreated).JSON(item)
}

func (srv *MemoryServer) handleGet(ctx fiber.Ctx) error {
	item, err := srv.memory.Get(ctx.Context(), ctx.Params("id"))

	if err != nil {
		return fail(ctx, err)
	}

	item.Embedding = nil

	return ctx.Status(fiber.StatusOK).JSON(item)
}

func (srv *MemoryServer) handleQuery(ctx fiber.Ctx) error {
	var query memory.Query

	if err := ctx.Bind().Body(&query); err != nil {
		return fail(ctx, errors.ErrParseError.WithMessagef("invalid query: %v", err))
	}

	result := srv.memory.Query(ctx.Context(), query)

	for i := range result.Items {
		result.Items[i].Item.Embedding = nil
	}

	return ctx.Status(fiber.StatusOK).JSON(result)
}

func (srv *MemoryServer) handleReconcile(ctx fiber.Ctx) error {
	report, err := srv.memory.Reconcile(ctx.Context())

	if err != nil {
		return fail(ctx, err)
	}

	return ctx.Status(fiber.StatusOK).JSON(report)
}

func (srv *MemoryServer) handleExport(ctx fiber.Ctx) error {
	location, err := srv.memory.Export(ctx.Context())

	if err != nil {
		return fail(ctx, err)
	}

	return ctx.Status(fiber.StatusCreated).JSON(fiber.Map{"location": location})
}

func (srv *MemoryServer) handleStats(ctx fiber.Ctx) error {
	return ctx.Status(fiber.StatusOK).JSON(srv.memory.Stats(ctx.Context()))
}

func fail(ctx fiber.Ctx, err error) error {
	rpc := errors.ToRpc(err)

	if rpc.Code == errors.ErrInternal.Code || rpc.Code == errors.ErrIngestFailed.Code {
		log.Error("request failed", "path", ctx.Path(), "error", err)
	}

	return ctx.Status(httpStatus(rpc)).JSON(rpc)
}

func httpStatus(rpc *errors.RpcError) int {
	switch rpc.Code {
	case errors.ErrParseError.Code, errors.ErrInvalidRequest.Code, errors.ErrInvalidParams.Code:
		return fiber.StatusBadRequest
	case errors.ErrMemoryNotFound.Code:
		return fiber.StatusNotFound
	case errors.ErrEmbeddingFailed.Code:
		return fiber.StatusBadGateway
	case errors.ErrStoreUnavailable.Code:
		return fiber.StatusServiceUnavailable
	case errors.ErrExportNotAvailable.Code:
		return fiber.StatusNotImplemented
	}

	return fiber.StatusInternalServerError
}
