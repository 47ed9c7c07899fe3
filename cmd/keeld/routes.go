package main

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/outrigger-io/keel/internal/binding"
	"github.com/outrigger-io/keel/internal/httpx"
	"github.com/outrigger-io/keel/internal/route"
)

// itemStore is the demo application state: an in-memory keyed store.
type itemStore struct {
	mu    sync.RWMutex
	items map[string]map[string]any
}

var errItemNotFound = errors.New("item not found")

func (s *itemStore) get(id string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errItemNotFound, id)
	}
	return item, nil
}

func (s *itemStore) put(item map[string]any) string {
	id := uuid.New().String()
	s.mu.Lock()
	s.items[id] = item
	s.mu.Unlock()
	return id
}

// registerRoutes wires the demo application: a health probe, an echo
// endpoint, a small item store exercising body binding and executor
// offload, plus status and error fallbacks.
func registerRoutes(r *route.Registry) {
	store := &itemStore{items: make(map[string]map[string]any)}

	r.Add(route.New("GET", "/health").
		Owner("system").Named("health").
		Handler(func(args route.Args) (any, error) {
			return map[string]any{
				"status": "healthy",
				"time":   time.Now().UTC().Format(time.RFC3339),
			}, nil
		}))

	r.Add(route.New("POST", "/echo").
		Owner("echo").Named("echo").
		Consumes(httpx.MediaTypeJSON).
		Args(binding.Body("payload")).
		Handler(func(args route.Args) (any, error) {
			return map[string]any{"echo": args["payload"]}, nil
		}))

	r.Add(route.New("GET", "/items/{id}").
		Owner("items").Named("get_item").
		Args(binding.Path("id"), binding.Query("fields").AsOptional()).
		Handler(func(args route.Args) (any, error) {
			return store.get(args["id"].(string))
		}))

	r.Add(route.New("POST", "/items").
		Owner("items").Named("create_item").
		Executor("io").
		Consumes(httpx.MediaTypeJSON, httpx.MediaTypeForm).
		Args(binding.Body("item")).
		Handler(func(args route.Args) (any, error) {
			item, ok := args["item"].(map[string]any)
			if !ok {
				return nil, fmt.Errorf("item body must be a JSON object")
			}
			id := store.put(item)
			return httpx.Status(201).WithBody(map[string]string{"id": id}), nil
		}))

	// Missing items surface as 404 instead of 500.
	r.OnError("items", errItemNotFound, route.New("", "").
		Owner("items").Named("item_not_found").
		Args(binding.Failure("cause")).
		Handler(func(args route.Args) (any, error) {
			err := args["cause"].(error)
			return httpx.NotFound().WithBody(map[string]string{"message": err.Error()}), nil
		}))

	r.Status(404, route.New("", "").
		Named("not_found").
		Args(binding.Request("req")).
		Handler(func(args route.Args) (any, error) {
			req := args["req"].(*httpx.Request)
			return httpx.NotFound().WithBody(map[string]string{
				"message": "no route for " + req.Method() + " " + req.Path(),
			}), nil
		}))

	r.Status(500, route.New("", "").
		Named("server_error").
		Handler(func(args route.Args) (any, error) {
			return httpx.ServerError().WithBody(map[string]string{
				"message": "internal server error",
			}), nil
		}))
}
