package bridge

import (
	"fmt"
)

// Canonical service registry keys.
const (
	// ServiceSinkDispatcher resolves the outbound SinkDispatcher.
	ServiceSinkDispatcher = "bridge.sink_dispatcher"
	// ServiceCommandCatalog resolves the kernel CommandCatalog.
	ServiceCommandCatalog = "bridge.command_catalog"
	// ServiceTicketService resolves the ticketing TicketService.
	ServiceTicketService = "bridge.ticket_service"
	// ServiceSummarizer resolves the ticket Summarizer.
	ServiceSummarizer = "bridge.summarizer"
	// ServiceResponseCache resolves the shared ResponseCache.
	ServiceResponseCache = "bridge.response_cache"
	// ServiceLogger resolves the process *slog.Logger.
	ServiceLogger = "bridge.logger"
)

// ServiceRegistry provides runtime dependency injection to modules and drivers.
type ServiceRegistry interface {
	// Register binds a singleton service value to a stable name.
	Register(name string, service any) error
	// Resolve returns a registered service by name.
	Resolve(name string) (any, error)
}

// ResolveAs resolves a service and casts it to the requested type.
func ResolveAs[T any](registry ServiceRegistry, name string) (T, error) {
	var zero T

	service, err := registry.Resolve(name)
	if err != nil {
		return zero, fmt.Errorf("resolve service %s: %w", name, err)
	}

	typed, ok := service.(T)
	if !ok {
		return zero, fmt.Errorf("resolve service %s: type assertion failed", name)
	}

	return typed, nil
}
