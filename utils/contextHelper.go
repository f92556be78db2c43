package utils

import (
	"context"

	"github.com/mmdatafocus/load_validator/appctx"
)

var (
	ContextKeyCorrelationId = appctx.ContextKeyCorrelationId
	ContextKeyCustomerId    = appctx.ContextKeyCustomerId
	ContextKeyLoadId        = appctx.ContextKeyLoadId
)

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}

func GetCustomerIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCustomerId)
}

func SetCustomerIdInContext(ctx context.Context, customerId string) context.Context {
	return appctx.Set(ctx, ContextKeyCustomerId, customerId)
}

func GetLoadIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyLoadId)
}

func SetLoadIdInContext(ctx context.Context, loadId string) context.Context {
	return appctx.Set(ctx, ContextKeyLoadId, loadId)
}

// SetLoadMaintenanceInContext allows gorm UPDATE/DELETE on load_records for this context.
func SetLoadMaintenanceInContext(ctx context.Context, allow bool) context.Context {
	return appctx.Set(ctx, appctx.ContextKeyAllowLoadMaintenance, allow)
}
