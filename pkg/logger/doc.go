// Package logger builds context-aware *slog.Logger instances for the billing
// service and provides attribute helpers so that customer, subscription and
// webhook identifiers are logged under consistent keys.
//
// New applies a list of Option functions, picks a JSON or text handler and
// wraps it in LogHandlerDecorator, which runs the registered ContextExtractor
// callbacks on every record. This is how request ids set by middleware end up
// in logs emitted deep inside the reconciler.
//
// # Usage
//
//	log := logger.New(
//	    logger.WithEnvironment(cfg.AppEnv, "billingd"),
//	    logger.WithContextExtractors(requestid.LoggerExtractor()),
//	)
//	logger.SetAsDefault(log)
//
//	log.InfoContext(ctx, "subscription cancelled",
//	    logger.CustomerID(sub.CustomerID),
//	    logger.SubscriptionID(sub.ID),
//	)
//
// Error and Errors produce attributes only for non-nil errors, so
//
//	log.Warn("refresh failed", logger.Error(err))
//
// needs no nil check.
package logger
