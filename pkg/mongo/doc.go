// Package mongo connects to MongoDB with environment-driven configuration and
// retry on startup.
//
//	var cfg mongo.Config // loaded with pkg/config
//	db, err := mongo.NewWithDatabase(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	health := mongo.Healthcheck(db.Client())
//
// Connection failures match ErrFailedToConnectToMongo; driver errors are
// joined to it. IsNotFoundError and IsDuplicateKeyError classify query errors
// without importing the driver.
package mongo
