// Package database - Handles all interaction with ArangoDB
package database

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/arangodb/go-driver/v2/arangodb"
	"github.com/arangodb/go-driver/v2/connection"
	"github.com/cenkalti/backoff"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger = InitLogger() // setup the logger

// Collection names
const (
	FindingCollection       = "finding"
	VulnerabilityCollection = "vulnerability"
)

// DBConnection is the structure that defined the database engine and collections
type DBConnection struct {
	Collections map[string]arangodb.Collection
	Database    arangodb.Database
}

// Options locate the ArangoDB server and the database to use
type Options struct {
	URL      string
	User     string
	Password string
	Database string
}

// Define a struct to hold the index definition
type indexConfig struct {
	Collection string
	IdxName    string
	IdxFields  []string
	Unique     bool
	Sparse     bool
}

var indexes = []indexConfig{
	{Collection: FindingCollection, IdxName: "finding_group", IdxFields: []string{"group_name"}},
	{Collection: VulnerabilityCollection, IdxName: "vulnerability_finding", IdxFields: []string{"finding_id"}},
	{Collection: VulnerabilityCollection, IdxName: "vulnerability_finding_namespace", IdxFields: []string{"finding_id", "namespace"}},
	{Collection: VulnerabilityCollection, IdxName: "vulnerability_source", IdxFields: []string{"source"}},
	// rows of other sources and deleted rows share a location with live SKIMS rows
	{Collection: VulnerabilityCollection, IdxName: "vulnerability_location", IdxFields: []string{"finding_id", "namespace", "kind", "where", "specific"}},
}

// retiredIndexes are removed from existing databases at startup
var retiredIndexes = []indexConfig{
	{Collection: VulnerabilityCollection, IdxName: "vulnerability_natural_key"},
}

// GetEnvDefault is a convenience function for handling env vars
func GetEnvDefault(key, defVal string) string {
	val, ex := os.LookupEnv(key) // get the env var
	if !ex {                     // not found return default
		return defVal
	}
	return val // return value for env var
}

// DefaultOptions reads the connection settings from the ARANGO_* env vars
func DefaultOptions() Options {
	dbhost := GetEnvDefault("ARANGO_HOST", "localhost")
	dbport := GetEnvDefault("ARANGO_PORT", "8529")
	return Options{
		URL:      GetEnvDefault("ARANGO_URL", "http://"+dbhost+":"+dbport),
		User:     GetEnvDefault("ARANGO_USER", "root"),
		Password: GetEnvDefault("ARANGO_PASS", "mypassword"),
		Database: GetEnvDefault("ARANGO_DB", "vulnledger"),
	}
}

// InitLogger sets up the Zap Logger to log to the console in a human readable format
func InitLogger() *zap.Logger {
	prodConfig := zap.NewProductionConfig()
	prodConfig.Encoding = "console"
	prodConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	prodConfig.EncoderConfig.EncodeDuration = zapcore.StringDurationEncoder
	logger, _ := prodConfig.Build()
	return logger
}

func dbConnectionConfig(endpoint connection.Endpoint, dbuser string, dbpass string) connection.HttpConfiguration {
	return connection.HttpConfiguration{
		Authentication: connection.NewBasicAuth(dbuser, dbpass),
		Endpoint:       endpoint,
		ContentType:    connection.ApplicationJSON,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: true, // #nosec G402
			},
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 90 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

// InitializeDatabase connects to the db engine, creating the database, collections and indexes
func InitializeDatabase(ctx context.Context, opts Options) (DBConnection, error) {
	const initialInterval = 10 * time.Second
	const maxInterval = 2 * time.Minute

	var client arangodb.Client

	// Configure exponential backoff
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialInterval
	bo.MaxInterval = maxInterval
	bo.MaxElapsedTime = 0 // Set to 0 for indefinite retries

	err := backoff.RetryNotify(func() error {
		endpoint := connection.NewRoundRobinEndpoints([]string{opts.URL})
		conn := connection.NewHttpConnection(dbConnectionConfig(endpoint, opts.User, opts.Password))

		client = arangodb.NewClient(conn)

		versionInfo, err := client.Version(ctx)
		if err != nil {
			return err
		}

		logger.Sugar().Infof("Database has version '%s' and license '%s'", versionInfo.Version, versionInfo.License)
		return nil
	}, backoff.WithContext(bo, ctx), func(err error, wait time.Duration) {
		logger.Sugar().Infof("Retrying connection to ArangoDB in %s: %v", wait, err)
	})
	if err != nil {
		return DBConnection{}, err
	}

	var db arangodb.Database
	exists := false
	dblist, err := client.Databases(ctx)
	if err != nil {
		return DBConnection{}, err
	}
	for _, dbinfo := range dblist {
		if dbinfo.Name() == opts.Database {
			exists = true
			break
		}
	}
	if exists {
		db, err = client.GetDatabase(ctx, opts.Database, &arangodb.GetDatabaseOptions{})
	} else {
		db, err = client.CreateDatabase(ctx, opts.Database, nil)
	}
	if err != nil {
		return DBConnection{}, err
	}

	collections := make(map[string]arangodb.Collection)
	for _, collectionName := range []string{FindingCollection, VulnerabilityCollection} {
		var col arangodb.Collection

		exists, _ = db.CollectionExists(ctx, collectionName)
		if exists {
			col, err = db.GetCollection(ctx, collectionName, &arangodb.GetCollectionOptions{})
		} else {
			col, err = db.CreateCollection(ctx, collectionName, nil)
		}
		if err != nil {
			return DBConnection{}, err
		}
		collections[collectionName] = col
	}

	for _, idx := range retiredIndexes {
		if err := dropIndex(ctx, collections[idx.Collection], idx); err != nil {
			return DBConnection{}, err
		}
	}
	for _, idx := range indexes {
		if err := ensureIndex(ctx, collections[idx.Collection], idx); err != nil {
			return DBConnection{}, err
		}
	}

	logger.Sugar().Infof("Database initialization complete")

	return DBConnection{
		Database:    db,
		Collections: collections,
	}, nil
}

func dropIndex(ctx context.Context, col arangodb.Collection, idx indexConfig) error {
	existing, err := col.Indexes(ctx)
	if err != nil {
		return err
	}
	for _, index := range existing {
		if index.Name != idx.IdxName {
			continue
		}
		if err := col.DeleteIndex(ctx, idx.IdxName); err != nil {
			return err
		}
		logger.Sugar().Infof("Dropped index: %s on %s", idx.IdxName, idx.Collection)
	}
	return nil
}

func ensureIndex(ctx context.Context, col arangodb.Collection, idx indexConfig) error {
	if existing, err := col.Indexes(ctx); err == nil {
		for _, index := range existing {
			if index.Name == idx.IdxName {
				return nil
			}
		}
	}

	unique := idx.Unique
	sparse := idx.Sparse
	indexOptions := arangodb.CreatePersistentIndexOptions{
		Unique: &unique,
		Sparse: &sparse,
		Name:   idx.IdxName,
	}
	if _, _, err := col.EnsurePersistentIndex(ctx, idx.IdxFields, &indexOptions); err != nil {
		return err
	}
	logger.Sugar().Infof("Created index: %s on %s", idx.IdxName, idx.Collection)
	return nil
}
