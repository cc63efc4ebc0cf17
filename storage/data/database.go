// Copyright 2026 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package data

import (
	"context"
	"database/sql"
	"net/url"
	"strings"
	"time"

	"github.com/XSAM/otelsql"
	"github.com/gorse-io/fmeval/base/log"
	"github.com/gorse-io/fmeval/dataset"
	"github.com/gorse-io/fmeval/storage"
	"github.com/juju/errors"
	_ "github.com/lib/pq"
	_ "github.com/mailru/go-clickhouse/v2"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/driver/clickhouse"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
	"moul.io/zapgorm2"
)

type SQLDriver int

const (
	MySQL SQLDriver = iota
	Postgres
	ClickHouse
	SQLite
)

func (d SQLDriver) String() string {
	switch d {
	case MySQL:
		return "mysql"
	case Postgres:
		return "postgresql"
	case ClickHouse:
		return "clickhouse"
	case SQLite:
		return "sqlite"
	default:
		return "unknown"
	}
}

// SQLSource reads observations and categorizations from a relational database.
type SQLSource struct {
	driver SQLDriver
	client *sql.DB
	gormDB *gorm.DB
}

// Open connects to a database by its URL.
func Open(path string) (*SQLSource, error) {
	var err error
	source := new(SQLSource)
	spanOptions := otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true})
	switch {
	case storage.HasPrefix(path, storage.MySQLPrefix):
		name := path[len(storage.MySQLPrefix):]
		if name, err = storage.AppendMySQLParams(name, map[string]string{"parseTime": "true"}); err != nil {
			return nil, errors.Trace(err)
		}
		source.driver = MySQL
		if source.client, err = otelsql.Open("mysql", name,
			otelsql.WithAttributes(attribute.String("db.system", source.driver.String())),
			spanOptions,
		); err != nil {
			return nil, errors.Trace(err)
		}
		source.gormDB, err = gorm.Open(mysql.New(mysql.Config{Conn: source.client}), storage.NewGORMConfig())
	case storage.HasPrefix(path, storage.PostgresPrefix, storage.PostgreSQLPrefix):
		source.driver = Postgres
		if source.client, err = otelsql.Open("postgres", path,
			otelsql.WithAttributes(attribute.String("db.system", source.driver.String())),
			spanOptions,
		); err != nil {
			return nil, errors.Trace(err)
		}
		source.gormDB, err = gorm.Open(postgres.New(postgres.Config{Conn: source.client}), storage.NewGORMConfig())
	case storage.HasPrefix(path, storage.ClickhousePrefix, storage.CHHTTPPrefix, storage.CHHTTPSPrefix):
		// replace schema
		parsed, err := url.Parse(path)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if strings.HasPrefix(path, storage.CHHTTPSPrefix) {
			parsed.Scheme = "https"
		} else {
			parsed.Scheme = "http"
		}
		source.driver = ClickHouse
		if source.client, err = otelsql.Open("chhttp", parsed.String(),
			otelsql.WithAttributes(attribute.String("db.system", source.driver.String())),
			spanOptions,
		); err != nil {
			return nil, errors.Trace(err)
		}
		if source.gormDB, err = gorm.Open(clickhouse.New(clickhouse.Config{Conn: source.client}), storage.NewGORMConfig()); err != nil {
			return nil, errors.Trace(err)
		}
	case storage.HasPrefix(path, storage.SQLitePrefix):
		// append parameters
		if path, err = storage.AppendURLParams(path, []lo.Tuple2[string, string]{
			{A: "_pragma", B: "busy_timeout(10000)"},
		}); err != nil {
			return nil, errors.Trace(err)
		}
		name := path[len(storage.SQLitePrefix):]
		source.driver = SQLite
		if source.client, err = otelsql.Open("sqlite", name,
			otelsql.WithAttributes(attribute.String("db.system", source.driver.String())),
			spanOptions,
		); err != nil {
			return nil, errors.Trace(err)
		}
		gormConfig := storage.NewGORMConfig()
		gormConfig.Logger = &zapgorm2.Logger{
			ZapLogger:     log.Logger(),
			LogLevel:      logger.Warn,
			SlowThreshold: 10 * time.Second,
		}
		source.gormDB, err = gorm.Open(sqlite.Dialector{Conn: source.client}, gormConfig)
	default:
		return nil, errors.Errorf("unknown database: %s", log.RedactDBURL(path))
	}
	if err != nil {
		return nil, errors.Trace(err)
	}
	log.Logger().Info("connect to database",
		zap.String("driver", source.driver.String()),
		zap.String("url", log.RedactDBURL(path)))
	return source, nil
}

func (s *SQLSource) Driver() SQLDriver {
	return s.driver
}

func (s *SQLSource) Close() error {
	return s.client.Close()
}

// selectPairs reads two columns from a table. NULL values are read as empty strings.
func (s *SQLSource) selectPairs(ctx context.Context, table, first, second string, handler func(a, b string)) error {
	rows, err := s.gormDB.WithContext(ctx).
		Table(table).
		Select("?, ?", clause.Column{Name: first}, clause.Column{Name: second}).
		Rows()
	if err != nil {
		return errors.Trace(err)
	}
	defer rows.Close()
	for rows.Next() {
		var a, b sql.NullString
		if err = rows.Scan(&a, &b); err != nil {
			return errors.Trace(err)
		}
		handler(a.String, b.String)
	}
	return errors.Trace(rows.Err())
}

// LoadObservations reads user-item pairs from a table.
func (s *SQLSource) LoadObservations(ctx context.Context, table, userField, itemField string) ([]dataset.Observation, error) {
	var observations []dataset.Observation
	start := time.Now()
	err := s.selectPairs(ctx, table, userField, itemField, func(userId, itemId string) {
		observations = append(observations, dataset.Observation{UserId: userId, ItemId: itemId})
	})
	if err != nil {
		return nil, errors.Annotatef(err, "load observations from %s", table)
	}
	log.Logger().Info("load observations",
		zap.String("table", table),
		zap.Int("n_observations", len(observations)),
		zap.Duration("used_time", time.Since(start)))
	return observations, nil
}

// LoadCategorizations reads item-category pairs from a table.
func (s *SQLSource) LoadCategorizations(ctx context.Context, table, itemField, categoryField string) ([]dataset.Categorization, error) {
	var categorizations []dataset.Categorization
	err := s.selectPairs(ctx, table, itemField, categoryField, func(itemId, category string) {
		categorizations = append(categorizations, dataset.Categorization{ItemId: itemId, Category: category})
	})
	if err != nil {
		return nil, errors.Annotatef(err, "load categorizations from %s", table)
	}
	log.Logger().Info("load categorizations",
		zap.String("table", table),
		zap.Int("n_categorizations", len(categorizations)))
	return categorizations, nil
}
