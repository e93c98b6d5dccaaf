// Copyright 2025 The mescore authors
// SPDX-License-Identifier: Apache-2.0

package db

import (
	"database/sql"
	"log"
	"os"
	"testing"

	"github.com/go-gorp/gorp"
	_ "github.com/mattn/go-sqlite3"

	"github.com/mescore-dev/mescore/internal/db"
)

type DBEnv struct {
	*db.DB
	Close func()
}

// SetupDBEnv returns a throwaway sqlite database for tests.
func SetupDBEnv(t *testing.T) DBEnv {
	tmpDir := t.TempDir()
	sqlDB, err := sql.Open("sqlite3", tmpDir+"/test.db")
	if err != nil {
		t.Fatal(err)
	}
	var env DBEnv
	env.DB = &db.DB{}
	env.DB.DbMap = &gorp.DbMap{Db: sqlDB, Dialect: gorp.SqliteDialect{}}
	env.Close = func() {
		env.DB.Close()
	}
	if os.Getenv("MESCORE_TEST_TRACE_SQL") == "1" {
		env.DB.DbMap.TraceOn("[gorp]", log.New(os.Stdout, "mescore:", log.Lmicroseconds))
	}
	return env
}
