// Package proofdb holds all the migrations for the proof database
package proofdb

import (
	"github.com/uptrace/bun/migrate"
)

// Migrations is the collection of all migrations for the proof database
var Migrations = migrate.NewMigrations()
