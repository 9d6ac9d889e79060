package proofdb

import (
	"context"
	"log"

	"github.com/uptrace/bun"

	"github.com/chainsafe/docproof/pkg/identitystore"
	mghelper "github.com/chainsafe/docproof/pkg/pgutil/migrations"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		log.Println("creating identities table...")
		if err := mghelper.CreateSchema(ctx, db, &identitystore.IdentityDao{}); err != nil {
			return err
		}
		return mghelper.CreateModelIndexes(ctx, db, &identitystore.IdentityDao{}, "state")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping identities table...")
		return mghelper.DropTables(ctx, db, &identitystore.IdentityDao{})
	})
}
