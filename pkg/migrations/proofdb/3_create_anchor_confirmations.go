package proofdb

import (
	"context"
	"log"

	"github.com/uptrace/bun"

	mghelper "github.com/chainsafe/docproof/pkg/pgutil/migrations"
	"github.com/chainsafe/docproof/pkg/recordstore"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		log.Println("creating anchor_confirmations table...")
		if err := mghelper.CreateSchema(ctx, db, &recordstore.AnchorConfirmationDao{}); err != nil {
			return err
		}
		return mghelper.CreateModelIndexes(ctx, db, &recordstore.AnchorConfirmationDao{}, "status", "updated_at")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping anchor_confirmations table...")
		return mghelper.DropTables(ctx, db, &recordstore.AnchorConfirmationDao{})
	})
}
