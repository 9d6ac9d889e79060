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
		log.Println("creating proof_records table...")
		if err := mghelper.CreateSchema(ctx, db, &recordstore.RecordDao{}); err != nil {
			return err
		}
		return mghelper.CreateModelIndexes(ctx, db, &recordstore.RecordDao{}, "fingerprint_hash", "signer_did", "created_at")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping proof_records table...")
		return mghelper.DropTables(ctx, db, &recordstore.RecordDao{})
	})
}
