package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chainsafe/docproof/pkg/engine"
	"github.com/chainsafe/docproof/pkg/identity"
	"github.com/chainsafe/docproof/pkg/offline"
	"github.com/chainsafe/docproof/pkg/record"
)

const serviceName = "ProofService"

// logService wraps Service with automatic logging of all method calls
type logService struct {
	svc    Service
	logger *zap.Logger
}

// NewLog creates a logging decorator for the proof Service. Document bytes
// and claims are never logged.
func NewLog(svc Service, logger *zap.Logger) Service {
	return &logService{
		svc:    svc,
		logger: logger,
	}
}

// done logs the outcome of method. Errors are logged at error level.
func (ls *logService) done(method string, start time.Time, err error, fields ...zap.Field) {
	fields = append(fields,
		zap.String("service", serviceName),
		zap.String("method", method),
		zap.Duration("duration", time.Since(start)),
	)
	if err != nil {
		ls.logger.Error(method+" failed", append(fields, zap.Error(err))...)
		return
	}
	ls.logger.Info(method+" completed", fields...)
}

func (ls *logService) Submit(ctx context.Context, req *engine.Request) (rec *record.Record, err error) {
	start := time.Now()
	var size int
	for _, f := range req.Files {
		size += len(f.Data)
	}
	ls.logger.Info("Submit started",
		zap.String("service", serviceName),
		zap.Int("files", len(req.Files)),
		zap.Int("bytes", size),
		zap.Bool("zk", req.GenerateProof),
		zap.String("did", req.SignerDID),
		zap.String("anchor", req.PrimaryNetwork),
		zap.String("secondary_anchor", req.SecondaryNetwork),
		zap.Bool("store_content", req.StoreContent),
	)

	defer func() {
		if err != nil {
			ls.done("Submit", start, err)
			return
		}
		ls.done("Submit", start, nil,
			zap.String("record_id", rec.ID.String()),
			zap.String("fingerprint", rec.Fingerprint.Hash),
			zap.String("level", string(rec.Level)),
			zap.Int("trust_score", rec.TrustScore),
			zap.Bool("court_admissible", rec.CourtAdmissible),
		)
	}()

	return ls.svc.Submit(ctx, req)
}

func (ls *logService) GetRecord(ctx context.Context, id uuid.UUID) (rec *record.Record, err error) {
	start := time.Now()
	defer func() {
		ls.done("GetRecord", start, err, zap.String("record_id", id.String()))
	}()
	return ls.svc.GetRecord(ctx, id)
}

func (ls *logService) Verify(ctx context.Context, id uuid.UUID, challenge []byte) (res *engine.Verification, err error) {
	start := time.Now()
	defer func() {
		fields := []zap.Field{zap.String("record_id", id.String()), zap.Bool("challenge", challenge != nil)}
		if err == nil {
			fields = append(fields,
				zap.String("level", string(res.Level)),
				zap.Int("trust_score", res.TrustScore),
				zap.Int("failed_methods", len(res.Failed)),
			)
		}
		ls.done("Verify", start, err, fields...)
	}()
	return ls.svc.Verify(ctx, id, challenge)
}

func (ls *logService) OfflinePackage(ctx context.Context, id uuid.UUID) (payload []byte, err error) {
	start := time.Now()
	defer func() {
		ls.done("OfflinePackage", start, err, zap.String("record_id", id.String()), zap.Int("bytes", len(payload)))
	}()
	return ls.svc.OfflinePackage(ctx, id)
}

func (ls *logService) VerifyOffline(ctx context.Context, payload, challenge []byte) (res *offline.Result, err error) {
	start := time.Now()
	defer func() {
		fields := []zap.Field{zap.Int("bytes", len(payload)), zap.Bool("challenge", challenge != nil)}
		if err == nil {
			fields = append(fields,
				zap.String("record_id", res.RecordID),
				zap.Bool("tamper_signature_valid", res.TamperSignatureValid),
				zap.Int("trust_score", res.TrustScore),
			)
		}
		ls.done("VerifyOffline", start, err, fields...)
	}()
	return ls.svc.VerifyOffline(ctx, payload, challenge)
}

func (ls *logService) CreateIdentity(ctx context.Context, cfg identity.Config) (ident *identity.Identity, err error) {
	start := time.Now()
	defer func() {
		fields := []zap.Field{zap.String("key_type", string(cfg.KeyType))}
		if err == nil {
			fields = append(fields, zap.String("did", ident.DID))
		}
		ls.done("CreateIdentity", start, err, fields...)
	}()
	return ls.svc.CreateIdentity(ctx, cfg)
}

func (ls *logService) GetIdentity(ctx context.Context, did string) (ident *identity.Identity, err error) {
	start := time.Now()
	defer func() {
		ls.done("GetIdentity", start, err, zap.String("did", did))
	}()
	return ls.svc.GetIdentity(ctx, did)
}

func (ls *logService) RevokeIdentity(ctx context.Context, did string) (ident *identity.Identity, err error) {
	start := time.Now()
	defer func() {
		ls.done("RevokeIdentity", start, err, zap.String("did", did))
	}()
	return ls.svc.RevokeIdentity(ctx, did)
}
