package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chainsafe/docproof/internal/metrics"
	"github.com/chainsafe/docproof/pkg/anchor"
	apperrors "github.com/chainsafe/docproof/pkg/app/errors"
	"github.com/chainsafe/docproof/pkg/blobstore"
	"github.com/chainsafe/docproof/pkg/commitment"
	"github.com/chainsafe/docproof/pkg/evidence"
	"github.com/chainsafe/docproof/pkg/fingerprint"
	"github.com/chainsafe/docproof/pkg/identity"
	"github.com/chainsafe/docproof/pkg/record"
	"github.com/chainsafe/docproof/pkg/trust"
)

var (
	ErrNoFiles            = errors.New("at least one file is required")
	ErrSecondaryOnly      = errors.New("secondary network requires a primary network")
	ErrMethodNotAvailable = errors.New("verification method not configured")
)

// Submit fingerprints the request files, runs every requested method and
// writes the resulting record once. Only content and configuration errors
// are returned; a failing method is recorded as Invalid on the record.
func (e *Engine) Submit(ctx context.Context, req *Request) (*record.Record, error) {
	start := e.now()
	if err := e.validate(req); err != nil {
		return nil, err
	}

	fp, members, err := e.fingerprint(req)
	if err != nil {
		return nil, err
	}

	var (
		proofRes  proofResult
		sigStatus = trust.NotRequestedStatus()
		rec       = &record.Record{ID: uuid.New(), Fingerprint: fp, Description: req.Description}
	)
	if len(members) > 1 {
		rec.Files = members
	}

	g, gctx := errgroup.WithContext(ctx)
	if req.GenerateProof {
		g.Go(func() error {
			proofRes = e.prove(fp, req.ProofSystem)
			return nil
		})
	}
	if req.SignerDID != "" {
		g.Go(func() error {
			sig, status, err := e.sign(gctx, req, fp)
			if err != nil {
				return err
			}
			rec.Signature, sigStatus = sig, status
			return nil
		})
	}
	if req.PrimaryNetwork != "" {
		g.Go(func() error {
			c, err := e.anchor(gctx, req, fp)
			if err != nil {
				return err
			}
			rec.Consensus = c
			return nil
		})
	}
	if req.StoreContent {
		g.Go(func() error {
			rec.Contents = e.storeContent(gctx, req.Files)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	anchors := evidence.AnchorStatuses(fp.Hash, rec.Consensus, trust.NetworkConfirmed)
	if proofRes.commitment != nil {
		rec.Commitment, rec.Proof = proofRes.commitment.Public(), proofRes.proof
	}
	rec.Methods = trust.Evidence{
		PrimaryAnchor:        anchors.Primary,
		SecondaryAnchor:      anchors.Secondary,
		Consensus:            anchors.Consensus,
		Proof:                proofRes.status,
		Signature:            sigStatus,
		TimestampValid:       true,
		TamperSignatureValid: true,
	}
	c := e.trust.Classify(rec.Methods)
	rec.Level, rec.TrustScore, rec.CourtAdmissible = c.Level, c.TrustScore, c.CourtAdmissible
	rec.CreatedAt = e.now().UTC()

	if err := e.store.SaveRecord(ctx, rec); err != nil {
		if errors.Is(err, record.ErrRecordExists) {
			return nil, apperrors.ConflictError(err, "proof record already exists")
		}
		return nil, fmt.Errorf("failed to save proof record: %w", err)
	}

	e.observe(rec, "submit", e.now().Sub(start))
	e.logger.Info("proof record created",
		zap.String("record_id", rec.ID.String()),
		zap.String("fingerprint", fp.Hash),
		zap.String("level", string(rec.Level)),
		zap.Int("trust_score", rec.TrustScore))
	return rec, nil
}

func (e *Engine) validate(req *Request) error {
	if req == nil || len(req.Files) == 0 {
		return apperrors.ContentError(ErrNoFiles, "no files submitted")
	}
	if req.SecondaryNetwork != "" && req.PrimaryNetwork == "" {
		return apperrors.BadRequestError(ErrSecondaryOnly, "secondary network without primary")
	}
	if req.PrimaryNetwork != "" && e.anchorer == nil {
		return apperrors.BadRequestError(ErrMethodNotAvailable, "anchoring is not configured")
	}
	if req.SignerDID != "" && e.signer == nil {
		return apperrors.BadRequestError(ErrMethodNotAvailable, "signing is not configured")
	}
	if req.StoreContent && e.blobs == nil {
		return apperrors.BadRequestError(ErrMethodNotAvailable, "content storage is not configured")
	}
	if req.GenerateProof {
		system := req.ProofSystem
		if system == "" {
			system = e.defaultSystem
		}
		if _, err := commitment.SchemeFor(system); err != nil {
			return apperrors.BadRequestError(err, "unknown proof system")
		}
	}
	return nil
}

// fingerprint returns the record fingerprint and, for bundles, the members it
// was merged from.
func (e *Engine) fingerprint(req *Request) (*fingerprint.Fingerprint, []*fingerprint.Fingerprint, error) {
	files := make([][]byte, len(req.Files))
	for i, f := range req.Files {
		files[i] = f.Data
	}
	members, err := e.fingerprinter.FingerprintMany(files)
	if err != nil {
		return nil, nil, err
	}
	if len(members) == 1 {
		return members[0], members, nil
	}
	merged, err := e.fingerprinter.MergeFingerprints(members, req.Description)
	if err != nil {
		return nil, nil, err
	}
	return merged, members, nil
}

type proofResult struct {
	commitment *commitment.Commitment
	proof      *commitment.Proof
	status     trust.Status
}

func (e *Engine) prove(fp *fingerprint.Fingerprint, system commitment.System) proofResult {
	if system == "" {
		system = e.defaultSystem
	}
	res := proofResult{status: trust.NotRequestedStatus()}
	scheme, err := commitment.SchemeFor(system)
	if err != nil {
		res.status = trust.FailedStatus(apperrors.CryptoVerificationError(err, "proof generation failed"))
		return res
	}
	c, err := commitment.Commit(fp, scheme)
	if err != nil {
		res.status = trust.FailedStatus(apperrors.CryptoVerificationError(err, "commitment failed"))
		return res
	}
	p, err := commitment.Prove(fp, c, system)
	if err != nil {
		res.commitment = c
		res.status = trust.FailedStatus(apperrors.CryptoVerificationError(err, "proof generation failed"))
		return res
	}
	res.commitment, res.proof = c, p
	res.status = evidence.Proof(p, c.Public(), fp.Hash)
	return res
}

func (e *Engine) sign(ctx context.Context, req *Request, fp *fingerprint.Fingerprint) (*identity.Signature, trust.Status, error) {
	sig, err := e.signer.Sign(ctx, req.SignerDID, fp, req.Claims)
	if err != nil {
		if aborts(err) {
			return nil, trust.Status{}, err
		}
		e.logger.Warn("signing failed", zap.String("did", req.SignerDID), zap.Error(err))
		return nil, trust.FailedStatus(err), nil
	}
	return sig, evidence.Signature(ctx, sig, fp.Hash, e.directory), nil
}

func (e *Engine) anchor(ctx context.Context, req *Request, fp *fingerprint.Fingerprint) (*anchor.Consensus, error) {
	if req.SecondaryNetwork == "" {
		r, err := e.anchorer.SubmitAnchor(ctx, fp, req.PrimaryNetwork)
		if err != nil {
			return nil, err
		}
		metrics.AnchorReceipts.WithLabelValues(r.Network, string(r.Status)).Inc()
		return anchor.EvaluateConsensus([]*anchor.Receipt{r}, true), nil
	}
	c, err := e.anchorer.SubmitDoubleAnchor(ctx, fp, req.PrimaryNetwork, req.SecondaryNetwork, req.RequireBoth)
	if err != nil {
		return nil, err
	}
	for _, r := range c.Receipts {
		metrics.AnchorReceipts.WithLabelValues(r.Network, string(r.Status)).Inc()
	}
	return c, nil
}

// storeContent uploads every file. Upload failures are logged and leave the
// record without content references.
func (e *Engine) storeContent(ctx context.Context, files []File) []record.ContentRef {
	refs := make([]record.ContentRef, 0, len(files))
	for _, f := range files {
		obj, err := e.blobs.Store(ctx, f.Data, blobstore.Metadata{Filename: f.Name, ContentType: f.ContentType})
		if err != nil {
			e.logger.Warn("failed to store document content", zap.String("file", f.Name), zap.Error(err))
			metrics.ErrorsTotal.WithLabelValues("blobstore", apperrors.Kind(err)).Inc()
			return nil
		}
		refs = append(refs, record.ContentRef{Name: f.Name, ContentID: obj.ContentID, URL: obj.URL, Size: obj.Size})
	}
	return refs
}

// aborts reports whether err is a request or configuration problem rather
// than a method failure.
func aborts(err error) bool {
	return apperrors.Is(err, apperrors.CategoryDataError) || apperrors.Is(err, apperrors.CategoryResourceNotFound)
}

func (e *Engine) observe(rec *record.Record, mode string, took time.Duration) {
	if mode == "submit" {
		metrics.ProofsSubmitted.WithLabelValues(string(rec.Level)).Inc()
		metrics.SubmitDuration.Observe(took.Seconds())
	}
	metrics.TrustScore.WithLabelValues(mode).Observe(float64(rec.TrustScore))
	for _, m := range rec.Report() {
		metrics.MethodOutcomes.WithLabelValues(mode, string(m.Method), string(m.State)).Inc()
	}
}
